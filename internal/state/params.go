package state

import (
	"fmt"
	"math/big"

	fpmath "PowerVault/internal/math"
)

// EngineParams are the fixed economic parameters of one engine instance.
// Wad fields are 1e18-scaled ratios.
type EngineParams struct {
	CollateralRatio  *big.Int // 1.5 = 150%
	MinCollateral    *big.Int // wei; vaults with debt below this are dust
	LiquidationBonus *big.Int // 1.1 = collateral paid per unit of debt value
	ReduceDebtBounty *big.Int // 0.02 of redeemed LP value
	MaxFeeRateBPS    uint32
	FundingPeriod    int64  // seconds
	TwapPeriod       uint32 // seconds
	PauseBudget      uint32
	PauseTimeLimit   int64    // seconds
	IndexScale       *big.Int // divides ethPrice² to get the index
	LowerMarkRatio   *big.Int
	UpperMarkRatio   *big.Int
}

// DefaultParams returns the production parameter set.
func DefaultParams() *EngineParams {
	return &EngineParams{
		CollateralRatio:  fpmath.WadFromRatio(3, 2),
		MinCollateral:    fpmath.WadFromRatio(69, 10),
		LiquidationBonus: fpmath.WadFromRatio(11, 10),
		ReduceDebtBounty: fpmath.WadFromRatio(2, 100),
		MaxFeeRateBPS:    200,
		FundingPeriod:    420 * 3600,
		TwapPeriod:       420,
		PauseBudget:      4,
		PauseTimeLimit:   7 * 24 * 3600,
		IndexScale:       big.NewInt(10_000),
		LowerMarkRatio:   new(big.Int).Set(fpmath.Wad),
		UpperMarkRatio:   fpmath.WadFromRatio(14, 10),
	}
}

// Clone returns a deep copy.
func (p *EngineParams) Clone() *EngineParams {
	out := *p
	out.CollateralRatio = fpmath.Clone(p.CollateralRatio)
	out.MinCollateral = fpmath.Clone(p.MinCollateral)
	out.LiquidationBonus = fpmath.Clone(p.LiquidationBonus)
	out.ReduceDebtBounty = fpmath.Clone(p.ReduceDebtBounty)
	out.IndexScale = fpmath.Clone(p.IndexScale)
	out.LowerMarkRatio = fpmath.Clone(p.LowerMarkRatio)
	out.UpperMarkRatio = fpmath.Clone(p.UpperMarkRatio)
	return &out
}

// ValidateParams checks that engine parameters are within valid ranges:
// ratio > 1, bonus ≥ 1, 0 ≤ bounty < 1, lower ≤ 1 ≤ upper, periods > 0,
// index scale > 0, fee cap < 100%.
func ValidateParams(p *EngineParams) error {
	if p.CollateralRatio == nil || p.CollateralRatio.Cmp(fpmath.Wad) <= 0 {
		return fmt.Errorf("collateral_ratio must be > 1, got %v", p.CollateralRatio)
	}
	if p.MinCollateral == nil || p.MinCollateral.Sign() < 0 {
		return fmt.Errorf("min_collateral must be >= 0, got %v", p.MinCollateral)
	}
	if p.LiquidationBonus == nil || p.LiquidationBonus.Cmp(fpmath.Wad) < 0 {
		return fmt.Errorf("liquidation_bonus must be >= 1, got %v", p.LiquidationBonus)
	}
	if p.ReduceDebtBounty == nil || p.ReduceDebtBounty.Sign() < 0 || p.ReduceDebtBounty.Cmp(fpmath.Wad) >= 0 {
		return fmt.Errorf("reduce_debt_bounty must be in [0, 1), got %v", p.ReduceDebtBounty)
	}
	if p.MaxFeeRateBPS >= 10_000 {
		return fmt.Errorf("max_fee_rate_bps must be < 10000, got %d", p.MaxFeeRateBPS)
	}
	if p.FundingPeriod <= 0 {
		return fmt.Errorf("funding_period must be > 0, got %d", p.FundingPeriod)
	}
	if p.PauseTimeLimit <= 0 {
		return fmt.Errorf("pause_time_limit must be > 0, got %d", p.PauseTimeLimit)
	}
	if p.IndexScale == nil || p.IndexScale.Sign() <= 0 {
		return fmt.Errorf("index_scale must be > 0, got %v", p.IndexScale)
	}
	if p.LowerMarkRatio == nil || p.UpperMarkRatio == nil {
		return fmt.Errorf("mark ratio bounds are required")
	}
	if p.LowerMarkRatio.Sign() <= 0 || p.LowerMarkRatio.Cmp(fpmath.Wad) > 0 {
		return fmt.Errorf("lower_mark_ratio must be in (0, 1], got %v", p.LowerMarkRatio)
	}
	if p.UpperMarkRatio.Cmp(fpmath.Wad) < 0 {
		return fmt.Errorf("upper_mark_ratio must be >= 1, got %v", p.UpperMarkRatio)
	}
	return nil
}
