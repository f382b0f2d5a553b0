package config

import (
	"fmt"
	"math/big"
	"os"

	"PowerVault/internal/state"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ParamsFile is the YAML form of state.EngineParams. Ratios and ETH
// amounts are written in human units ("1.5", "6.9") and converted to wads
// exactly; omitted keys keep their defaults.
type ParamsFile struct {
	CollateralRatio  *string `yaml:"collateral_ratio"`
	MinCollateral    *string `yaml:"min_collateral"`
	LiquidationBonus *string `yaml:"liquidation_bonus"`
	ReduceDebtBounty *string `yaml:"reduce_debt_bounty"`
	MaxFeeRateBPS    *uint32 `yaml:"max_fee_rate_bps"`
	FundingPeriod    *int64  `yaml:"funding_period_seconds"`
	TwapPeriod       *uint32 `yaml:"twap_period_seconds"`
	PauseBudget      *uint32 `yaml:"pause_budget"`
	PauseTimeLimit   *int64  `yaml:"pause_time_limit_seconds"`
	IndexScale       *int64  `yaml:"index_scale"`
	LowerMarkRatio   *string `yaml:"lower_mark_ratio"`
	UpperMarkRatio   *string `yaml:"upper_mark_ratio"`
}

// LoadParams reads path over the defaults. An empty path yields the
// defaults.
func LoadParams(path string) (*state.EngineParams, error) {
	if path == "" {
		return state.DefaultParams(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}
	return ParseParams(data)
}

// ParseParams decodes YAML params and validates the result.
func ParseParams(data []byte) (*state.EngineParams, error) {
	var f ParamsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse params: %w", err)
	}

	p := state.DefaultParams()
	wads := []struct {
		name string
		src  *string
		dst  **big.Int
	}{
		{"collateral_ratio", f.CollateralRatio, &p.CollateralRatio},
		{"min_collateral", f.MinCollateral, &p.MinCollateral},
		{"liquidation_bonus", f.LiquidationBonus, &p.LiquidationBonus},
		{"reduce_debt_bounty", f.ReduceDebtBounty, &p.ReduceDebtBounty},
		{"lower_mark_ratio", f.LowerMarkRatio, &p.LowerMarkRatio},
		{"upper_mark_ratio", f.UpperMarkRatio, &p.UpperMarkRatio},
	}
	for _, w := range wads {
		if w.src == nil {
			continue
		}
		v, err := ParseWad(*w.src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", w.name, err)
		}
		*w.dst = v
	}

	if f.MaxFeeRateBPS != nil {
		p.MaxFeeRateBPS = *f.MaxFeeRateBPS
	}
	if f.FundingPeriod != nil {
		p.FundingPeriod = *f.FundingPeriod
	}
	if f.TwapPeriod != nil {
		p.TwapPeriod = *f.TwapPeriod
	}
	if f.PauseBudget != nil {
		p.PauseBudget = *f.PauseBudget
	}
	if f.PauseTimeLimit != nil {
		p.PauseTimeLimit = *f.PauseTimeLimit
	}
	if f.IndexScale != nil {
		p.IndexScale = big.NewInt(*f.IndexScale)
	}

	if err := state.ValidateParams(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseWad converts a decimal string into an 18-decimal fixed-point
// integer. More than 18 fractional digits is an error, not a rounding.
func ParseWad(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	scaled := d.Shift(18)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%q has more than 18 decimals", s)
	}
	return scaled.BigInt(), nil
}

// FormatWad renders a wad in human units.
func FormatWad(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -18).String()
}
