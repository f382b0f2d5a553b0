package vaultlib

import (
	"math/big"

	fpmath "PowerVault/internal/math"
)

// Prices is the market snapshot a vault is valued against.
type Prices struct {
	// EthPrice is quote per ETH as a wad.
	EthPrice *big.Int
	// NormalizationFactor converts debt-token units into index debt.
	NormalizationFactor *big.Int
	// PowerPerpPoolTick is the TWAP tick of the wPowerPerp/WETH pool, used
	// to decompose LP collateral.
	PowerPerpPoolTick int32
	// IndexScale divides ETH^2 to keep the index in a practical range.
	IndexScale *big.Int
}

// Requirements are the parameters a vault is checked against.
type Requirements struct {
	// CollateralRatio is the required effective/debt ratio as a wad (1.5e18).
	CollateralRatio *big.Int
	// MinCollateral is the floor for any vault carrying debt.
	MinCollateral *big.Int
}

// LPBalances is an attached position decomposed into vault terms.
type LPBalances struct {
	Eth       *big.Int
	PowerPerp *big.Int
}

// DebtValueInEth prices debt-token units in ETH, rounding up:
// short * nf * ethPrice / (1e36 * indexScale).
func DebtValueInEth(short, nf, ethPrice, indexScale *big.Int) *big.Int {
	if fpmath.IsZero(short) {
		return new(big.Int)
	}
	den := new(big.Int).Mul(fpmath.WadSq, indexScale)
	return fpmath.MulMulDiv(short, nf, ethPrice, den, fpmath.RoundUp)
}

// CollateralValueOfPowerPerp prices wPowerPerp held as collateral, rounding
// down so collateral is never overstated.
func CollateralValueOfPowerPerp(amount, nf, ethPrice, indexScale *big.Int) *big.Int {
	if fpmath.IsZero(amount) {
		return new(big.Int)
	}
	den := new(big.Int).Mul(fpmath.WadSq, indexScale)
	return fpmath.MulMulDiv(amount, nf, ethPrice, den, fpmath.RoundDown)
}

// Status summarises a vault against its requirements.
type Status struct {
	EffectiveCollateral *big.Int
	DebtValue           *big.Int
	// CollateralRatio is effective/debt as a wad; nil when there is no debt.
	CollateralRatio *big.Int
	IsSafe          bool
	IsDust          bool
}

// Evaluate values collateral + LP balances against debt.
func Evaluate(collateral, short *big.Int, lp *LPBalances, prices Prices, req Requirements) Status {
	effective := fpmath.Clone(collateral)
	if lp != nil {
		effective.Add(effective, fpmath.Clone(lp.Eth))
		effective.Add(effective, CollateralValueOfPowerPerp(lp.PowerPerp, prices.NormalizationFactor, prices.EthPrice, prices.IndexScale))
	}
	debt := DebtValueInEth(short, prices.NormalizationFactor, prices.EthPrice, prices.IndexScale)

	st := Status{EffectiveCollateral: effective, DebtValue: debt}
	if debt.Sign() == 0 {
		st.IsSafe = true
		return st
	}

	st.CollateralRatio = fpmath.WadDiv(effective, debt, fpmath.RoundDown)
	required := fpmath.WadMul(debt, req.CollateralRatio, fpmath.RoundUp)
	st.IsSafe = effective.Cmp(required) >= 0
	st.IsDust = effective.Cmp(req.MinCollateral) < 0
	return st
}

// Decompose turns an LP position into (eth, wPowerPerp) amounts at tick.
func Decompose(pos Position, tick int32, wethIsToken0 bool) (*LPBalances, error) {
	eth, powerPerp, err := PositionBalances(pos, tick, wethIsToken0)
	if err != nil {
		return nil, err
	}
	return &LPBalances{Eth: eth, PowerPerp: powerPerp}, nil
}
