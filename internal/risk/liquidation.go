package risk

import (
	"context"
	"math"
	"math/big"

	fpmath "PowerVault/internal/math"
	"PowerVault/internal/vaultlib"

	"golang.org/x/sync/errgroup"
)

// Price bracket searched when an LP position makes the collateral value
// depend on the ETH price.
const (
	MinSearchPrice = 500.0
	MaxSearchPrice = 30000.0
)

var logTickBase = math.Log(1.0001)

// VaultInput is a vault in whole units: ETH for collateral, debt-token units
// for short, plain ratios for nf and the collateral ratio.
type VaultInput struct {
	VaultID             uint64
	Collateral          float64
	Short               float64
	NormalizationFactor float64
	CollateralRatio     float64
	IndexScale          float64

	Position     *vaultlib.Position
	WethIsToken0 bool
}

// NewVaultInput converts wad amounts. indexScale is a plain integer.
func NewVaultInput(collateral, short, nf, ratio, indexScale *big.Int) VaultInput {
	scale, _ := new(big.Float).SetInt(indexScale).Float64()
	return VaultInput{
		Collateral:          fpmath.WadToFloat(collateral),
		Short:               fpmath.WadToFloat(short),
		NormalizationFactor: fpmath.WadToFloat(nf),
		CollateralRatio:     fpmath.WadToFloat(ratio),
		IndexScale:          scale,
	}
}

// debtPerPrice is the ETH debt value per unit of ETH price.
func (in VaultInput) debtPerPrice() float64 {
	return in.Short * in.NormalizationFactor / in.IndexScale
}

// LiquidationPrice returns the ETH price at which the vault reaches its
// required collateral ratio. A vault without debt has none: (0, false).
func LiquidationPrice(in VaultInput) (float64, bool) {
	if in.Short <= 0 || in.NormalizationFactor <= 0 || in.CollateralRatio <= 0 || in.IndexScale <= 0 {
		return 0, false
	}
	if in.Position == nil {
		return in.Collateral / (in.debtPerPrice() * in.CollateralRatio), true
	}

	f := func(price float64) float64 {
		return price - (PositionValue(in, price)+in.Collateral)/(in.debtPerPrice()*in.CollateralRatio)
	}
	return Bisect(f, MinSearchPrice, MaxSearchPrice, DefaultMaxIterations, DefaultTolerance)
}

// PositionValue values the LP position in ETH assuming wPowerPerp trades at
// its index, nf × price / scale.
func PositionValue(in VaultInput, ethPrice float64) float64 {
	if in.Position == nil || ethPrice <= 0 {
		return 0
	}
	powerPerpInEth := in.NormalizationFactor * ethPrice / in.IndexScale
	if powerPerpInEth <= 0 {
		return 0
	}

	// Pool price is token1 per token0.
	poolPrice := powerPerpInEth
	if in.WethIsToken0 {
		poolPrice = 1 / powerPerpInEth
	}
	tick := clampTick(math.Floor(math.Log(poolPrice) / logTickBase))

	weth, powerPerp, err := vaultlib.PositionBalances(*in.Position, tick, in.WethIsToken0)
	if err != nil {
		return 0
	}
	return fpmath.WadToFloat(weth) + fpmath.WadToFloat(powerPerp)*powerPerpInEth
}

func clampTick(t float64) int32 {
	switch {
	case math.IsNaN(t):
		return 0
	case t < float64(fpmath.MinTick):
		return fpmath.MinTick
	case t > float64(fpmath.MaxTick):
		return fpmath.MaxTick
	}
	return int32(t)
}

// BatchLiquidationPrices solves every input concurrently, at most limit at a
// time. Results keep input order.
func BatchLiquidationPrices(ctx context.Context, inputs []VaultInput, limit int) ([]Result, error) {
	results := make([]Result, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range inputs {
		in := inputs[i]
		idx := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			price, ok := LiquidationPrice(in)
			results[idx] = Result{Value: price, Converged: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
