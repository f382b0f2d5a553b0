package risk_test

import (
	"context"
	"math"
	"math/big"
	"testing"
	"time"

	fpmath "PowerVault/internal/math"
	"PowerVault/internal/risk"
	"PowerVault/internal/vaultlib"

	"github.com/stretchr/testify/require"
)

func wad(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), fpmath.Wad)
}

func newTestInput(collateral, short float64, scale float64) risk.VaultInput {
	return risk.VaultInput{
		Collateral:          collateral,
		Short:               short,
		NormalizationFactor: 1,
		CollateralRatio:     1.5,
		IndexScale:          scale,
	}
}

// positionAboveRange holds only wPowerPerp (token0) for every price the
// solver visits.
func positionAboveRange(t *testing.T) vaultlib.Position {
	t.Helper()
	liq, err := vaultlib.Liquidity(fpmath.MustSqrtRatioAtTick(0), 20000, 20600, wad(2), new(big.Int))
	require.NoError(t, err)
	return vaultlib.Position{TickLower: 20000, TickUpper: 20600, Liquidity: liq}
}

// ============================================================================
// Test: Bisect
// ============================================================================

func TestBisect_FindsRoot(t *testing.T) {
	root, ok := risk.Bisect(func(x float64) float64 { return x*x - 2 }, 0, 2, 100, 1e-9)
	require.True(t, ok)
	require.InDelta(t, math.Sqrt2, root, 1e-8)
}

func TestBisect_NoSignChangeReturnsClosestEndpoint(t *testing.T) {
	root, ok := risk.Bisect(func(x float64) float64 { return 20 - x }, 0, 10, 100, 1e-9)
	require.False(t, ok)
	require.Equal(t, 10.0, root)

	root, ok = risk.Bisect(func(x float64) float64 { return x + 5 }, 0, 10, 100, 1e-9)
	require.False(t, ok)
	require.Equal(t, 0.0, root)
}

func TestBisect_IterationCapReportsNotConverged(t *testing.T) {
	_, ok := risk.Bisect(func(x float64) float64 { return x - 0.3 }, 0, 1e6, 3, 1e-12)
	require.False(t, ok)
}

// ============================================================================
// Test: LiquidationPrice
// ============================================================================

func TestLiquidationPrice_NoPosition(t *testing.T) {
	// 45 ETH against 0.01 debt at ratio 1.5 sits exactly at 150% at 3000.
	price, ok := risk.LiquidationPrice(newTestInput(45, 0.01, 1))
	require.True(t, ok)
	require.InDelta(t, 3000, price, 1e-6)
}

func TestLiquidationPrice_NoDebt(t *testing.T) {
	price, ok := risk.LiquidationPrice(newTestInput(45, 0, 1))
	require.False(t, ok)
	require.Zero(t, price)
}

func TestLiquidationPrice_WithPosition(t *testing.T) {
	pos := positionAboveRange(t)
	_, powerPerp, err := vaultlib.PositionBalances(pos, 0, false)
	require.NoError(t, err)
	held := fpmath.WadToFloat(powerPerp)

	in := newTestInput(10, 10, 10_000)
	in.Position = &pos

	price, ok := risk.LiquidationPrice(in)
	require.True(t, ok)

	// Collateral + held × p / scale = 1.5 × 10 × p / scale.
	expected := 10 / (1.5*10/10_000 - held/10_000)
	require.InEpsilon(t, expected, price, 1e-3)

	withoutLP, _ := risk.LiquidationPrice(newTestInput(10, 10, 10_000))
	require.Greater(t, price, withoutLP)
}

func TestPositionValue_NoPosition(t *testing.T) {
	require.Zero(t, risk.PositionValue(newTestInput(1, 1, 1), 3000))
}

func TestNewVaultInput_ConvertsWads(t *testing.T) {
	in := risk.NewVaultInput(wad(45), big.NewInt(1e16), fpmath.Wad, fpmath.WadFromRatio(3, 2), big.NewInt(10_000))
	require.InDelta(t, 45, in.Collateral, 1e-12)
	require.InDelta(t, 0.01, in.Short, 1e-12)
	require.InDelta(t, 1.5, in.CollateralRatio, 1e-12)
	require.Equal(t, 10_000.0, in.IndexScale)
}

func TestBatchLiquidationPrices_KeepsOrder(t *testing.T) {
	inputs := []risk.VaultInput{
		newTestInput(45, 0.01, 1),
		newTestInput(90, 0.01, 1),
		newTestInput(1, 0, 1),
	}
	results, err := risk.BatchLiquidationPrices(context.Background(), inputs, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.InDelta(t, 3000, results[0].Value, 1e-6)
	require.InDelta(t, 6000, results[1].Value, 1e-6)
	require.False(t, results[2].Converged)
}

func TestBatchLiquidationPrices_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := risk.BatchLiquidationPrices(ctx, []risk.VaultInput{newTestInput(45, 0.01, 1)}, 1)
	require.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// Test: ImpliedVolatility
// ============================================================================

func TestImpliedVolatility_RoundTrip(t *testing.T) {
	observed := risk.PowerPerpPrice(3000, 0.98, 0.8, 17.5/365, 10_000)
	sigma, ok := risk.ImpliedVolatility(observed, 3000, 0.98, 17.5/365, 10_000)
	require.True(t, ok)
	require.InEpsilon(t, 0.8, sigma, 1e-4)
}

func TestImpliedVolatility_OutOfBracket(t *testing.T) {
	observed := risk.PowerPerpPrice(3000, 1, 3.0, 1, 10_000)
	sigma, ok := risk.ImpliedVolatility(observed, 3000, 1, 1, 10_000)
	require.False(t, ok)
	require.Equal(t, risk.MaxVolatility, sigma, "best estimate is the bracket edge")
}

func TestImpliedVolatility_RejectsNonPositive(t *testing.T) {
	_, ok := risk.ImpliedVolatility(0, 3000, 1, 1, 1)
	require.False(t, ok)
}

// ============================================================================
// Test: SolveWithDeadline
// ============================================================================

func TestSolveWithDeadline_ReturnsResult(t *testing.T) {
	r, err := risk.SolveWithDeadline(context.Background(), func() (float64, bool) { return 42, true })
	require.NoError(t, err)
	require.Equal(t, 42.0, r.Value)
	require.True(t, r.Converged)
}

func TestSolveWithDeadline_DropsLateResult(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)
	_, err := risk.SolveWithDeadline(ctx, func() (float64, bool) {
		<-release
		return 1, true
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
