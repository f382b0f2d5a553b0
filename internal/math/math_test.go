package math_test

import (
	"math/big"
	"testing"

	fpmath "PowerVault/internal/math"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func wad(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), fpmath.Wad)
}

// ============================================================================
// Test: fixed point rounding
// ============================================================================

func TestMulDiv_RoundingModes(t *testing.T) {
	seven, two := big.NewInt(7), big.NewInt(2)
	one := big.NewInt(1)

	require.Equal(t, "3", fpmath.MulDiv(seven, one, two, fpmath.RoundDown).String())
	require.Equal(t, "4", fpmath.MulDiv(seven, one, two, fpmath.RoundUp).String())
	// 3.5 rounds to the even neighbour
	require.Equal(t, "4", fpmath.MulDiv(seven, one, two, fpmath.RoundHalfEven).String())
	require.Equal(t, "2", fpmath.MulDiv(big.NewInt(5), one, two, fpmath.RoundHalfEven).String())
	require.Equal(t, "6", fpmath.MulDiv(big.NewInt(12), one, two, fpmath.RoundUp).String())
}

func TestApplyBPS(t *testing.T) {
	fee := fpmath.ApplyBPS(wad(30), 100, fpmath.RoundDown)
	require.Equal(t, 0, fee.Cmp(new(big.Int).Quo(wad(30), big.NewInt(100))))
}

func TestSubFloor(t *testing.T) {
	require.Equal(t, 0, fpmath.SubFloor(wad(1), wad(2)).Sign())
	require.Equal(t, 0, fpmath.SubFloor(wad(3), wad(2)).Cmp(wad(1)))
}

// ============================================================================
// Test: ln / exp
// ============================================================================

func TestLnExp_Identities(t *testing.T) {
	require.Equal(t, 0, fpmath.LnWad(fpmath.Wad).Sign())
	require.Equal(t, 0, fpmath.ExpWad(big.NewInt(0)).Cmp(fpmath.Wad))

	back := fpmath.ExpWad(fpmath.LnWad(wad(2)))
	diff := new(big.Int).Sub(back, wad(2))
	require.True(t, diff.CmpAbs(big.NewInt(10)) <= 0, "exp(ln 2) drifted by %s", diff)

	half := fpmath.WadFromRatio(1, 2)
	lnHalf := fpmath.LnWad(half)
	require.Equal(t, -1, lnHalf.Sign())
	require.Equal(t, 0, new(big.Int).Neg(lnHalf).Cmp(fpmath.LnWad(wad(2))))
}

func TestPowWad_SquareRoot(t *testing.T) {
	root := fpmath.PowWad(wad(4), fpmath.WadFromRatio(1, 2))
	diff := new(big.Int).Sub(root, wad(2))
	require.True(t, diff.CmpAbs(big.NewInt(100)) <= 0, "4^0.5 = %s", root)
}

// ============================================================================
// Test: funding
// ============================================================================

func TestNextNormalizationFactor_ParityIsNoop(t *testing.T) {
	nf := fpmath.NextNormalizationFactor(fpmath.Wad, wad(3000), wad(3000), 3600, 420*3600,
		fpmath.Wad, fpmath.WadFromRatio(14, 10))
	require.Equal(t, 0, nf.Cmp(fpmath.Wad))
}

func TestNextNormalizationFactor_MarkAboveIndexShrinks(t *testing.T) {
	nf := fpmath.NextNormalizationFactor(fpmath.Wad, wad(3300), wad(3000), 3600, 420*3600,
		fpmath.Wad, fpmath.WadFromRatio(14, 10))
	require.Equal(t, -1, nf.Cmp(fpmath.Wad))
}

func TestNextNormalizationFactor_MarkBelowIndexClampedAtParity(t *testing.T) {
	nf := fpmath.NextNormalizationFactor(fpmath.Wad, wad(2500), wad(3000), 3600, 420*3600,
		fpmath.Wad, fpmath.WadFromRatio(14, 10))
	require.Equal(t, 0, nf.Cmp(fpmath.Wad))
}

func TestNextNormalizationFactor_UpperClamp(t *testing.T) {
	upper := fpmath.WadFromRatio(14, 10)
	capped := fpmath.NextNormalizationFactor(fpmath.Wad, wad(6000), wad(3000), 3600, 420*3600, fpmath.Wad, upper)
	atCap := fpmath.NextNormalizationFactor(fpmath.Wad, wad(4200), wad(3000), 3600, 420*3600, fpmath.Wad, upper)
	require.Equal(t, 0, capped.Cmp(atCap))
}

func TestNextNormalizationFactor_ZeroPriceLeavesFactor(t *testing.T) {
	nf := fpmath.NextNormalizationFactor(fpmath.Wad, big.NewInt(0), wad(3000), 3600, 420*3600,
		fpmath.Wad, fpmath.WadFromRatio(14, 10))
	require.Equal(t, 0, nf.Cmp(fpmath.Wad))
}

// ============================================================================
// Test: tick math
// ============================================================================

func TestGetSqrtRatioAtTick_KnownValues(t *testing.T) {
	atZero, err := fpmath.GetSqrtRatioAtTick(0)
	require.NoError(t, err)
	require.True(t, atZero.Eq(fpmath.Q96))

	atMin, err := fpmath.GetSqrtRatioAtTick(fpmath.MinTick)
	require.NoError(t, err)
	require.True(t, atMin.Eq(fpmath.MinSqrtRatio))

	atMax, err := fpmath.GetSqrtRatioAtTick(fpmath.MaxTick)
	require.NoError(t, err)
	require.True(t, atMax.Eq(fpmath.MaxSqrtRatio))

	_, err = fpmath.GetSqrtRatioAtTick(fpmath.MaxTick + 1)
	require.ErrorIs(t, err, fpmath.ErrTickOutOfRange)
}

func TestGetSqrtRatioAtTick_Monotonic(t *testing.T) {
	prev := fpmath.MustSqrtRatioAtTick(-50_000)
	for tick := int32(-49_990); tick <= 50_000; tick += 10 {
		cur := fpmath.MustSqrtRatioAtTick(tick)
		require.True(t, cur.Gt(prev), "tick %d not increasing", tick)
		prev = cur
	}
}

func TestGetTickAtSqrtRatio_Inverse(t *testing.T) {
	for _, tick := range []int32{-200_000, -887, -1, 0, 1, 76_012, 200_000} {
		got, err := fpmath.GetTickAtSqrtRatio(fpmath.MustSqrtRatioAtTick(tick))
		require.NoError(t, err)
		require.Equal(t, tick, got)
	}
}

func TestGetQuoteAtTick_ZeroTickIsParity(t *testing.T) {
	one := uint256.NewInt(1_000_000_000_000_000_000)
	q, err := fpmath.GetQuoteAtTick(0, one, true)
	require.NoError(t, err)
	require.True(t, q.Eq(one))

	q, err = fpmath.GetQuoteAtTick(0, one, false)
	require.NoError(t, err)
	require.True(t, q.Eq(one))
}

func TestGetQuoteAtTick_DirectionsAreInverse(t *testing.T) {
	one := uint256.NewInt(1_000_000_000_000_000_000)
	up, err := fpmath.GetQuoteAtTick(6932, one, true) // ~2x
	require.NoError(t, err)
	down, err := fpmath.GetQuoteAtTick(6932, one, false) // ~0.5x
	require.NoError(t, err)

	require.InDelta(t, 2.0, fpmath.WadToFloat(up.ToBig()), 0.001)
	require.InDelta(t, 0.5, fpmath.WadToFloat(down.ToBig()), 0.001)
}

// ============================================================================
// Test: liquidity amounts
// ============================================================================

func TestLiquidityRoundTrip(t *testing.T) {
	sqrtA := fpmath.MustSqrtRatioAtTick(-1000)
	sqrtB := fpmath.MustSqrtRatioAtTick(1000)
	price := fpmath.MustSqrtRatioAtTick(0)

	amount := uint256.NewInt(1_000_000_000_000_000_000)
	liq, err := fpmath.GetLiquidityForAmounts(price, sqrtA, sqrtB, amount, amount)
	require.NoError(t, err)
	require.False(t, liq.IsZero())

	a0, a1, err := fpmath.GetAmountsForLiquidity(price, sqrtA, sqrtB, liq)
	require.NoError(t, err)
	require.False(t, a0.Gt(amount))
	require.False(t, a1.Gt(amount))

	// the binding side comes back within rounding
	slack := new(uint256.Int).Sub(amount, a0)
	if a1.Gt(a0) {
		slack = new(uint256.Int).Sub(amount, a1)
	}
	require.True(t, slack.Lt(uint256.NewInt(10)))
}

func TestDepositAmounts_CoverWithdrawableAmounts(t *testing.T) {
	sqrtA := fpmath.MustSqrtRatioAtTick(-1000)
	sqrtB := fpmath.MustSqrtRatioAtTick(1000)
	liq := uint256.NewInt(987_654_321_987_654_321)

	for _, tick := range []int32{-2000, 0, 2000} {
		price := fpmath.MustSqrtRatioAtTick(tick)
		out0, out1, err := fpmath.GetAmountsForLiquidity(price, sqrtA, sqrtB, liq)
		require.NoError(t, err)
		in0, in1, err := fpmath.GetDepositAmounts(price, sqrtA, sqrtB, liq)
		require.NoError(t, err)
		require.False(t, in0.Lt(out0), "tick %d", tick)
		require.False(t, in1.Lt(out1), "tick %d", tick)
	}
}

func TestAmountDeltas_RoundUpNotBelowRoundDown(t *testing.T) {
	sqrtA := fpmath.MustSqrtRatioAtTick(-3000)
	sqrtB := fpmath.MustSqrtRatioAtTick(4000)
	liq := uint256.NewInt(123_456_789_012_345)

	down0, err := fpmath.GetAmount0Delta(sqrtA, sqrtB, liq, false)
	require.NoError(t, err)
	up0, err := fpmath.GetAmount0Delta(sqrtA, sqrtB, liq, true)
	require.NoError(t, err)
	require.False(t, up0.Lt(down0))

	down1, err := fpmath.GetAmount1Delta(sqrtB, sqrtA, liq, false)
	require.NoError(t, err)
	up1, err := fpmath.GetAmount1Delta(sqrtA, sqrtB, liq, true)
	require.NoError(t, err)
	require.False(t, up1.Lt(down1))
}
