package math

import (
	"math/big"
)

// ClampMark bounds mark into [index*lowerRatio, index*upperRatio]. Ratios
// are wads; a lower ratio of 1e18 floors mark at parity so the factor never
// grows.
func ClampMark(mark, index, lowerRatio, upperRatio *big.Int) *big.Int {
	lower := WadMul(index, lowerRatio, RoundUp)
	if mark.Cmp(lower) < 0 {
		return lower
	}
	upper := WadMul(index, upperRatio, RoundDown)
	if mark.Cmp(upper) > 0 {
		return upper
	}
	return new(big.Int).Set(mark)
}

// FundingMultiplier returns (index/mark)^(elapsed/fundingPeriod) as a wad.
// Mark must already be clamped.
func FundingMultiplier(mark, index *big.Int, elapsed, fundingPeriod int64) *big.Int {
	if elapsed <= 0 || fundingPeriod <= 0 || mark.Sign() <= 0 || index.Sign() <= 0 {
		return new(big.Int).Set(Wad)
	}
	rFunding := MulDiv(big.NewInt(elapsed), Wad, big.NewInt(fundingPeriod), RoundDown)
	ratio := WadDiv(index, mark, RoundDown)
	if ratio.Cmp(Wad) == 0 {
		return new(big.Int).Set(Wad)
	}
	return PowWad(ratio, rFunding)
}

// NextNormalizationFactor applies one funding step to nf. Zero prices (the
// safe oracle's floor) leave nf untouched.
func NextNormalizationFactor(
	nf, mark, index *big.Int,
	elapsed, fundingPeriod int64,
	lowerMarkRatio, upperMarkRatio *big.Int,
) *big.Int {
	if mark.Sign() <= 0 || index.Sign() <= 0 {
		return new(big.Int).Set(nf)
	}
	clamped := ClampMark(mark, index, lowerMarkRatio, upperMarkRatio)
	multiplier := FundingMultiplier(clamped, index, elapsed, fundingPeriod)
	return WadMul(nf, multiplier, RoundDown)
}
