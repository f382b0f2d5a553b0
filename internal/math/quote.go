package math

import (
	"math/big"

	"github.com/holiman/uint256"
)

// GetQuoteAtTick converts baseAmount of the base token into the quote token
// at the given tick. baseIsToken0 tells which side of the pool base is on.
func GetQuoteAtTick(tick int32, baseAmount *uint256.Int, baseIsToken0 bool) (*uint256.Int, error) {
	sqrtRatio, err := GetSqrtRatioAtTick(tick)
	if err != nil {
		return nil, err
	}

	if !sqrtRatio.Gt(maxUint128) {
		ratioX192 := new(uint256.Int).Mul(sqrtRatio, sqrtRatio)
		if baseIsToken0 {
			return mulDiv(ratioX192, baseAmount, Q192)
		}
		return mulDiv(Q192, baseAmount, ratioX192)
	}

	ratioX128, err := mulDiv(sqrtRatio, sqrtRatio, new(uint256.Int).Lsh(uint256.NewInt(1), 64))
	if err != nil {
		return nil, err
	}
	if baseIsToken0 {
		return mulDiv(ratioX128, baseAmount, Q128)
	}
	return mulDiv(Q128, baseAmount, ratioX128)
}

// ScaleToWad rescales an amount expressed with `decimals` decimals to 1e18.
func ScaleToWad(amount *big.Int, decimals uint8) *big.Int {
	switch {
	case decimals == 18:
		return new(big.Int).Set(amount)
	case decimals < 18:
		return new(big.Int).Mul(amount, Pow10(18-decimals))
	default:
		return new(big.Int).Quo(amount, Pow10(decimals-18))
	}
}

// ToBig converts a uint256 to big.Int, treating nil as zero.
func ToBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

// FromBig converts a non-negative big.Int to uint256, saturating on overflow.
func FromBig(v *big.Int) *uint256.Int {
	if v == nil || v.Sign() <= 0 {
		return new(uint256.Int)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}
