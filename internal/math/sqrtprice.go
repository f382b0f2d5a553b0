package math

import (
	"github.com/holiman/uint256"
)

func sortSqrt(a, b *uint256.Int) (*uint256.Int, *uint256.Int) {
	if a.Gt(b) {
		return b, a
	}
	return a, b
}

// GetAmount0Delta returns liquidity * (sqrtB - sqrtA) / (sqrtA * sqrtB),
// the token0 amount between two prices.
func GetAmount0Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	if sqrtA.IsZero() {
		return nil, ErrMulDivOverflow
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	numerator2 := new(uint256.Int).Sub(sqrtB, sqrtA)

	if roundUp {
		inner, err := mulDivRoundingUp(numerator1, numerator2, sqrtB)
		if err != nil {
			return nil, err
		}
		return divRoundingUp(inner, sqrtA), nil
	}
	inner, err := mulDiv(numerator1, numerator2, sqrtB)
	if err != nil {
		return nil, err
	}
	return inner.Div(inner, sqrtA), nil
}

// GetAmount1Delta returns liquidity * (sqrtB - sqrtA), the token1 amount
// between two prices.
func GetAmount1Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	diff := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return mulDivRoundingUp(liquidity, diff, Q96)
	}
	return mulDiv(liquidity, diff, Q96)
}
