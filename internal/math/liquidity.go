package math

import (
	"github.com/holiman/uint256"
)

// GetLiquidityForAmount0 is amount0 * (sqrtA * sqrtB) / (sqrtB - sqrtA).
func GetLiquidityForAmount0(sqrtA, sqrtB, amount0 *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	if sqrtA.Eq(sqrtB) {
		return new(uint256.Int), nil
	}
	intermediate, err := mulDiv(sqrtA, sqrtB, Q96)
	if err != nil {
		return nil, err
	}
	return mulDiv(amount0, intermediate, new(uint256.Int).Sub(sqrtB, sqrtA))
}

// GetLiquidityForAmount1 is amount1 / (sqrtB - sqrtA).
func GetLiquidityForAmount1(sqrtA, sqrtB, amount1 *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	if sqrtA.Eq(sqrtB) {
		return new(uint256.Int), nil
	}
	return mulDiv(amount1, Q96, new(uint256.Int).Sub(sqrtB, sqrtA))
}

// GetLiquidityForAmounts returns the largest liquidity that both amounts can
// fund for the range [sqrtA, sqrtB] at the current price.
func GetLiquidityForAmounts(sqrtPrice, sqrtA, sqrtB, amount0, amount1 *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)

	switch {
	case !sqrtPrice.Gt(sqrtA):
		return GetLiquidityForAmount0(sqrtA, sqrtB, amount0)
	case sqrtPrice.Lt(sqrtB):
		l0, err := GetLiquidityForAmount0(sqrtPrice, sqrtB, amount0)
		if err != nil {
			return nil, err
		}
		l1, err := GetLiquidityForAmount1(sqrtA, sqrtPrice, amount1)
		if err != nil {
			return nil, err
		}
		if l0.Lt(l1) {
			return l0, nil
		}
		return l1, nil
	default:
		return GetLiquidityForAmount1(sqrtA, sqrtB, amount1)
	}
}

// GetAmountsForLiquidity returns the token amounts a position of the given
// liquidity holds at sqrtPrice, rounded down.
func GetAmountsForLiquidity(sqrtPrice, sqrtA, sqrtB, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	return amountsForLiquidity(sqrtPrice, sqrtA, sqrtB, liquidity, false)
}

// GetDepositAmounts returns what adding liquidity at sqrtPrice costs,
// rounded up.
func GetDepositAmounts(sqrtPrice, sqrtA, sqrtB, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	return amountsForLiquidity(sqrtPrice, sqrtA, sqrtB, liquidity, true)
}

func amountsForLiquidity(sqrtPrice, sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (amount0, amount1 *uint256.Int, err error) {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	amount0, amount1 = new(uint256.Int), new(uint256.Int)

	switch {
	case !sqrtPrice.Gt(sqrtA):
		amount0, err = GetAmount0Delta(sqrtA, sqrtB, liquidity, roundUp)
	case sqrtPrice.Lt(sqrtB):
		amount0, err = GetAmount0Delta(sqrtPrice, sqrtB, liquidity, roundUp)
		if err == nil {
			amount1, err = GetAmount1Delta(sqrtA, sqrtPrice, liquidity, roundUp)
		}
	default:
		amount1, err = GetAmount1Delta(sqrtA, sqrtB, liquidity, roundUp)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}
