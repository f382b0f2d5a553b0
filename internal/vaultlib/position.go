// Package vaultlib values vault collateral, including concentrated-liquidity
// positions decomposed at a given tick.
package vaultlib

import (
	"errors"
	"fmt"
	"math/big"

	fpmath "PowerVault/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrInvalidRange = errors.New("vaultlib: tickLower must be below tickUpper")

// Position is the position manager's view of an LP NFT.
type Position struct {
	Token0      common.Address
	Token1      common.Address
	TickLower   int32
	TickUpper   int32
	Liquidity   *uint256.Int
	TokensOwed0 *uint256.Int
	TokensOwed1 *uint256.Int
}

func (p Position) validate() error {
	if p.TickLower >= p.TickUpper {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, p.TickLower, p.TickUpper)
	}
	if p.TickLower < fpmath.MinTick || p.TickUpper > fpmath.MaxTick {
		return fpmath.ErrTickOutOfRange
	}
	return nil
}

// PositionBalances returns what the position would yield if fully withdrawn
// at currentTick, split into (base, quote). Below the range everything is
// token0, above it everything is token1. Amounts round down and include
// uncollected fees.
func PositionBalances(pos Position, currentTick int32, baseIsToken0 bool) (base, quote *big.Int, err error) {
	sqrtPrice, err := fpmath.GetSqrtRatioAtTick(currentTick)
	if err != nil {
		return nil, nil, err
	}
	return PositionBalancesAtSqrtPrice(pos, sqrtPrice, baseIsToken0)
}

// PositionBalancesAtSqrtPrice is PositionBalances at an explicit Q96 price,
// used when redeeming against the pool's spot price.
func PositionBalancesAtSqrtPrice(pos Position, sqrtPriceX96 *uint256.Int, baseIsToken0 bool) (base, quote *big.Int, err error) {
	amount0, amount1, err := positionAmounts(pos, sqrtPriceX96)
	if err != nil {
		return nil, nil, err
	}
	if baseIsToken0 {
		return amount0, amount1, nil
	}
	return amount1, amount0, nil
}

func positionAmounts(pos Position, sqrtPriceX96 *uint256.Int) (*big.Int, *big.Int, error) {
	if err := pos.validate(); err != nil {
		return nil, nil, err
	}
	liquidity := pos.Liquidity
	if liquidity == nil {
		liquidity = new(uint256.Int)
	}
	sqrtLower := fpmath.MustSqrtRatioAtTick(pos.TickLower)
	sqrtUpper := fpmath.MustSqrtRatioAtTick(pos.TickUpper)

	a0, a1, err := fpmath.GetAmountsForLiquidity(sqrtPriceX96, sqrtLower, sqrtUpper, liquidity)
	if err != nil {
		return nil, nil, err
	}
	amount0 := a0.ToBig()
	amount1 := a1.ToBig()
	amount0.Add(amount0, fpmath.ToBig(pos.TokensOwed0))
	amount1.Add(amount1, fpmath.ToBig(pos.TokensOwed1))
	return amount0, amount1, nil
}

// Liquidity derives the liquidity a deposit of (amount0, amount1) mints
// over [tickLower, tickUpper] at sqrtPriceX96. It rounds down, matching the
// position manager.
func Liquidity(sqrtPriceX96 *uint256.Int, tickLower, tickUpper int32, amount0, amount1 *big.Int) (*uint256.Int, error) {
	if tickLower >= tickUpper {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, tickLower, tickUpper)
	}
	sqrtLower, err := fpmath.GetSqrtRatioAtTick(tickLower)
	if err != nil {
		return nil, err
	}
	sqrtUpper, err := fpmath.GetSqrtRatioAtTick(tickUpper)
	if err != nil {
		return nil, err
	}
	return fpmath.GetLiquidityForAmounts(sqrtPriceX96, sqrtLower, sqrtUpper, fpmath.FromBig(amount0), fpmath.FromBig(amount1))
}

// DepositCost is what minting liquidity over [tickLower, tickUpper] at
// sqrtPriceX96 takes from the depositor, rounded up.
func DepositCost(sqrtPriceX96 *uint256.Int, tickLower, tickUpper int32, liquidity *uint256.Int) (amount0, amount1 *big.Int, err error) {
	if tickLower >= tickUpper {
		return nil, nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, tickLower, tickUpper)
	}
	sqrtLower, err := fpmath.GetSqrtRatioAtTick(tickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := fpmath.GetSqrtRatioAtTick(tickUpper)
	if err != nil {
		return nil, nil, err
	}
	a0, a1, err := fpmath.GetDepositAmounts(sqrtPriceX96, sqrtLower, sqrtUpper, liquidity)
	if err != nil {
		return nil, nil, err
	}
	return a0.ToBig(), a1.ToBig(), nil
}

// OwnedPosition is one position manager record: token id, holder and
// position. Engine snapshots carry these.
type OwnedPosition struct {
	ID       uint64
	Owner    common.Address
	Position Position
}
