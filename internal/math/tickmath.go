package math

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Tick bounds and sqrt-price bounds of a Uniswap-V3 style pool.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

var (
	MinSqrtRatio = uint256.NewInt(4295128739)
	MaxSqrtRatio = uint256.MustFromDecimal("1461446703485210103287273052203988822378723970342")

	Q96  = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	Q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	Q192 = new(uint256.Int).Lsh(uint256.NewInt(1), 192)

	maxUint128 = new(uint256.Int).Sub(Q128, uint256.NewInt(1))
	maxUint256 = new(uint256.Int).SetAllOne()

	ErrTickOutOfRange = errors.New("fpmath: tick out of range")
	ErrMulDivOverflow = errors.New("fpmath: mulDiv overflow")
)

// sqrt(1.0001^-(2^i)) in Q128, i = 1..19. Bit 0 is handled separately.
var tickMagic = [...]*uint256.Int{
	uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
	uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
	uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
	uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
	uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
	uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
	uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
	uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
	uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
	uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
	uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
	uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
	uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
	uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
	uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
	uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
	uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
	uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
	uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
}

var tickBit0 = uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001")

// GetSqrtRatioAtTick returns sqrt(1.0001^tick) as a Q64.96 value, rounded up
// exactly like the pool contract so positions value identically here and
// on the position manager.
func GetSqrtRatioAtTick(tick int32) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}
	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	var ratio *uint256.Int
	if absTick&0x1 != 0 {
		ratio = new(uint256.Int).Set(tickBit0)
	} else {
		ratio = new(uint256.Int).Set(Q128)
	}
	for i, magic := range tickMagic {
		if absTick&(uint32(1)<<uint(i+1)) != 0 {
			ratio.Mul(ratio, magic)
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio = new(uint256.Int).Div(maxUint256, ratio)
	}

	// Q128.128 -> Q64.96, rounding up so the inverse stays consistent.
	low := new(uint256.Int).Set(ratio)
	low.And(low, uint256.NewInt(0xffffffff))
	sqrtPrice := new(uint256.Int).Rsh(ratio, 32)
	if !low.IsZero() {
		sqrtPrice.AddUint64(sqrtPrice, 1)
	}
	return sqrtPrice, nil
}

// MustSqrtRatioAtTick is GetSqrtRatioAtTick for ticks already validated by
// the caller.
func MustSqrtRatioAtTick(tick int32) *uint256.Int {
	v, err := GetSqrtRatioAtTick(tick)
	if err != nil {
		panic(err)
	}
	return v
}

// GetTickAtSqrtRatio returns the greatest tick whose sqrt ratio is <= the
// given price. Binary search over the monotonic GetSqrtRatioAtTick keeps it
// consistent with the forward conversion.
func GetTickAtSqrtRatio(sqrtPriceX96 *uint256.Int) (int32, error) {
	if sqrtPriceX96.Lt(MinSqrtRatio) || !sqrtPriceX96.Lt(MaxSqrtRatio) {
		return 0, fmt.Errorf("%w: sqrt price %s", ErrTickOutOfRange, sqrtPriceX96.Dec())
	}
	low, high := MinTick, MaxTick
	for low < high {
		mid := low + (high-low+1)/2
		if MustSqrtRatioAtTick(mid).Cmp(sqrtPriceX96) <= 0 {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return low, nil
}

// mulDiv computes floor(a*b/d) with a 512-bit intermediate.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrMulDivOverflow
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrMulDivOverflow
	}
	return z, nil
}

// mulDivRoundingUp computes ceil(a*b/d).
func mulDivRoundingUp(a, b, d *uint256.Int) (*uint256.Int, error) {
	z, err := mulDiv(a, b, d)
	if err != nil {
		return nil, err
	}
	rem := new(uint256.Int).MulMod(a, b, d)
	if !rem.IsZero() {
		if z.Eq(maxUint256) {
			return nil, ErrMulDivOverflow
		}
		z.AddUint64(z, 1)
	}
	return z, nil
}

func divRoundingUp(a, d *uint256.Int) *uint256.Int {
	q, rem := new(uint256.Int), new(uint256.Int)
	q.DivMod(a, d, rem)
	if !rem.IsZero() {
		q.AddUint64(q, 1)
	}
	return q
}
