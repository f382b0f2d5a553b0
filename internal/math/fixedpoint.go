package math

import (
	"math/big"
	"sync"
)

// All monetary quantities are integers scaled by Wad (1e18). Prices are wad
// values of quote per one whole base unit.
var (
	Wad     = big.NewInt(1_000_000_000_000_000_000)
	WadSq   = new(big.Int).Mul(Wad, Wad)
	BPSBase = big.NewInt(10_000)
)

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// Intermediate products of two wad values need up to ~512 bits; keep the
// scratch ints pooled so the engine hot path does not churn the allocator.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// MulDiv returns a * b / denominator rounded with mode. Operands must be
// non-negative and denominator positive.
func MulDiv(a, b, denominator *big.Int, mode RoundingMode) *big.Int {
	product := getInt()
	product.Mul(a, b)
	result := divRound(product, denominator, mode)
	putInt(product)
	return result
}

// MulMulDiv returns a * b * c / denominator, used for short*nf*price style
// products that would lose precision if divided in two steps.
func MulMulDiv(a, b, c, denominator *big.Int, mode RoundingMode) *big.Int {
	product := getInt()
	product.Mul(a, b)
	product.Mul(product, c)
	result := divRound(product, denominator, mode)
	putInt(product)
	return result
}

func divRound(numerator, denominator *big.Int, mode RoundingMode) *big.Int {
	quotient := new(big.Int)
	remainder := getInt()
	defer putInt(remainder)

	quotient.QuoRem(numerator, denominator, remainder)
	if remainder.Sign() == 0 {
		return quotient
	}

	switch mode {
	case RoundUp:
		quotient.Add(quotient, big.NewInt(1))
	case RoundHalfEven:
		twice := getInt()
		twice.Lsh(remainder, 1)
		cmp := twice.Cmp(denominator)
		putInt(twice)
		if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
			quotient.Add(quotient, big.NewInt(1))
		}
	}
	return quotient
}

// WadMul returns a * b / 1e18.
func WadMul(a, b *big.Int, mode RoundingMode) *big.Int {
	return MulDiv(a, b, Wad, mode)
}

// WadDiv returns a * 1e18 / b.
func WadDiv(a, b *big.Int, mode RoundingMode) *big.Int {
	return MulDiv(a, Wad, b, mode)
}

// ApplyBPS returns amount * bps / 10_000 rounded with mode.
func ApplyBPS(amount *big.Int, bps uint32, mode RoundingMode) *big.Int {
	return MulDiv(amount, new(big.Int).SetUint64(uint64(bps)), BPSBase, mode)
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns a copy of the larger of a and b.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// SubFloor returns max(a - b, 0).
func SubFloor(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(a, b)
}

// Clone returns a copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// WadFromRatio builds num/den as a wad. Handy for configuration constants
// like 3/2 or 11/10.
func WadFromRatio(num, den int64) *big.Int {
	return MulDiv(big.NewInt(num), Wad, big.NewInt(den), RoundDown)
}

// WadFromFloat converts a float to a wad, truncating beyond 1e-18. Only
// used at the edges (CLI input, solver output), never inside the engine.
func WadFromFloat(f float64) *big.Int {
	bf := new(big.Float).SetPrec(256).SetFloat64(f)
	bf.Mul(bf, new(big.Float).SetInt(Wad))
	out, _ := bf.Int(nil)
	return out
}

// WadToFloat converts a wad to float64 for advisory computations.
func WadToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), new(big.Float).SetInt(Wad)).Float64()
	return f
}
