package math

import (
	"math/big"
)

// Logarithms and exponentials run at 1e36 internally and are rounded back
// to wad, which keeps the funding multiplier exact to the last wad digit for
// the exponents the engine produces (|x| well below 10).
var (
	hiScale = new(big.Int).Mul(Wad, Wad)
	ln2Hi, _ = new(big.Int).SetString("693147180559945309417232121458176568", 10)
)

// LnWad returns ln(x) for a positive wad x, as a signed wad.
func LnWad(x *big.Int) *big.Int {
	if x.Sign() <= 0 {
		panic("fpmath: ln of non-positive value")
	}

	y := new(big.Int).Mul(x, Wad)
	twoOne := new(big.Int).Lsh(hiScale, 1)
	k := int64(0)
	for y.Cmp(twoOne) >= 0 {
		y.Rsh(y, 1)
		k++
	}
	for y.Cmp(hiScale) < 0 {
		y.Lsh(y, 1)
		k--
	}

	// ln(y) = 2 * atanh((y-1)/(y+1)), z <= 1/3 so the series converges fast.
	num := new(big.Int).Sub(y, hiScale)
	den := new(big.Int).Add(y, hiScale)
	z := new(big.Int).Mul(num, hiScale)
	z.Quo(z, den)
	z2 := new(big.Int).Mul(z, z)
	z2.Quo(z2, hiScale)

	sum := new(big.Int).Set(z)
	term := new(big.Int).Set(z)
	for n := int64(3); ; n += 2 {
		term.Mul(term, z2)
		term.Quo(term, hiScale)
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, new(big.Int).Quo(term, big.NewInt(n)))
	}
	sum.Lsh(sum, 1)

	sum.Add(sum, new(big.Int).Mul(big.NewInt(k), ln2Hi))
	return quoHalfEvenSigned(sum, Wad)
}

// ExpWad returns e^x for a signed wad x.
func ExpWad(x *big.Int) *big.Int {
	xh := new(big.Int).Mul(x, Wad)

	// x = k*ln2 + r with r in [0, ln2). big.Int.Div is Euclidean so k is a floor.
	k := new(big.Int).Div(xh, ln2Hi)
	r := new(big.Int).Sub(xh, new(big.Int).Mul(k, ln2Hi))

	sum := new(big.Int).Set(hiScale)
	term := new(big.Int).Set(hiScale)
	for n := int64(1); ; n++ {
		term.Mul(term, r)
		term.Quo(term, hiScale)
		term.Quo(term, big.NewInt(n))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}

	shift := k.Int64()
	if shift >= 0 {
		sum.Lsh(sum, uint(shift))
	} else {
		sum.Rsh(sum, uint(-shift))
	}
	return quoHalfEvenSigned(sum, Wad)
}

// PowWad returns base^exponent for a positive wad base and a signed wad
// exponent.
func PowWad(base, exponent *big.Int) *big.Int {
	if exponent.Sign() == 0 {
		return new(big.Int).Set(Wad)
	}
	lnBase := LnWad(base)
	product := new(big.Int).Mul(lnBase, exponent)
	return ExpWad(quoHalfEvenSigned(product, Wad))
}

func quoHalfEvenSigned(n, d *big.Int) *big.Int {
	if n.Sign() >= 0 {
		return divRound(n, d, RoundHalfEven)
	}
	abs := new(big.Int).Neg(n)
	q := divRound(abs, d, RoundHalfEven)
	return q.Neg(q)
}
