package math

import (
	"math/big"
	"math/bits"
	"sync"

	"ammcore/internal/amm"
)

// All reserve, fee, and share arithmetic goes through this package. Every
// operation detects overflow/underflow and division by zero and fails with
// amm.ErrArithmetic instead of wrapping or truncating silently.
//
// Rounding is floor everywhere unless a caller explicitly asks for ceil.
// Floor on amounts owed OUT of the pool biases rounding loss toward the pool,
// which closes repeated-rounding drain exploits.

// intPool holds big.Ints for intermediate products (reserve*reserve scale
// needs up to 128 bits).
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return intPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetUint64(0)
	intPool.Put(v)
}

// CheckedAdd returns a+b or fails on uint64 overflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, amm.ErrArithmetic.Wrapf("add overflow: %d + %d", a, b)
	}
	return sum, nil
}

// CheckedSub returns a-b or fails on underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, amm.ErrArithmetic.Wrapf("sub underflow: %d - %d", a, b)
	}
	return diff, nil
}

// CheckedMul returns a*b or fails on uint64 overflow.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, amm.ErrArithmetic.Wrapf("mul overflow: %d * %d", a, b)
	}
	return lo, nil
}

// MulDiv computes floor(a*b/c) with a 128-bit intermediate product.
// Fails when c == 0 or the quotient does not fit uint64.
func MulDiv(a, b, c uint64) (uint64, error) {
	return mulDiv(a, b, c, false)
}

// MulDivCeil computes ceil(a*b/c). Same failure modes as MulDiv.
func MulDivCeil(a, b, c uint64) (uint64, error) {
	return mulDiv(a, b, c, true)
}

var oneBig = big.NewInt(1)

func mulDiv(a, b, c uint64, roundUp bool) (uint64, error) {
	if c == 0 {
		return 0, amm.ErrArithmetic.Wrapf("division by zero: %d * %d / 0", a, b)
	}

	num := getBig()
	denom := getBig()
	rem := getBig()
	defer putBig(num)
	defer putBig(denom)
	defer putBig(rem)

	num.SetUint64(a)
	denom.SetUint64(b)
	num.Mul(num, denom)
	denom.SetUint64(c)
	num.QuoRem(num, denom, rem)

	if roundUp && rem.Sign() != 0 {
		num.Add(num, oneBig)
	}

	if !num.IsUint64() {
		return 0, amm.ErrArithmetic.Wrapf("quotient overflow: %d * %d / %d", a, b, c)
	}
	return num.Uint64(), nil
}

// Mul128 returns the full 128-bit product a*b as a fresh big.Int. Used for
// invariant comparisons where the product itself is the quantity of interest.
func Mul128(a, b uint64) *big.Int {
	x := new(big.Int).SetUint64(a)
	y := new(big.Int).SetUint64(b)
	return x.Mul(x, y)
}

// Sqrt returns floor(sqrt(n)) by Newton iteration. Exact for all uint64 inputs.
func Sqrt(n uint64) uint64 {
	if n < 2 {
		return n
	}

	// Initial guess 2^(ceil(len/2)) >= sqrt(n), so the iteration converges
	// downward monotonically.
	x := uint64(1) << ((uint(bits.Len64(n)) + 1) / 2)
	for {
		y := (x + n/x) / 2
		if y >= x {
			return x
		}
		x = y
	}
}

// SqrtProduct returns floor(sqrt(a*b)) without overflowing the product.
// Used at first-deposit LP minting where a*b can exceed 64 bits.
func SqrtProduct(a, b uint64) uint64 {
	p := getBig()
	f := getBig()
	defer putBig(p)
	defer putBig(f)

	p.SetUint64(a)
	f.SetUint64(b)
	p.Mul(p, f)
	f.Sqrt(p)

	// sqrt of a 128-bit value always fits in 64 bits
	return f.Uint64()
}
