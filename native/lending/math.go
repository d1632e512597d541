package lending

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

// Amounts are bounded to the signed 128-bit range so that every value the
// engine produces can be carried by downstream token ledgers and clients.
var maxAmount = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 127), uint256.NewInt(1))

// maxPriceDecimals keeps 10^decimals inside maxAmount.
const maxPriceDecimals = 38

func u256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrInvalidInput
	}
	out, overflow := uint256.FromBig(v)
	if overflow || out.Gt(maxAmount) {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

func u64(v uint64) *uint256.Int { return uint256.NewInt(v) }

func checkedMul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow || out.Gt(maxAmount) {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow || out.Gt(maxAmount) {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

func checkedSub(a, b *uint256.Int) (*uint256.Int, error) {
	if a.Lt(b) {
		return nil, ErrArithmeticUnderflow
	}
	return new(uint256.Int).Sub(a, b), nil
}

func checkedDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

func pow10(decimals uint32) (*uint256.Int, error) {
	if decimals > maxPriceDecimals {
		return nil, ErrArithmeticOverflow
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))), nil
}

// clampU32 saturates v into the u32 range.
func clampU32(v *uint256.Int) uint32 {
	if !v.IsUint64() || v.Uint64() > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v.Uint64())
}

// mulDiv computes a*b/c with overflow and zero-divisor checks.
func mulDiv(a, b, c *uint256.Int) (*uint256.Int, error) {
	prod, err := checkedMul(a, b)
	if err != nil {
		return nil, err
	}
	return checkedDiv(prod, c)
}

// addBig is a checked addition over big.Int amounts.
func addBig(a, b *big.Int) (*big.Int, error) {
	ua, err := u256(a)
	if err != nil {
		return nil, err
	}
	ub, err := u256(b)
	if err != nil {
		return nil, err
	}
	sum, err := checkedAdd(ua, ub)
	if err != nil {
		return nil, err
	}
	return sum.ToBig(), nil
}

// subBig is a checked subtraction over big.Int amounts.
func subBig(a, b *big.Int) (*big.Int, error) {
	ua, err := u256(a)
	if err != nil {
		return nil, err
	}
	ub, err := u256(b)
	if err != nil {
		return nil, err
	}
	diff, err := checkedSub(ua, ub)
	if err != nil {
		return nil, err
	}
	return diff.ToBig(), nil
}

func isPositive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
