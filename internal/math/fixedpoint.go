package math

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point precision of every token amount.
const Decimals = 18

// RateScale is the denominator of a Rate. 1_000_000 == 100%.
const RateScale int64 = 1_000_000

var (
	unit      = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)
	rateScale = big.NewInt(RateScale)
	bigZero   = new(big.Int)
)

// Scratch ints for intermediate products
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

// Amount is an unsigned-by-convention 18-decimal fixed-point value.
// The zero value is 0. Amounts are immutable; every operation returns a
// fresh value.
type Amount struct {
	v *big.Int
}

func (a Amount) raw() *big.Int {
	if a.v == nil {
		return bigZero
	}
	return a.v
}

func Zero() Amount { return Amount{} }

// NewAmount returns whole token units (units * 10^18).
func NewAmount(units int64) Amount {
	v := big.NewInt(units)
	return Amount{v: v.Mul(v, unit)}
}

// NewAmountFromRaw wraps a raw 10^-18 integer. The argument is copied.
func NewAmountFromRaw(raw *big.Int) Amount {
	if raw == nil {
		return Amount{}
	}
	return Amount{v: new(big.Int).Set(raw)}
}

// ParseAmount parses a decimal string like "10000" or "0.000001".
// More than 18 fractional digits is rejected rather than truncated.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("parse amount: empty string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	shifted := d.Shift(Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return Amount{}, fmt.Errorf("parse amount %q: more than %d decimal places", s, Decimals)
	}
	return Amount{v: shifted.BigInt()}, nil
}

func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Raw returns a copy of the underlying 10^-18 integer.
func (a Amount) Raw() *big.Int { return new(big.Int).Set(a.raw()) }

func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.raw(), -Decimals)
}

func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.raw(), b.raw())}
}

func (a Amount) Sub(b Amount) Amount {
	return Amount{v: new(big.Int).Sub(a.raw(), b.raw())}
}

func (a Amount) Cmp(b Amount) int { return a.raw().Cmp(b.raw()) }
func (a Amount) Sign() int        { return a.raw().Sign() }
func (a Amount) IsZero() bool     { return a.raw().Sign() == 0 }
func (a Amount) IsNegative() bool { return a.raw().Sign() < 0 }

func (a Amount) LessThan(b Amount) bool    { return a.Cmp(b) < 0 }
func (a Amount) GreaterThan(b Amount) bool { return a.Cmp(b) > 0 }
func (a Amount) Equal(b Amount) bool       { return a.Cmp(b) == 0 }

func Min(a, b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MulDiv computes floor(a * num / den). den must be non-zero.
func (a Amount) MulDiv(num, den Amount) Amount {
	if den.IsZero() {
		panic("math: MulDiv by zero")
	}
	product := getInt()
	defer putInt(product)
	product.Mul(a.raw(), num.raw())
	return Amount{v: new(big.Int).Quo(product, den.raw())}
}

// MulRate computes floor(a * r / RateScale).
func (a Amount) MulRate(r Rate) Amount {
	product := getInt()
	defer putInt(product)
	product.Mul(a.raw(), big.NewInt(int64(r)))
	return Amount{v: new(big.Int).Quo(product, rateScale)}
}

// DivRate computes floor(a * RateScale / r). r must be positive.
func (a Amount) DivRate(r Rate) Amount {
	if r <= 0 {
		panic("math: DivRate by non-positive rate")
	}
	product := getInt()
	defer putInt(product)
	product.Mul(a.raw(), rateScale)
	return Amount{v: new(big.Int).Quo(product, big.NewInt(int64(r)))}
}

// MulInt multiplies by a plain integer (e.g. a week count).
func (a Amount) MulInt(n int64) Amount {
	return Amount{v: new(big.Int).Mul(a.raw(), big.NewInt(n))}
}

// String renders the exact decimal value without trailing zeros.
func (a Amount) String() string { return a.Decimal().String() }

// StringFixed renders with exactly places fractional digits, truncating.
func (a Amount) StringFixed(places int32) string {
	return a.Decimal().Truncate(places).StringFixed(places)
}

// Float64 is lossy and only meant for metrics.
func (a Amount) Float64() float64 { return a.Decimal().InexactFloat64() }

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		*a = Amount{}
		return nil
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Rate is a fraction scaled by RateScale.
type Rate int64

const (
	RateZero Rate = 0
	RateOne  Rate = Rate(RateScale)
)

// IsFraction reports whether 0 <= r <= 100%.
func (r Rate) IsFraction() bool { return r >= 0 && r <= RateOne }

func (r Rate) Complement() Rate { return RateOne - r }

// String renders the rate as a percentage, e.g. "5%".
func (r Rate) String() string {
	return decimal.New(int64(r), -4).String() + "%"
}
