package fund

import (
	"fmt"
	"math/big"
	"strings"
)

// TokenDecimals is the scale of the claim token and of every internally
// tracked valuation figure.
const TokenDecimals uint8 = 18

// Value is an unsigned fixed-point decimal: an integer amount tagged with the
// number of decimal places it carries. Arithmetic between two Values rescales
// the right operand to the left operand's scale before combining, and the
// result keeps the left operand's scale. Division and downscaling truncate
// toward zero, so rounding dust stays in the numerator's favour.
type Value struct {
	Amount   *big.Int
	Decimals uint8
}

// NewValue wraps the supplied amount without cloning. Callers that need to
// retain ownership of the input should pass a copy.
func NewValue(amount *big.Int, decimals uint8) Value {
	if amount == nil {
		amount = big.NewInt(0)
	}
	return Value{Amount: amount, Decimals: decimals}
}

// NewValueFromUint64 builds a Value from a native integer amount.
func NewValueFromUint64(amount uint64, decimals uint8) Value {
	return Value{Amount: new(big.Int).SetUint64(amount), Decimals: decimals}
}

// ZeroValue returns a zero amount at the requested scale.
func ZeroValue(decimals uint8) Value {
	return Value{Amount: big.NewInt(0), Decimals: decimals}
}

// OneValue returns the unit amount (1.0) at the requested scale.
func OneValue(decimals uint8) Value {
	return Value{Amount: pow10(decimals), Decimals: decimals}
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

func (v Value) amount() *big.Int {
	if v.Amount == nil {
		return big.NewInt(0)
	}
	return v.Amount
}

// Clone returns a deep copy so callers can mutate the result safely.
func (v Value) Clone() Value {
	return Value{Amount: new(big.Int).Set(v.amount()), Decimals: v.Decimals}
}

// Rescale converts the value to the requested scale. Upscaling is exact;
// downscaling truncates toward zero.
func (v Value) Rescale(decimals uint8) Value {
	if v.Decimals == decimals {
		return v.Clone()
	}
	amount := new(big.Int).Set(v.amount())
	if decimals > v.Decimals {
		amount.Mul(amount, pow10(decimals-v.Decimals))
	} else {
		amount.Quo(amount, pow10(v.Decimals-decimals))
	}
	return Value{Amount: amount, Decimals: decimals}
}

// Add returns v + o at v's scale.
func (v Value) Add(o Value) Value {
	sum := new(big.Int).Add(v.amount(), o.Rescale(v.Decimals).amount())
	return Value{Amount: sum, Decimals: v.Decimals}
}

// Sub returns v - o at v's scale. Values are unsigned, so a result below zero
// is an underflow error.
func (v Value) Sub(o Value) (Value, error) {
	diff := new(big.Int).Sub(v.amount(), o.Rescale(v.Decimals).amount())
	if diff.Sign() < 0 {
		return Value{}, ErrValueUnderflow
	}
	return Value{Amount: diff, Decimals: v.Decimals}, nil
}

// Mul returns v × o at v's scale, truncating toward zero.
func (v Value) Mul(o Value) Value {
	product := new(big.Int).Mul(v.amount(), o.Rescale(v.Decimals).amount())
	product.Quo(product, pow10(v.Decimals))
	return Value{Amount: product, Decimals: v.Decimals}
}

// Div returns v / o at v's scale using integer division semantics.
func (v Value) Div(o Value) (Value, error) {
	divisor := o.Rescale(v.Decimals).amount()
	if divisor.Sign() == 0 {
		return Value{}, ErrDivisionByZero
	}
	quotient := new(big.Int).Mul(v.amount(), pow10(v.Decimals))
	quotient.Quo(quotient, divisor)
	return Value{Amount: quotient, Decimals: v.Decimals}, nil
}

// Cmp compares v against o after rescaling o to v's scale. It returns -1, 0
// or 1 with the usual semantics.
func (v Value) Cmp(o Value) int {
	return v.amount().Cmp(o.Rescale(v.Decimals).amount())
}

// IsZero reports whether the amount is exactly zero.
func (v Value) IsZero() bool {
	return v.amount().Sign() == 0
}

// String renders the value as a plain decimal, e.g. "1.5" for {15, 1}.
func (v Value) String() string {
	amount := v.amount().String()
	if v.Decimals == 0 {
		return amount
	}
	digits := int(v.Decimals)
	if len(amount) <= digits {
		amount = strings.Repeat("0", digits-len(amount)+1) + amount
	}
	whole := amount[:len(amount)-digits]
	frac := strings.TrimRight(amount[len(amount)-digits:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// Float64 renders the value as a float for metrics export. Precision loss is
// acceptable there; accounting paths never use this.
func (v Value) Float64() float64 {
	f, _ := new(big.Rat).SetFrac(v.amount(), pow10(v.Decimals)).Float64()
	return f
}

// ParseValue parses a plain decimal string ("1", "0.05") into a Value at the
// requested scale. Excess fractional digits are rejected rather than rounded.
func ParseValue(s string, decimals uint8) (Value, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Value{}, fmt.Errorf("fund: empty value")
	}
	whole := trimmed
	frac := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole = trimmed[:idx]
		frac = trimmed[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return Value{}, fmt.Errorf("fund: value %q exceeds %d decimal places", s, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))
	amount, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || amount.Sign() < 0 {
		return Value{}, fmt.Errorf("fund: invalid value %q", s)
	}
	return Value{Amount: amount, Decimals: decimals}, nil
}
