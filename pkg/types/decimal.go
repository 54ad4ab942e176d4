package types

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	qerrors "github.com/quarrydb/quarry/internal/errors"
)

// pow10 holds 10^0 .. 10^18, every power that fits an int64.
var pow10 = func() [MaxDecimalPrecision + 1]int64 {
	var p [MaxDecimalPrecision + 1]int64
	p[0] = 1
	for i := 1; i < len(p); i++ {
		p[i] = p[i-1] * 10
	}
	return p
}()

// Pow10 returns 10^n for 0 <= n <= 18. n is clamped to that range.
func Pow10(n int32) int64 {
	switch {
	case n < 0:
		n = 0
	case n > MaxDecimalPrecision:
		n = MaxDecimalPrecision
	}
	return pow10[n]
}

// ToDecimal converts an unscaled value at the given scale to an exact decimal.
func ToDecimal(unscaled int64, scale int32) decimal.Decimal {
	return decimal.New(unscaled, -scale)
}

// FromDecimal converts d to an unscaled int64 at scale, rounding half away
// from zero. It fails with DECIMAL_OVERFLOW when the result does not fit.
func FromDecimal(d decimal.Decimal, scale int32) (int64, error) {
	scaled := d.Round(scale).Shift(scale)
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, qerrors.NewExpressionError(qerrors.CodeDecimalOverflow,
			fmt.Sprintf("decimal %s does not fit 18 digits at scale %d", d.String(), scale))
	}
	return bi.Int64(), nil
}

// ParseDecimal parses text such as "1234.56" into an unscaled value at scale.
func ParseDecimal(text string, scale int32) (int64, error) {
	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, qerrors.TypeMismatch("invalid decimal literal %q: %v", text, err)
	}
	return FromDecimal(d, scale)
}

// FormatDecimal renders an unscaled value with exactly scale fraction digits.
func FormatDecimal(unscaled int64, scale int32) string {
	return ToDecimal(unscaled, scale).StringFixed(scale)
}

// Rescale changes the scale of an unscaled value. Scaling up is exact and
// fails on overflow; scaling down rounds half away from zero.
func Rescale(unscaled int64, from, to int32) (int64, error) {
	switch {
	case from == to:
		return unscaled, nil
	case to > from:
		if to-from > MaxDecimalPrecision {
			if unscaled == 0 {
				return 0, nil
			}
			return 0, qerrors.NewExpressionError(qerrors.CodeDecimalOverflow,
				fmt.Sprintf("cannot rescale %d from scale %d to %d", unscaled, from, to))
		}
		return MulChecked(unscaled, Pow10(to-from))
	default:
		return RoundHalfAwayFromZero(unscaled, from-to), nil
	}
}

// RoundHalfAwayFromZero drops digits low-order decimal digits from v,
// rounding half away from zero.
func RoundHalfAwayFromZero(v int64, digits int32) int64 {
	if digits <= 0 {
		return v
	}
	if digits > MaxDecimalPrecision {
		return 0
	}
	div := Pow10(digits)
	q, r := v/div, v%div
	if r < 0 {
		r = -r
	}
	if r*2 >= div {
		if v < 0 {
			q--
		} else {
			q++
		}
	}
	return q
}

// AddChecked returns a+b or DECIMAL_OVERFLOW.
func AddChecked(a, b int64) (int64, error) {
	c := a + b
	if (c > a) != (b > 0) {
		return 0, overflowError("addition", a, b)
	}
	return c, nil
}

// SubChecked returns a-b or DECIMAL_OVERFLOW.
func SubChecked(a, b int64) (int64, error) {
	c := a - b
	if (c < a) != (b > 0) {
		return 0, overflowError("subtraction", a, b)
	}
	return c, nil
}

// MulChecked returns a*b or DECIMAL_OVERFLOW.
func MulChecked(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) || c/b != a {
		return 0, overflowError("multiplication", a, b)
	}
	return c, nil
}

func overflowError(op string, a, b int64) error {
	return qerrors.NewExpressionError(qerrors.CodeDecimalOverflow,
		fmt.Sprintf("int64 overflow in %s of %d and %d", op, a, b)).
		WithDetails(map[string]interface{}{"left": a, "right": b})
}
