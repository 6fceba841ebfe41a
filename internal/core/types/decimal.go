// Package types provides the fixed-point value types shared by lines, matches and costs.
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a unit cost or a total with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// NewMoneyFromString creates a Money value from a string.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	d, err := NewMoneyFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// MoneyPlaces is the number of fractional digits a stored unit cost keeps.
// It matches the NUMERIC(20, 6) cost columns.
const MoneyPlaces int32 = 6

// maxMoney is the first value the cost columns cannot hold.
var maxMoney = decimal.New(1, 20-MoneyPlaces)

// MoneyFits reports whether m can be stored without rounding or overflow.
func MoneyFits(m Money) bool {
	return m.Equal(m.Truncate(MoneyPlaces)) && m.Abs().LessThan(maxMoney)
}

// Zero returns zero Money value.
func Zero() Money {
	return decimal.Zero
}

// Quantity is a fixed-point quantity with 4 decimal places (scale = 1e4).
//
// Stored as BIGINT (scaled integer) so sums and comparisons on remaining
// quantity are exact in both Go and SQL.
type Quantity int64

// QuantityScale is the number of Quantity units per whole unit.
const QuantityScale int64 = 10_000

// QuantityPlaces is the number of fractional digits of a Quantity.
const QuantityPlaces int32 = 4

// ErrQuantityRange is returned for values that do not fit a scaled int64.
var ErrQuantityRange = errors.New("quantity out of range")

// maxUnits is the largest whole number of units a Quantity can hold.
const maxUnits = math.MaxInt64 / QuantityScale

// QuantityFromUnits creates a Quantity from a whole number of units.
func QuantityFromUnits(units int64) (Quantity, error) {
	if units > maxUnits || units < -maxUnits {
		return 0, fmt.Errorf("%d units: %w", units, ErrQuantityRange)
	}
	return Quantity(units * QuantityScale), nil
}

// NewQuantity is QuantityFromUnits for constants and tests; it panics when
// units are out of range.
func NewQuantity(units int64) Quantity {
	q, err := QuantityFromUnits(units)
	if err != nil {
		panic(err)
	}
	return q
}

// NewQuantityFromInt64Scaled wraps an already scaled value.
func NewQuantityFromInt64Scaled(v int64) Quantity { return Quantity(v) }

// NewQuantityFromDecimal rounds d to 4 places and converts it to a Quantity.
func NewQuantityFromDecimal(d decimal.Decimal) Quantity {
	return Quantity(d.Shift(QuantityPlaces).Round(0).IntPart())
}

// MustQuantity parses a decimal string, panics on error.
// Use only for constants and tests.
func MustQuantity(s string) Quantity {
	q, err := ParseQuantity(s)
	if err != nil {
		panic(err)
	}
	return q
}

func (q Quantity) Int64Scaled() int64 { return int64(q) }

// Decimal returns the exact decimal value of q.
func (q Quantity) Decimal() decimal.Decimal { return decimal.New(int64(q), -QuantityPlaces) }

func (q Quantity) IsZero() bool { return q == 0 }

func (q Quantity) IsPositive() bool { return q > 0 }

func (q Quantity) IsNegative() bool { return q < 0 }

// MinQuantity returns the smaller of a and b.
func MinQuantity(a, b Quantity) Quantity {
	if a < b {
		return a
	}
	return b
}

// String returns a decimal string with 4 fractional digits.
func (q Quantity) String() string {
	neg := q < 0
	v := q
	if neg {
		v = -v
	}
	intPart := int64(v) / QuantityScale
	frac := int64(v) % QuantityScale
	if neg {
		return fmt.Sprintf("-%d.%04d", intPart, frac)
	}
	return fmt.Sprintf("%d.%04d", intPart, frac)
}

// MarshalJSON encodes Quantity as JSON number (not string), preserving 4 digits.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalJSON accepts either a JSON number or string and parses to fixed-point (4 digits).
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = 0
		return nil
	}

	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}

	parsed, err := ParseQuantity(string(data))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// ParseQuantity parses a plain decimal string ("12", "-0.5", "3.1415").
// Digits beyond the fourth fractional place are rejected rather than truncated.
func ParseQuantity(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	if strings.ContainsAny(s, "eE") {
		return 0, fmt.Errorf("parse quantity %q: exponent form is not supported", s)
	}

	sign := int64(1)
	if strings.HasPrefix(s, "-") {
		sign = -1
		s = strings.TrimPrefix(s, "-")
	} else {
		s = strings.TrimPrefix(s, "+")
	}

	intPartStr, fracStr, _ := strings.Cut(s, ".")
	if !isDigits(intPartStr) || !isDigits(fracStr) || intPartStr+fracStr == "" {
		return 0, fmt.Errorf("parse quantity %q: not a decimal number", s)
	}
	if intPartStr == "" {
		intPartStr = "0"
	}
	intPart, err := strconv.ParseInt(intPartStr, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("parse quantity %q: %w", s, ErrQuantityRange)
		}
		return 0, fmt.Errorf("parse quantity integer part: %w", err)
	}

	fracStr = strings.TrimRight(fracStr, "0")
	if len(fracStr) > int(QuantityPlaces) {
		return 0, fmt.Errorf("parse quantity %q: more than %d fractional digits", s, QuantityPlaces)
	}
	for len(fracStr) < int(QuantityPlaces) {
		fracStr += "0"
	}
	frac, err := strconv.ParseInt(fracStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse quantity fractional part: %w", err)
	}

	if intPart > (math.MaxInt64-frac)/QuantityScale {
		return 0, fmt.Errorf("parse quantity %q: %w", s, ErrQuantityRange)
	}
	return Quantity(sign * (intPart*QuantityScale + frac)), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
