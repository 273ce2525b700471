package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a money value in minor units (cents). Provider payloads carry
// decimal strings or JSON numbers; they are converted only at the edges.
type Amount int64

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses "500", "500.00" or "1,500.50" into minor units,
// rounding half-up to two decimal places.
func ParseAmount(raw string) (Amount, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return AmountFromDecimal(d)
}

// ParseAmountValue accepts the loosely typed values found in callback
// metadata: strings, JSON numbers and float64.
func ParseAmountValue(v any) (Amount, error) {
	switch typed := v.(type) {
	case string:
		return ParseAmount(typed)
	case json.Number:
		return ParseAmount(typed.String())
	case float64:
		return AmountFromDecimal(decimal.NewFromFloat(typed))
	case int:
		return AmountFromDecimal(decimal.NewFromInt(int64(typed)))
	case int64:
		return AmountFromDecimal(decimal.NewFromInt(typed))
	case nil:
		return 0, fmt.Errorf("%w: missing", ErrInvalidAmount)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidAmount, v)
	}
}

func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	return Amount(d.Shift(2).Round(0).IntPart()), nil
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String renders the amount with exactly two decimals, e.g. "500.00".
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// Number renders the amount as a JSON number without trailing zeros,
// which is what the payment backends expect in request bodies.
func (a Amount) Number() json.Number {
	return json.Number(a.Decimal().String())
}
