package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a rupiah value decoded leniently: absent, null or non-numeric input becomes 0.
// Numeric strings are accepted. Fractional and out-of-range values are rejected.
type Amount int64

// maxExactFloat is the largest magnitude a float64 holds without losing whole units.
const maxExactFloat = 1 << 53

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var raw string
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*a = 0
		return nil
	case data[0] == '"':
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		raw = string(data)
	default:
		*a = 0
		return nil
	}

	value, err := parseAmount(raw)
	if err != nil {
		return err
	}
	*a = value
	return nil
}

// parseAmount reads integer literals exactly. Decimal and exponent forms go through float64 and
// must be whole and small enough to convert without rounding. Non-numeric text yields 0.
func parseAmount(raw string) (Amount, error) {
	whole, err := strconv.ParseInt(raw, 10, 64)
	if err == nil {
		return Amount(whole), nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("amount %s is out of range", raw)
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("amount %s is out of range", raw)
		}
		return 0, nil
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, nil
	}
	if value != math.Trunc(value) {
		return 0, fmt.Errorf("amount %s is not a whole rupiah value", raw)
	}
	if math.Abs(value) > maxExactFloat {
		return 0, fmt.Errorf("amount %s is out of range", raw)
	}
	return Amount(value), nil
}

// Int64 returns the plain value.
func (a Amount) Int64() int64 {
	return int64(a)
}
