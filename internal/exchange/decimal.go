package exchange

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultQtyPrecision is the number of decimals kept when sending quantities.
const DefaultQtyPrecision = 6

// FormatQty renders q truncated (never rounded up) to places decimals, so a
// sized quantity is never inflated past the balance it was sized against.
func FormatQty(q float64, places int32) string {
	return decimal.NewFromFloat(q).Truncate(places).String()
}

// FormatPrice renders p rounded to places decimals.
func FormatPrice(p float64, places int32) string {
	return decimal.NewFromFloat(p).Round(places).String()
}

// ParseFloat parses a decimal string from an exchange payload.
func ParseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// Number decodes a JSON number that exchanges send either bare or quoted.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	v, err := ParseFloat(string(b))
	if err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

func (n Number) Float() float64 { return float64(n) }
