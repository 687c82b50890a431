package money

import (
	"fmt"
	"math/big"
	"strings"
)

// PicomobDecimals is the number of decimal places in the ledger's base unit
// (1 MOB = 10^12 picoMOB).
const PicomobDecimals = 12

// Amount is a ledger amount in picoMOB base units. The zero value is zero
// picoMOB and is safe to use.
type Amount struct {
	v big.Int
}

// NewAmount creates an Amount from a big.Int of base units. A nil input is
// treated as zero.
func NewAmount(i *big.Int) Amount {
	var a Amount
	if i != nil {
		a.v.Set(i)
	}
	return a
}

// NewAmountFromUint64 creates an Amount from base units.
func NewAmountFromUint64(u uint64) Amount {
	var a Amount
	a.v.SetUint64(u)
	return a
}

// ParseAmount parses a base-10 string of base units.
func ParseAmount(s string) (Amount, error) {
	var a Amount
	if _, ok := a.v.SetString(s, 10); !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	return a, nil
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	var r Amount
	r.v.Add(&a.v, &b.v)
	return r
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	var r Amount
	r.v.Sub(&a.v, &b.v)
	return r
}

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	var r Amount
	r.v.Abs(&a.v)
	return r
}

// Cmp compares a and b, returning -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// Sign returns -1, 0 or +1 depending on the sign of the amount.
func (a Amount) Sign() int {
	return a.v.Sign()
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.v.Sign() == 0
}

// BigInt returns a copy of the underlying base-unit value.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(&a.v)
}

// String returns the base-unit value in base 10.
func (a Amount) String() string {
	return a.v.String()
}

// MOB renders the amount as a human-readable MOB string, e.g.
// 1500000000000 picoMOB -> "1.5".
func (a Amount) MOB() string {
	return FromBaseUnits(&a.v, PicomobDecimals)
}

// MarshalJSON encodes the amount as a base-10 string to avoid precision
// loss in JSON number parsing.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.v.String() + `"`), nil
}

// UnmarshalJSON accepts "123", 123 or null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		a.v.SetInt64(0)
		return nil
	}
	if _, ok := a.v.SetString(s, 10); !ok {
		return fmt.Errorf("cannot unmarshal %s into Amount", string(data))
	}
	return nil
}

// ToBaseUnits converts a human-readable amount string to base units.
// Handles decimal inputs like "1.5" -> 1500000000000 for 12 decimals.
// String manipulation is used to avoid floating point precision issues.
func ToBaseUnits(amountStr string, decimals int) (*big.Int, error) {
	if amountStr == "" {
		return nil, fmt.Errorf("amount is required")
	}

	parts := strings.Split(amountStr, ".")

	intPart := parts[0]
	if intPart == "" {
		intPart = "0"
	}

	decPart := ""
	if len(parts) > 1 {
		decPart = parts[1]
	}

	// Pad or truncate decimal part to match decimals
	if len(decPart) < decimals {
		decPart = decPart + strings.Repeat("0", decimals-len(decPart))
	} else if len(decPart) > decimals {
		decPart = decPart[:decimals]
	}

	combined := intPart + decPart

	// Remove leading zeros (but keep at least one digit)
	combined = strings.TrimLeft(combined, "0")
	if combined == "" {
		combined = "0"
	}

	result := new(big.Int)
	if _, ok := result.SetString(combined, 10); !ok {
		return nil, fmt.Errorf("invalid amount format")
	}

	return result, nil
}

// FromBaseUnits converts base units to a human-readable string,
// e.g. 1500000000000 with 12 decimals -> "1.5".
func FromBaseUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}

	str := amount.String()
	if decimals == 0 {
		return str
	}

	for len(str) <= decimals {
		str = "0" + str
	}

	pos := len(str) - decimals
	result := str[:pos] + "." + str[pos:]

	// Trim trailing zeros after decimal point
	result = strings.TrimRight(result, "0")
	result = strings.TrimRight(result, ".")

	if result == "" {
		return "0"
	}

	return result
}
