package mapper

import (
	"errors"
	"regexp"
	"strings"
)

// Decimal columns hold 19 digits, DecimalScale of them after the point
const (
	DecimalScale     = 4
	decimalPrecision = 19
)

// ErrDecimalFormat is returned for decimal text that is not a plain base-10 number
var ErrDecimalFormat = errors.New("not a plain decimal number")

// ErrDecimalScale is returned when a decimal does not fit DECIMAL(19,4)
var ErrDecimalScale = errors.New("decimal does not fit 19 digits with 4 after the point")

var decimalPattern = regexp.MustCompile(`^([+-]?)(\d+)(?:\.(\d+))?$`)

// CanonicalDecimal rewrites decimal text in the form every dialect reads back:
// no sign for positives, no leading zeros, no trailing fractional zeros.
// "12.3400" and "+012.34" both become "12.34".
func CanonicalDecimal(s string) (string, error) {
	m := decimalPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", ErrDecimalFormat
	}
	sign, whole, frac := m[1], strings.TrimLeft(m[2], "0"), strings.TrimRight(m[3], "0")

	if len(frac) > DecimalScale || len(whole) > decimalPrecision-DecimalScale {
		return "", ErrDecimalScale
	}
	if whole == "" {
		whole = "0"
	}

	out := whole
	if frac != "" {
		out += "." + frac
	}
	if sign == "-" && out != "0" {
		out = "-" + out
	}
	return out, nil
}
