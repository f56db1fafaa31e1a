package core

import (
	"strconv"
	"strings"
)

// CleanRUT strips dots, dashes and surrounding whitespace from a Chilean RUT and upper-cases it.
func CleanRUT(rut string) string {
	rut = strings.TrimSpace(rut)
	rut = strings.NewReplacer(".", "", "-", "").Replace(rut)
	return strings.ToUpper(rut)
}

// FormatRUT renders a RUT as BODY-DV.
func FormatRUT(rut string) string {
	clean := CleanRUT(rut)
	if len(clean) < 2 {
		return clean
	}
	return clean[:len(clean)-1] + "-" + clean[len(clean)-1:]
}

// RUTCheckDigit computes the modulo-11 check digit of a RUT body.
// ok is false when body holds anything but digits.
func RUTCheckDigit(body string) (dv string, ok bool) {
	if body == "" {
		return "", false
	}
	sum, mul := 0, 2
	for i := len(body) - 1; i >= 0; i-- {
		c := body[i]
		if c < '0' || c > '9' {
			return "", false
		}
		sum += int(c-'0') * mul
		mul++
		if mul == 8 {
			mul = 2
		}
	}
	switch res := 11 - sum%11; res {
	case 11:
		return "0", true
	case 10:
		return "K", true
	default:
		return strconv.Itoa(res), true
	}
}

// ValidRUT reports whether rut (in any usual formatting) carries a correct check digit.
func ValidRUT(rut string) bool {
	clean := CleanRUT(rut)
	if len(clean) < 2 {
		return false
	}
	dv, ok := RUTCheckDigit(clean[:len(clean)-1])
	return ok && dv == clean[len(clean)-1:]
}
