package record

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var sheetDatePattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)

// stripNumeric keeps digits and dots, plus a minus sign when it is the first
// character kept. "$1,234.50" becomes "1234.50".
func stripNumeric(s string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9', r == '.':
			sb.WriteRune(r)
		case r == '-' && sb.Len() == 0:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

// ParseNumber parses a formatted numeric cell. The bool is false when nothing
// numeric is left after stripping, so "" and "-" are absent rather than zero.
func ParseNumber(s string) (float64, bool) {
	cleaned := stripNumeric(s)
	if !hasDigit(cleaned) {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseDecimal is ParseNumber for monetary and volume values.
func ParseDecimal(s string) decimal.NullDecimal {
	cleaned := stripNumeric(s)
	if !hasDigit(cleaned) {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// ParseInt parses a whole, non-negative number such as a paint seed.
func ParseInt(s string) (int64, bool) {
	v, ok := ParseNumber(s)
	if !ok || v < 0 || v != float64(int64(v)) {
		return 0, false
	}
	return int64(v), true
}

// ParseDate accepts M/D/YYYY and returns local midnight of that day.
func ParseDate(s string) *time.Time {
	m := sheetDatePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)
	// time.Date normalizes 2/30 into March; reject those instead.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return nil
	}
	return &t
}
