// Package format renders numbers, areas and dates for reports and CLI output.
// Numbers follow the Brazilian convention (thousands ".", decimals ",") unless
// a different locale is requested.
package format

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Area units accepted by Area.
const (
	UnitAuto = "auto"
	UnitHa   = "ha"
	UnitKm2  = "km2"
	UnitM2   = "m2"
)

// DefaultDateLayout is dd/mm/yyyy.
const DefaultDateLayout = "02/01/2006"

// Area formats an area given in square meters.
// In auto mode areas below one hectare stay in m², below one km² use ha, and
// everything else uses km².
func Area(m2 float64, unit string) string {
	switch unit {
	case UnitAuto, "":
		switch {
		case m2 < 10_000:
			return strconv.FormatFloat(m2, 'f', 2, 64) + " m²"
		case m2 < 1_000_000:
			return strconv.FormatFloat(m2/10_000, 'f', 2, 64) + " ha"
		default:
			return strconv.FormatFloat(m2/1_000_000, 'f', 2, 64) + " km²"
		}
	case UnitHa:
		return strconv.FormatFloat(m2/10_000, 'f', 2, 64) + " ha"
	case UnitKm2:
		return strconv.FormatFloat(m2/1_000_000, 'f', 2, 64) + " km²"
	default:
		return strconv.FormatFloat(m2, 'f', 2, 64) + " m²"
	}
}

// Number formats v with the given number of decimals using "." as the
// thousands separator and "," as the decimal separator (1234567.89 -> 1.234.567,89).
func Number(v float64, decimals int) string {
	return NumberLocale(v, decimals, "pt-BR")
}

// NumberLocale formats v for the given locale. "en" and "en-US" use "," for
// thousands and "." for decimals; everything else uses the pt-BR convention.
func NumberLocale(v float64, decimals int, locale string) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	if math.IsInf(v, 0) {
		if v > 0 {
			return "∞"
		}
		return "-∞"
	}
	if decimals < 0 {
		decimals = 0
	}

	thousands, decimal := ".", ","
	if locale == "en" || locale == "en-US" {
		thousands, decimal = ",", "."
	}

	s := strconv.FormatFloat(math.Abs(v), 'f', decimals, 64)
	intPart, fracPart, _ := strings.Cut(s, ".")

	groups := make([]string, 0, len(intPart)/3+1)
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)

	var b strings.Builder
	if v < 0 && strings.Trim(s, "0.") != "" {
		b.WriteByte('-')
	}
	b.WriteString(strings.Join(groups, thousands))
	if fracPart != "" {
		b.WriteString(decimal)
		b.WriteString(fracPart)
	}
	return b.String()
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISO parses the ISO-8601 shapes written by HydroAI and by Python's
// datetime.isoformat.
func ParseISO(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Date reformats an ISO-8601 string. Unparsable input is returned unchanged.
func Date(s, layout string) string {
	t, ok := ParseISO(s)
	if !ok {
		return s
	}
	return DateTime(t, layout)
}

// DateTime formats t, defaulting to dd/mm/yyyy.
func DateTime(t time.Time, layout string) string {
	if layout == "" {
		layout = DefaultDateLayout
	}
	return t.Format(layout)
}
