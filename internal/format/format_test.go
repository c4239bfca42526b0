package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArea(t *testing.T) {
	tests := []struct {
		m2   float64
		unit string
		want string
	}{
		{50_000_000, UnitAuto, "50.00 km²"},
		{9_999, UnitAuto, "9999.00 m²"},
		{10_000, UnitAuto, "1.00 ha"},
		{999_999, UnitAuto, "100.00 ha"},
		{1_000_000, UnitAuto, "1.00 km²"},
		{25_000, UnitHa, "2.50 ha"},
		{25_000, UnitKm2, "0.03 km²"},
		{25, "acres", "25.00 m²"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Area(tt.m2, tt.unit), "Area(%v, %q)", tt.m2, tt.unit)
	}
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "1.234.567,89", Number(1234567.89, 2))
	assert.Equal(t, "123,4", Number(123.4, 1))
	assert.Equal(t, "1.000", Number(1000, 0))
	assert.Equal(t, "-12.345,00", Number(-12345, 2))
	assert.Equal(t, "0,00", Number(-0.001, 2))
	assert.Equal(t, "1,234,567.89", NumberLocale(1234567.89, 2, "en"))
}

func TestDate(t *testing.T) {
	assert.Equal(t, "14/11/2025", Date("2025-11-14", ""))
	assert.Equal(t, "14/11/2025", Date("2025-11-14T14:45:30.123456", ""))
	assert.Equal(t, "2025", Date("2025-11-14T14:45:30Z", "2006"))
	assert.Equal(t, "not a date", Date("not a date", ""))
}

func TestDateTime(t *testing.T) {
	ts := time.Date(2025, 11, 14, 9, 5, 0, 0, time.UTC)
	assert.Equal(t, "14/11/2025", DateTime(ts, ""))
	assert.Equal(t, "09:05", DateTime(ts, "15:04"))
}
