package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the civil-date layout used on every external surface.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD civil date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// FormatCents renders an amount in cents as a dollar string, e.g. "$12.50".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// DollarsToCents converts a dollar amount to cents, rounding half away from zero.
func DollarsToCents(dollars float64) int64 {
	if dollars < 0 {
		return -int64(-dollars*100 + 0.5)
	}
	return int64(dollars*100 + 0.5)
}
