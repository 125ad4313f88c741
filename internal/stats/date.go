package stats

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day in ISO form (YYYY-MM-DD). Dates compare correctly as strings.
type Date string

// DateOf truncates an instant to its UTC calendar date.
func DateOf(t time.Time) Date {
	return Date(t.UTC().Format(dateLayout))
}

// ParseDate validates an ISO calendar date.
func ParseDate(value string) (Date, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", value, err)
	}
	return DateOf(t), nil
}

// Time returns midnight UTC for the date. Malformed dates yield the zero time.
func (d Date) Time() time.Time {
	t, err := time.Parse(dateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays shifts the date by n calendar days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d < other
}

func (d Date) String() string {
	return string(d)
}
