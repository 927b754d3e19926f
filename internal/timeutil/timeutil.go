package timeutil

import "time"

func StartOfDay(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, value.Location())
}

// DateString formats the UTC calendar day of value as YYYY-MM-DD.
func DateString(value time.Time) string {
	return value.UTC().Format(time.DateOnly)
}

// ParseDate parses a YYYY-MM-DD day as UTC midnight.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, value, time.UTC)
}
