// proof-of-human/utils/time.go
package utils

import "time"

// TimestampLayout is the wall-clock format persisted in the database.
const TimestampLayout = "2006-01-02 15:04:05"

// GetTime returns the current time. Useful for mocking in tests.
var GetTime = time.Now

// FormatTimestamp renders a time in the persisted wall-clock format, in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a persisted wall-clock timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// IsExpired reports whether a persisted timestamp lies in the past. A
// timestamp that cannot be parsed counts as expired, so corrupt records
// drain out instead of lingering forever.
func IsExpired(s string) bool {
	t, err := ParseTimestamp(s)
	if err != nil {
		return true
	}
	return GetTime().UTC().After(t)
}
