package httpx

import "time"

// ParseDate parses a query-string date, accepting a bare date or a full
// RFC 3339 timestamp.
func ParseDate(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
