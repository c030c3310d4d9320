package event

import (
	"strings"
	"time"

	"github.com/artpar/billmeter/domain/failure"
)

// TimestampLayout is the canonical reported_timestamp form: millisecond
// precision, always UTC. Strings in this form sort chronologically.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in the canonical form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts any RFC 3339 timestamp and returns it in UTC,
// truncated to the canonical millisecond precision.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, failure.New(failure.InvalidTimestamp, "reported_timestamp is empty")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, failure.Wrap(failure.InvalidTimestamp, err, "reported_timestamp "+s)
	}
	return t.UTC().Truncate(time.Millisecond), nil
}
