// Package parsing converts user-supplied time expressions into concrete
// instants and windows. All relative expressions are anchored on an
// injected clock so tests can pin "now".
package parsing

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
	"k8s.io/utils/clock"
)

// unixMillisThreshold separates second-resolution unix timestamps from
// millisecond-resolution ones by magnitude.
const unixMillisThreshold = 1e10

var (
	nowMinusPattern      = regexp.MustCompile(`(?i)^\s*now\s*-\s*(.+)$`)
	durationTokenPattern = regexp.MustCompile(`(?i)^(\d+)\s*(s|sec|secs|second|seconds|m|min|mins|minute|minutes|h|hr|hrs|hour|hours|d|day|days)$`)
)

// Clock is the package-wide time source. Production code keeps the real
// clock; tests swap in a clocktesting.FakeClock.
var Clock clock.PassiveClock = clock.RealClock{}

// Timestamp parses a timestamp string and returns the instant in UTC.
// fieldName is used in error messages (e.g. "start_time").
//
// Supported forms, tried in order:
//   - Unix seconds or milliseconds ("1609459200", "1609459200000")
//   - "now-<N><unit>" relative expressions ("now-2h", "now-30m")
//   - anything go-dateparser accepts ("2024-01-01", "yesterday", "2h ago")
func Timestamp(timestampStr, fieldName string) (time.Time, error) {
	if strings.TrimSpace(timestampStr) == "" {
		return time.Time{}, NewParsingError("%s timestamp is required", fieldName)
	}

	if unix, err := strconv.ParseInt(strings.TrimSpace(timestampStr), 10, 64); err == nil {
		if unix < 0 {
			return time.Time{}, NewParsingError("%s timestamp must be non-negative", fieldName)
		}
		if float64(unix) > unixMillisThreshold {
			return time.UnixMilli(unix).UTC(), nil
		}
		return time.Unix(unix, 0).UTC(), nil
	}

	trimmed := strings.TrimSpace(timestampStr)
	if m := nowMinusPattern.FindStringSubmatch(trimmed); m != nil {
		// Looks like "now-...": parse it or fail, never fall through to
		// the date parser.
		d, err := parseDurationToken(m[1], fieldName)
		if err != nil {
			return time.Time{}, err
		}
		return Clock.Now().UTC().Add(-d), nil
	}

	parser := dps.Parser{}
	cfg := &dps.Configuration{
		CurrentTime:         Clock.Now().UTC(),
		PreferredDateSource: dps.CurrentPeriod,
	}
	parsed, err := parser.Parse(cfg, timestampStr)
	if err != nil {
		return time.Time{}, NewParsingError("%s must be a valid Unix timestamp or human-readable date: %v", fieldName, err)
	}
	if parsed.IsZero() {
		return time.Time{}, NewParsingError("%s could not be parsed as a valid date: %s", fieldName, timestampStr)
	}
	return parsed.Time.UTC(), nil
}

// OptionalTimestamp parses a timestamp string, returning the zero time
// when the input is empty.
func OptionalTimestamp(timestampStr, fieldName string) (time.Time, error) {
	if strings.TrimSpace(timestampStr) == "" {
		return time.Time{}, nil
	}
	return Timestamp(timestampStr, fieldName)
}

// Duration parses a compact duration string ("30s", "5m", "2h", "1d").
// A bare number defaults to minutes; an empty string defaults to 5m.
func Duration(durationStr string) (time.Duration, error) {
	trimmed := strings.TrimSpace(durationStr)
	if trimmed == "" {
		return 5 * time.Minute, nil
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if n < 0 {
			return 0, NewParsingError("duration must be non-negative: %s", durationStr)
		}
		return time.Duration(n) * time.Minute, nil
	}
	return parseDurationToken(trimmed, "duration")
}

func parseDurationToken(token, fieldName string) (time.Duration, error) {
	m := durationTokenPattern.FindStringSubmatch(strings.TrimSpace(token))
	if m == nil {
		return 0, NewParsingError("%s: invalid duration %q. Expected format: '<number><unit>' (e.g. '30s', '5m', '2h', '1d')", fieldName, token)
	}
	amount, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, NewParsingError("%s: invalid number in duration: %s", fieldName, m[1])
	}
	switch strings.ToLower(m[2])[0] {
	case 's':
		return time.Duration(amount) * time.Second, nil
	case 'm':
		return time.Duration(amount) * time.Minute, nil
	case 'h':
		return time.Duration(amount) * time.Hour, nil
	case 'd':
		return time.Duration(amount) * 24 * time.Hour, nil
	}
	return 0, NewParsingError("%s: unsupported duration unit: %s", fieldName, m[2])
}
