package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency identifies how a session window repeats.
type Frequency string

// Supported repeat frequencies. Anything else is treated as no repetition.
const (
	FrequencyNone   Frequency = ""
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Window is one concrete start/end pair produced by rule expansion.
type Window struct {
	StartsAt time.Time
	EndsAt   time.Time
}

// Generate expands a session window into occurrence windows. Count is
// clamped to a minimum of 1; a non-positive count yields a single window
// rather than an error. Daily shifts step i by i days, weekly by i weeks.
// Unrecognized frequencies repeat the original window unchanged. The
// function is pure and safe for concurrent use.
func Generate(startsAt, endsAt time.Time, frequency Frequency, count int) []Window {
	if count < 1 {
		count = 1
	}

	windows := make([]Window, 0, count)
	for i := 0; i < count; i++ {
		switch frequency {
		case FrequencyDaily:
			windows = append(windows, Window{
				StartsAt: startsAt.AddDate(0, 0, i),
				EndsAt:   endsAt.AddDate(0, 0, i),
			})
		case FrequencyWeekly:
			windows = append(windows, Window{
				StartsAt: startsAt.AddDate(0, 0, i*7),
				EndsAt:   endsAt.AddDate(0, 0, i*7),
			})
		default:
			windows = append(windows, Window{StartsAt: startsAt, EndsAt: endsAt})
		}
	}

	return windows
}

// ToRule serializes a frequency and count into the persisted rule string,
// e.g. "FREQ=WEEKLY;COUNT=3". Returns nil for an empty frequency so
// non-recurring sessions store no rule.
func ToRule(frequency Frequency, count int) *string {
	if frequency == FrequencyNone {
		return nil
	}
	if count < 1 {
		count = 1
	}

	rule := fmt.Sprintf("FREQ=%s;COUNT=%d", strings.ToUpper(string(frequency)), count)
	return &rule
}

// FromRule parses a persisted rule string back into its frequency and
// count. A nil or empty rule yields (FrequencyNone, 1). Segment keys and
// values are lower-cased, unknown segments are ignored, and segments
// without a "=" are tolerated as having an empty value.
func FromRule(rule *string) (Frequency, int) {
	if rule == nil || *rule == "" {
		return FrequencyNone, 1
	}

	frequency := FrequencyNone
	count := 1
	for _, segment := range strings.Split(*rule, ";") {
		key, value, _ := strings.Cut(segment, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.ToLower(strings.TrimSpace(value))

		switch key {
		case "freq":
			frequency = Frequency(value)
		case "count":
			count = parseCount(value)
		}
	}

	return frequency, count
}

func parseCount(value string) int {
	count, err := strconv.Atoi(value)
	if err != nil || count < 1 {
		return 1
	}
	return count
}
