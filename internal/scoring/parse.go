package scoring

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/marathon-scoring/internal/domain"
)

// clockTimePattern matches H:MM:SS and HH:MM:SS with an optional fractional
// seconds component of up to millisecond precision.
var clockTimePattern = regexp.MustCompile(`^(\d{1,2}):([0-5]\d):([0-5]\d)(?:\.(\d{1,3}))?$`)

// ParseClockTime converts a human-entered finish or split time into canonical
// milliseconds. Empty input and the DNF/DNS sentinels (case-insensitive)
// carry no time value and return a nil time with no error. Anything else
// that does not match the clock pattern is an input error; garbage is never
// coerced into 0 ms.
func ParseClockTime(s string) (*int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, nil
	}
	switch strings.ToUpper(trimmed) {
	case "DNF", "DNS":
		return nil, nil
	}

	m := clockTimePattern.FindStringSubmatch(trimmed)
	if m == nil {
		return nil, &domain.InputError{Field: "time", Value: s, Reason: "not H:MM:SS, DNF or DNS"}
	}

	hours, _ := strconv.ParseInt(m[1], 10, 64)
	minutes, _ := strconv.ParseInt(m[2], 10, 64)
	seconds, _ := strconv.ParseInt(m[3], 10, 64)

	ms := (hours*3600 + minutes*60 + seconds) * 1000
	if m[4] != "" {
		// ".5" means 500ms, ".05" means 50ms
		frac, _ := strconv.ParseInt(m[4]+strings.Repeat("0", 3-len(m[4])), 10, 64)
		ms += frac
	}
	return &ms, nil
}

// FormatClockTime is the inverse of ParseClockTime for display. Whole-second
// values render as H:MM:SS; sub-second values carry a trimmed fraction.
func FormatClockTime(ms int64) string {
	hours := ms / 3600000
	minutes := (ms % 3600000) / 60000
	seconds := (ms % 60000) / 1000
	frac := ms % 1000

	out := fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	if frac > 0 {
		out += strings.TrimRight(fmt.Sprintf(".%03d", frac), "0")
	}
	return out
}
