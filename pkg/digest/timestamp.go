package digest

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the textual timestamp format used in result documents.
// Fractional seconds after the seconds field are accepted with any number of
// digits.
const TimestampLayout = "20060102 15:04:05"

// ParseTimestamp parses a result timestamp into a zone-less instant (UTC
// location, wall clock kept as written). Empty and "N/A" values yield nil.
func ParseTimestamp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return nil, nil
	}

	t, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}

	return &t, nil
}
