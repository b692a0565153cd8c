package name

import (
	"time"
)

var dobFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

// ParseDOB parses a date of birth. Dates strictly after today are
// rejected the same way as garbage input: ok is false.
func ParseDOB(s string) (time.Time, bool) {
	return parseDOBAt(s, time.Now())
}

func parseDOBAt(s string, now time.Time) (time.Time, bool) {
	for _, format := range dobFormats {
		d, err := time.Parse(format, s)
		if err != nil {
			continue
		}
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if d.After(today) {
			return time.Time{}, false
		}
		return d, true
	}
	return time.Time{}, false
}
