package transcript

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	isoStampRe      = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})(?:[ T](\d{2}):(\d{2}))?`)
	readableStampRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?),?\s+(\d{4})(?:,?\s+(\d{1,2}):(\d{2}))?`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// findTimestamp returns the first date found scanning lines in order.
// Dates without a zone are taken as UTC.
func findTimestamp(lines []string) (time.Time, bool) {
	for _, l := range lines {
		if ts, ok := parseISO(l); ok {
			return ts, true
		}
		if ts, ok := parseReadable(l); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

func parseISO(line string) (time.Time, bool) {
	m := isoStampRe.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}
	month, _ := strconv.Atoi(m[2])
	return build(m[1], time.Month(month), m[3], m[4], m[5])
}

func parseReadable(line string) (time.Time, bool) {
	m := readableStampRe.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := months[strings.ToLower(m[2])[:3]]
	if !ok {
		return time.Time{}, false
	}
	return build(m[3], month, m[1], m[4], m[5])
}

func build(year string, month time.Month, day, hour, minute string) (time.Time, bool) {
	y, _ := strconv.Atoi(year)
	d, _ := strconv.Atoi(day)
	h, _ := strconv.Atoi(hour)
	mi, _ := strconv.Atoi(minute)

	if month < time.January || month > time.December || d < 1 || d > 31 || h > 23 || mi > 59 {
		return time.Time{}, false
	}
	ts := time.Date(y, month, d, h, mi, 0, 0, time.UTC)
	// Reject dates that normalized into another month, e.g. 31 February.
	if ts.Day() != d {
		return time.Time{}, false
	}
	return ts, true
}
