package normalize

import (
	"strconv"
	"strings"
	"time"
)

// monthNames maps full and abbreviated month names to month numbers.
var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// parsedDate is the outcome of interpreting one day/month/year triple
// against the accepted formats, in order. Ambiguous means more than one
// accepted format parsed the input with different results; the value must
// not be used, per the never-guess rule.
type parsedDate struct {
	Value     time.Time
	Ambiguous bool
}

// parseDayMonthYear interprets a date captured as separate day, month, and
// year fragments. Month may be a name ("January"), an abbreviation, or a
// number. Numeric months are tried day-first (the canonical UK reading) and
// month-first; when both readings are valid and disagree the date is
// ambiguous.
func parseDayMonthYear(dayStr, monthStr, yearStr string) (parsedDate, bool) {
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return parsedDate{}, false
	}
	day, err := strconv.Atoi(dayStr)
	if err != nil {
		return parsedDate{}, false
	}

	// Named month: unambiguous.
	if m, ok := monthNames[strings.ToLower(monthStr)]; ok {
		t, ok := makeDate(year, m, day)
		return parsedDate{Value: t}, ok
	}

	monthNum, err := strconv.Atoi(monthStr)
	if err != nil {
		return parsedDate{}, false
	}

	// Day-first reading.
	dmy, dmyOK := makeDate(year, time.Month(monthNum), day)
	// Month-first reading, only meaningful when the fragments differ.
	mdy, mdyOK := makeDate(year, time.Month(day), monthNum)

	switch {
	case dmyOK && mdyOK && !dmy.Equal(mdy):
		return parsedDate{Value: dmy, Ambiguous: true}, true
	case dmyOK:
		return parsedDate{Value: dmy}, true
	case mdyOK:
		return parsedDate{Value: mdy}, true
	default:
		return parsedDate{}, false
	}
}

// makeDate validates the components strictly; time.Date normalizes overflow
// (32 January → 1 February) which would silently guess.
func makeDate(year int, month time.Month, day int) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 || year < 1000 || year > 3999 {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}

// specialDays resolves traditional English quarter-day names.
var specialDays = map[string]struct {
	month time.Month
	day   int
}{
	"christmas day":  {time.December, 25},
	"christmas":      {time.December, 25},
	"midsummer day":  {time.June, 24},
	"midsummer":      {time.June, 24},
	"lady day":       {time.March, 25},
	"michaelmas":     {time.September, 29},
	"michaelmas day": {time.September, 29},
}

var spaceCollapse = strings.NewReplacer(" ", " ")

// resolveSpecialDay turns names like "Christmas Day 1900" into dates.
func resolveSpecialDay(name, yearStr string) (time.Time, bool) {
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, false
	}
	key := strings.Join(strings.Fields(strings.ToLower(spaceCollapse.Replace(name))), " ")
	sd, ok := specialDays[key]
	if !ok {
		return time.Time{}, false
	}
	return time.Date(year, sd.month, sd.day, 0, 0, 0, 0, time.UTC), true
}

// wholeYearsBetween returns the number of complete years from a to b.
func wholeYearsBetween(a, b time.Time) int {
	if b.Before(a) {
		return -wholeYearsBetween(b, a)
	}
	years := b.Year() - a.Year()
	anniversary := a.AddDate(years, 0, 0)
	if anniversary.After(b) {
		years--
	}
	return years
}
