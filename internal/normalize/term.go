package normalize

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// Parsed is the structured interpretation of a lease term string.
// Start/Expiry are nil when absent or ambiguous; ambiguity is recorded
// separately so the caller can flag it instead of guessing.
type Parsed struct {
	Start  *time.Time
	Expiry *time.Time

	StartAmbiguous  bool
	ExpiryAmbiguous bool

	Years       float64
	Months      int
	HasDuration bool
}

// Regex building blocks shared by the term patterns. Lease term strings in
// registry extracts mix numeric and written numbers, quarter-day names, and
// archaic "less N days" adjustments.
const (
	termOf    = `(?:a\s+term\s+of\s+)?`
	dateSep   = `[./\s]+`
	yearsNum  = `(\d{1,4}|` + wordNumbers + `)`
	fracYears = `(\d{1,4}(?:\s+\d+/\d+)?|\d{1,4}\s+and\s+(?:a\s+)?(?:half|quarter)|` + wordNumbers + `)`
	datePat   = `(\d{1,2})` + dateSep + `([A-Za-z]+|\d{1,2})` + dateSep + `(\d{4})`
	special   = `(christmas\s+day|midsummer\s+day|midsummer|christmas|lady\s+day|michaelmas(?:\s+day)?)`
	yearOnly  = `(\d{4})`
	andIncl   = `(?:and\s+including\s+)?`
	onOpt     = `(?:on\s+)?`
	theOpt    = `(?:the\s+)?`
	startKw   = `(?:from|commencing|beginning|starting)`
	startPre  = `(?:` + startKw + `\s+(?:` + onOpt + `|from\s+)?` + andIncl + `|on\s+and\s+from\s+)`
	endKw     = `(?:to|until|up\s+to|ending|expiring|and\s+ending|and\s+expiring)`
	numWord   = `(\d+|` + wordNumbers + `)`
	lessDays  = `(?:\s*\(?less\s+(?:the\s+)?(?:last\s+)?` + numWord + `\s+days?\)?)?`
)

type termPattern struct {
	re    *regexp.Regexp
	apply func(m []string) (Parsed, bool)
}

var termPatterns = []termPattern{
	// "N years from <date> to/ending <date>": both ends explicit.
	{
		re: regexp.MustCompile(`(?i)` + termOf + yearsNum + `\s*years?\s+` + startKw + `\s+` + onOpt + andIncl + datePat +
			`\s*(?:inclusive\s+)?(?:and\s+)?` + endKw + `\s+` + onOpt + andIncl + datePat + `\s*(?:inclusive)?`),
		apply: func(m []string) (Parsed, bool) {
			years, ok := parseWordNumber(m[1])
			if !ok || years <= 0 {
				return Parsed{}, false
			}
			p := Parsed{Years: float64(years), HasDuration: true}
			p.setStart(parseDayMonthYear(m[2], m[3], m[4]))
			p.setExpiry(parseDayMonthYear(m[5], m[6], m[7]))
			return p, p.Start != nil || p.StartAmbiguous
		},
	},
	// "from <date> to/ending <date>": duration derived from the range.
	{
		re: regexp.MustCompile(`(?i)(?:a\s+term\s+)?` + startKw + `\s+` + onOpt + andIncl + datePat +
			`\s*,?\s*(?:and\s+)?` + endKw + `\s+` + onOpt + andIncl + datePat),
		apply: func(m []string) (Parsed, bool) {
			var p Parsed
			p.setStart(parseDayMonthYear(m[1], m[2], m[3]))
			p.setExpiry(parseDayMonthYear(m[4], m[5], m[6]))
			if p.Start == nil && !p.StartAmbiguous {
				return Parsed{}, false
			}
			p.deriveDuration()
			return p, true
		},
	},
	// "<date> to/until <date>": range with no keyword prefix.
	{
		re: regexp.MustCompile(`(?i)^` + datePat + `\s+(?:to|until)\s+` + datePat),
		apply: func(m []string) (Parsed, bool) {
			var p Parsed
			p.setStart(parseDayMonthYear(m[1], m[2], m[3]))
			p.setExpiry(parseDayMonthYear(m[4], m[5], m[6]))
			if p.Start == nil && !p.StartAmbiguous {
				return Parsed{}, false
			}
			p.deriveDuration()
			return p, true
		},
	},
	// "from <date> for a term of years expiring on <date>".
	{
		re: regexp.MustCompile(`(?i)from\s+` + andIncl + datePat +
			`\s+for\s+a\s+term\s+(?:of\s+)?(?:years?\s+)?expiring\s+` + onOpt + andIncl + datePat),
		apply: func(m []string) (Parsed, bool) {
			var p Parsed
			p.setStart(parseDayMonthYear(m[1], m[2], m[3]))
			p.setExpiry(parseDayMonthYear(m[4], m[5], m[6]))
			if p.Start == nil && !p.StartAmbiguous {
				return Parsed{}, false
			}
			p.deriveDuration()
			return p, true
		},
	},
	// "commencing on <date> and expiring N years thereafter".
	{
		re: regexp.MustCompile(`(?i)` + startKw + `\s+` + onOpt + andIncl + datePat +
			`\s+and\s+(?:expiring|expiry)\s+` + yearsNum + `\s*years?\s+thereafter`),
		apply: func(m []string) (Parsed, bool) {
			years, ok := parseWordNumber(m[4])
			if !ok || years <= 0 {
				return Parsed{}, false
			}
			p := Parsed{Years: float64(years), HasDuration: true}
			p.setStart(parseDayMonthYear(m[1], m[2], m[3]))
			p.computeExpiry(0, 0, 0)
			return p, true
		},
	},
	// "N years less M months from <date>".
	{
		re: regexp.MustCompile(`(?i)^` + termOf + yearsNum + `\s*years?\s+less\s+` + numWord + `\s+months?\s+` + startPre + theOpt + datePat),
		apply: func(m []string) (Parsed, bool) {
			years, ok := parseWordNumber(m[1])
			months, ok2 := parseWordNumber(m[2])
			if !ok || !ok2 || years <= 0 {
				return Parsed{}, false
			}
			p := Parsed{Years: float64(years), HasDuration: true}
			p.setStart(parseDayMonthYear(m[3], m[4], m[5]))
			p.computeExpiry(0, 0, months)
			return p, true
		},
	},
	// "N years plus/and M days from <date>".
	{
		re: regexp.MustCompile(`(?i)^` + termOf + yearsNum + `\s*years?\s+(?:plus|and)\s+` + numWord + `\s+days?\s+` + startPre + theOpt + datePat),
		apply: func(m []string) (Parsed, bool) {
			years, ok := parseWordNumber(m[1])
			days, ok2 := parseWordNumber(m[2])
			if !ok || !ok2 || years <= 0 {
				return Parsed{}, false
			}
			p := Parsed{Years: float64(years), HasDuration: true}
			p.setStart(parseDayMonthYear(m[3], m[4], m[5]))
			p.computeExpiry(0, days, 0)
			return p, true
		},
	},
	// "N years and M months from <date>".
	{
		re: regexp.MustCompile(`(?i)^` + termOf + yearsNum + `\s*years?\s+and\s+` + numWord + `\s+months?\s+` + startPre + theOpt + datePat),
		apply: func(m []string) (Parsed, bool) {
			years, ok := parseWordNumber(m[1])
			months, ok2 := parseWordNumber(m[2])
			if !ok || !ok2 || years <= 0 {
				return Parsed{}, false
			}
			p := Parsed{Years: float64(years), Months: months, HasDuration: true}
			p.setStart(parseDayMonthYear(m[3], m[4], m[5]))
			p.computeExpiry(months, 0, 0)
			return p, true
		},
	},
	// Fractional or plain years, optional "(less N days)", from a date or a
	// quarter-day name. Also covers the plain "99 years from 1 January 1990"
	// shape.
	{
		re: regexp.MustCompile(`(?i)^` + termOf + fracYears + `\s*years?` + lessDays + `\s+` + startPre + theOpt +
			`(?:` + datePat + `|` + special + `\s+` + yearOnly + `)`),
		apply: func(m []string) (Parsed, bool) {
			years, ok := parseFractionalYears(m[1])
			if !ok || years <= 0 {
				return Parsed{}, false
			}
			less := 0
			if m[2] != "" {
				less, _ = parseWordNumber(m[2])
			}
			p := Parsed{Years: years, HasDuration: true}
			if m[3] != "" {
				p.setStart(parseDayMonthYear(m[3], m[4], m[5]))
			} else if t, ok := resolveSpecialDay(m[6], m[7]); ok {
				p.Start = &t
			}
			p.computeExpiry(0, -less, 0)
			return p, true
		},
	},
	// "N years from Christmas Day 1900" and other quarter days.
	{
		re: regexp.MustCompile(`(?i)^` + termOf + yearsNum + `\s*years?\s+` + startPre + theOpt + special + `\s+` + yearOnly),
		apply: func(m []string) (Parsed, bool) {
			years, ok := parseWordNumber(m[1])
			if !ok || years <= 0 {
				return Parsed{}, false
			}
			p := Parsed{Years: float64(years), HasDuration: true}
			if t, ok := resolveSpecialDay(m[2], m[3]); ok {
				p.Start = &t
			}
			p.computeExpiry(0, 0, 0)
			return p, true
		},
	},
	// "commencing on <date> for a term of N years".
	{
		re: regexp.MustCompile(`(?i)(?:commencing|beginning)\s+` + onOpt + andIncl + datePat +
			`\s+for\s+(?:a\s+term\s+of\s+)?` + yearsNum + `\s*years?`),
		apply: func(m []string) (Parsed, bool) {
			years, ok := parseWordNumber(m[4])
			if !ok || years <= 0 {
				return Parsed{}, false
			}
			p := Parsed{Years: float64(years), HasDuration: true}
			p.setStart(parseDayMonthYear(m[1], m[2], m[3]))
			p.computeExpiry(0, 0, 0)
			return p, true
		},
	},
	// "from <date> for (a term of) N years".
	{
		re: regexp.MustCompile(`(?i)from\s+` + andIncl + datePat + `\s+for\s+(?:a\s+term\s+of\s+)?` + yearsNum + `\s*years?`),
		apply: func(m []string) (Parsed, bool) {
			years, ok := parseWordNumber(m[4])
			if !ok || years <= 0 {
				return Parsed{}, false
			}
			p := Parsed{Years: float64(years), HasDuration: true}
			p.setStart(parseDayMonthYear(m[1], m[2], m[3]))
			p.computeExpiry(0, 0, 0)
			return p, true
		},
	},
	// "N years expiring on <date>": start derived backwards.
	{
		re: regexp.MustCompile(`(?i)^` + termOf + yearsNum + `\s*years?\s+expiring\s+` + onOpt + andIncl + datePat),
		apply: func(m []string) (Parsed, bool) {
			return yearsBeforeExpiry(m[1], m[2], m[3], m[4])
		},
	},
	// "N years to (and including) <date>": expiry only.
	{
		re: regexp.MustCompile(`(?i)^` + termOf + yearsNum + `\s*years?\s+to\s+` + andIncl + datePat),
		apply: func(m []string) (Parsed, bool) {
			return yearsBeforeExpiry(m[1], m[2], m[3], m[4])
		},
	},
	// "N years <date>": missing "from".
	{
		re: regexp.MustCompile(`(?i)^` + termOf + yearsNum + `\s*years?\s+` + datePat),
		apply: func(m []string) (Parsed, bool) {
			years, ok := parseWordNumber(m[1])
			if !ok || years <= 0 {
				return Parsed{}, false
			}
			p := Parsed{Years: float64(years), HasDuration: true}
			p.setStart(parseDayMonthYear(m[2], m[3], m[4]))
			p.computeExpiry(0, 0, 0)
			return p, true
		},
	},
	// "N from <date>": missing "years".
	{
		re: regexp.MustCompile(`(?i)^(\d{1,4})\s+from\s+` + theOpt + andIncl + datePat),
		apply: func(m []string) (Parsed, bool) {
			years, ok := parseWordNumber(m[1])
			if !ok || years <= 0 {
				return Parsed{}, false
			}
			p := Parsed{Years: float64(years), HasDuration: true}
			p.setStart(parseDayMonthYear(m[2], m[3], m[4]))
			p.computeExpiry(0, 0, 0)
			return p, true
		},
	},
}

func yearsBeforeExpiry(yearsStr, d, m, y string) (Parsed, bool) {
	years, ok := parseWordNumber(yearsStr)
	if !ok || years <= 0 {
		return Parsed{}, false
	}
	p := Parsed{Years: float64(years), HasDuration: true}
	p.setExpiry(parseDayMonthYear(d, m, y))
	if p.Expiry != nil {
		start := p.Expiry.AddDate(-years, 0, 0)
		p.Start = &start
	}
	return p, true
}

func (p *Parsed) setStart(d parsedDate, ok bool) {
	if !ok {
		return
	}
	if d.Ambiguous {
		p.StartAmbiguous = true
		return
	}
	t := d.Value
	p.Start = &t
}

func (p *Parsed) setExpiry(d parsedDate, ok bool) {
	if !ok {
		return
	}
	if d.Ambiguous {
		p.ExpiryAmbiguous = true
		return
	}
	t := d.Value
	p.Expiry = &t
}

// computeExpiry fills Expiry from Start plus the duration, adjusted by
// extra months already included in the duration, plus/minus days, and less
// months. No-op without a start date.
func (p *Parsed) computeExpiry(durMonths, plusDays, lessMonths int) {
	if p.Start == nil || !p.HasDuration {
		return
	}
	fullYears := int(p.Years)
	fracMonths := int(math.Round((p.Years - float64(fullYears)) * 12))
	e := p.Start.AddDate(fullYears, fracMonths+durMonths-lessMonths, plusDays)
	p.Expiry = &e
}

// deriveDuration computes whole years from the parsed date range.
func (p *Parsed) deriveDuration() {
	if p.Start == nil || p.Expiry == nil {
		return
	}
	years := wholeYearsBetween(*p.Start, *p.Expiry)
	if years <= 0 {
		return
	}
	p.Years = float64(years)
	p.HasDuration = true
}

var parenRe = regexp.MustCompile(`\s*\([^)]*\)`)

// ParseTerm parses a lease term string. The second return is false when no
// pattern matched at all.
func ParseTerm(term string) (Parsed, bool) {
	term = CleanTermString(term)
	if term == "" {
		return Parsed{}, false
	}
	for _, tp := range termPatterns {
		m := tp.re.FindStringSubmatch(term)
		if m == nil {
			continue
		}
		if p, ok := tp.apply(m); ok {
			return p, true
		}
	}

	// Drop parenthetical asides ("(renewable)") and retry once.
	stripped := strings.TrimSpace(parenRe.ReplaceAllString(term, ""))
	if stripped != term && stripped != "" {
		return ParseTerm(stripped)
	}
	return Parsed{}, false
}

// cleanup rewrites applied before pattern matching. These fix recurring
// registry typos and formatting noise, never semantics.
var cleanups = []struct {
	re  *regexp.Regexp
	rep string
}{
	{regexp.MustCompile(`(?i)^residue\s+of\s+`), ""},
	{regexp.MustCompile(`(?i)\s+midnight\s+on\b`), " "},
	{regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)\b`), "$1"},
	{regexp.MustCompile(`(?i)\b(\d{1,2})\s+of\s+([A-Za-z]+)\b`), "$1 $2"},
	{regexp.MustCompile(`(?i)\bincluding\s+on\b`), "including"},
	{regexp.MustCompile(`(?i)\bto\s+and\s+expiring\b`), "expiring"},
	{regexp.MustCompile(`(?i)\ban\s+including\b`), "and including"},
	{regexp.MustCompile(`(?i)\bbeginning\s+in\b`), "beginning on"},
	{regexp.MustCompile(`(?i)\bcommences\b`), "commencing"},
	{regexp.MustCompile(`(?i)\bexpires\b`), "expiring"},
	{regexp.MustCompile(`(?i)\bfrom\s*:`), "From"},
	{regexp.MustCompile(`(?i)\bto\s*:`), "to"},
	{regexp.MustCompile(`\b(\d{1,2}):(\d{1,2}):(\d{4})\b`), "$1.$2.$3"},
	{regexp.MustCompile(`(?i)\bles\b`), "less"},
	{regexp.MustCompile(`(?i)\brom\b`), "from"},
	{regexp.MustCompile(`(?i)\bfrm\b`), "from"},
	{regexp.MustCompile(`(?i)\bjanuaryu\b|\bjnuary\b`), "January"},
	{regexp.MustCompile(`(?i)\bfeburary\b|\bfebuary\b`), "February"},
	{regexp.MustCompile(`(?i)\bseptmber\b`), "September"},
	{regexp.MustCompile(`(?i)\bnovmber\b`), "November"},
	{regexp.MustCompile(`(?i)\bdecmber\b`), "December"},
}

var (
	wsRe      = regexp.MustCompile(`[\s\x{00A0}]+`)
	junkChars = strings.NewReplacer("´", "", "~", "", "¨", "", ",", "")
)

// CleanTermString normalizes whitespace and repairs recurring source typos
// in a lease term string before pattern matching.
func CleanTermString(term string) string {
	term = wsRe.ReplaceAllString(strings.TrimSpace(term), " ")
	term = junkChars.Replace(term)
	for _, c := range cleanups {
		term = c.re.ReplaceAllString(term, c.rep)
	}
	return term
}
