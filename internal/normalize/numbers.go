package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// wordNumbers covers the number words that appear in lease terms.
const wordNumbers = `one|two|three|four|five|six|seven|eight|nine|ten|` +
	`eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|` +
	`twenty|thirty|forty|fifty|sixty|seventy|eighty|ninety|hundred`

var wordToNum = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18,
	"nineteen": 19, "twenty": 20, "thirty": 30, "forty": 40,
	"fifty": 50, "sixty": 60, "seventy": 70, "eighty": 80,
	"ninety": 90, "hundred": 100,
}

var nonDigits = regexp.MustCompile(`[^\d]`)

// parseWordNumber converts a digit string or number word to an integer.
// Stray non-digit characters in digit strings (OCR artifacts like "999~")
// are stripped.
func parseWordNumber(word string) (int, bool) {
	digits := nonDigits.ReplaceAllString(word, "")
	if digits != "" {
		n, err := strconv.Atoi(digits)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	if n, ok := wordToNum[strings.ToLower(strings.TrimSpace(word))]; ok {
		return n, true
	}
	return 0, false
}

var (
	andFractionRe = regexp.MustCompile(`(?i)^(\d+)\s+and\s+(?:a\s+)?(half|quarter)$`)
	vulgarFracRe  = regexp.MustCompile(`^(\d+)\s+(\d+)/(\d+)$`)
)

// parseFractionalYears parses a years string that may carry a fraction:
// "97 3/4" → 97.75, "65 and half" → 65.5, "ninety" → 90.
func parseFractionalYears(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}

	if m := andFractionRe.FindStringSubmatch(s); m != nil {
		base, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "half":
			return float64(base) + 0.5, true
		case "quarter":
			return float64(base) + 0.25, true
		}
	}

	if m := vulgarFracRe.FindStringSubmatch(s); m != nil {
		base, _ := strconv.Atoi(m[1])
		num, _ := strconv.Atoi(m[2])
		den, _ := strconv.Atoi(m[3])
		if den != 0 {
			return float64(base) + float64(num)/float64(den), true
		}
	}

	if n, ok := parseWordNumber(s); ok {
		return float64(n), true
	}
	return 0, false
}
