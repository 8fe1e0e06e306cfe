package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Patterns for the complaint submit date, which appears as free text in the
// complaint cell ("Жалоба от 09.01", "Жалоба от: 03.12.24", ...).
var (
	submitDateRe = regexp.MustCompile(`(?i)Жалоба\s+от:?\s*(\d{1,2})[./](\d{1,2})(?:[./](\d{2,4}))?`)

	zeroDayRe    = regexp.MustCompile(`\b0\.(\d{2})\.(\d{4})\b`)
	zeroMonthRe  = regexp.MustCompile(`\b(\d{2})\.0\.(\d{4})\b`)
	shortYearRe  = regexp.MustCompile(`\b(\d{2})\.(\d{2})\.(\d{2})\b`)
	bareSubmitRe = regexp.MustCompile(`(?i)Жалоба\s+от:?\s*(\d)\.(\d{1,2})\b`)
)

// SanitizeSubmitText fixes typical manual-entry defects before submit-date
// extraction: missing leading zeros, lone zero day/month components and
// two-digit years.
func SanitizeSubmitText(s string) string {
	if s == "" {
		return s
	}
	out := zeroDayRe.ReplaceAllString(s, "00.$1.$2")
	out = zeroMonthRe.ReplaceAllString(out, "$1.00.$2")
	out = shortYearRe.ReplaceAllStringFunc(out, func(m string) string {
		parts := strings.Split(m, ".")
		year, _ := strconv.Atoi(parts[2])
		return fmt.Sprintf("%s.%s.%d", parts[0], parts[1], 2000+year)
	})
	out = bareSubmitRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := bareSubmitRe.FindStringSubmatch(m)
		day, _ := strconv.Atoi(sub[1])
		month, _ := strconv.Atoi(sub[2])
		return fmt.Sprintf("Жалоба от %02d.%02d", day, month)
	})
	return out
}

// ExtractSubmitDate pulls the complaint submit date out of a complaint-cell
// text. The "Жалоба от" phrase wins; with no year attached the year is
// inferred relative to ref and validated. When the phrase is absent, the
// earliest occurrence of any active range label is used instead. Returns
// "DD.MM.YYYY" (or "DD.MM" when year validation failed) and "" when no date
// was found.
func ExtractSubmitDate(text string, rangeLabels []string, ref time.Time) string {
	if text == "" {
		return ""
	}
	text = SanitizeSubmitText(text)

	if m := submitDateRe.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])

		var year int
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			if len(m[3]) == 2 {
				year += 2000
			}
		} else {
			year = InferYear(day, month, ref)
		}

		if ok, _ := ValidateDate(day, month, year, ref, ProjectStart); !ok {
			// Keep the day.month observation even when the year is suspect.
			return fmt.Sprintf("%02d.%02d", day, month)
		}
		return fmt.Sprintf("%02d.%02d.%d", day, month, year)
	}

	// Earliest range-label occurrence.
	earliestPos := -1
	earliestLabel := ""
	for _, label := range rangeLabels {
		if pos := strings.Index(text, label); pos >= 0 && (earliestPos < 0 || pos < earliestPos) {
			earliestPos = pos
			earliestLabel = label
		}
	}
	if earliestLabel == "" {
		return ""
	}

	day, month, ok := splitDayMonth(earliestLabel)
	if !ok {
		return ""
	}
	year := InferYear(day, month, ref)
	return fmt.Sprintf("%02d.%02d.%d", day, month, year)
}
