// Package dates normalizes the locale-formatted date fragments the seller
// portal renders into canonical keys. Everything here is pure: bad input
// yields a false/empty result, never a panic.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ProjectStart is the earliest date a complaint can legitimately carry.
var ProjectStart = time.Date(2025, time.September, 1, 0, 0, 0, 0, time.Local)

// monthsTable maps Russian month spellings (short, genitive, nominative) to
// month numbers. Lookup is exact first, then by prefix.
var monthsTable = map[string]time.Month{
	"янв": 1, "января": 1, "январь": 1,
	"фев": 2, "февраля": 2, "февраль": 2, "февр": 2,
	"мар": 3, "марта": 3, "март": 3,
	"апр": 4, "апреля": 4, "апрель": 4,
	"май": 5, "мая": 5,
	"июн": 6, "июня": 6, "июнь": 6,
	"июл": 7, "июля": 7, "июль": 7,
	"авг": 8, "августа": 8, "август": 8,
	"сен": 9, "сентября": 9, "сент": 9, "сентябрь": 9,
	"окт": 10, "октября": 10, "октябрь": 10,
	"ноя": 11, "ноября": 11, "ноябрь": 11,
	"дек": 12, "декабря": 12, "декабрь": 12,
}

// localeDateRe matches "18 февр. 2026 г. в 21:45" and its variants.
var localeDateRe = regexp.MustCompile(`(\d{1,2})\s+([а-яё]+)\.?\s+(\d{4})\s*(?:г\.?)?\s*(?:в\s*)?(\d{1,2}):(\d{2})`)

// ReviewDatePattern matches a full locale review date inside arbitrary text.
// Shared with the classifier so table cells and sidebar text use one rule.
var ReviewDatePattern = regexp.MustCompile(`(\d{1,2}\s+(?:янв|фев|мар|апр|ма[йя]|июн|июл|авг|сен|окт|ноя|дек)[а-яё]*\.?\s+\d{4}\s*г\.?\s*в\s*\d{1,2}:\d{2})`)

// ParsedDate is the numeric form of a locale review date.
type ParsedDate struct {
	Day    int
	Month  time.Month
	Year   int
	Hour   int
	Minute int
}

// ParseLocaleDate parses "DD месяц YYYY г. в HH:MM". The second return is
// false when the text does not contain a recognizable date.
func ParseLocaleDate(text string) (ParsedDate, bool) {
	raw := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(text, " ", " ")))
	m := localeDateRe.FindStringSubmatch(raw)
	if m == nil {
		return ParsedDate{}, false
	}

	month, ok := lookupMonth(m[2])
	if !ok {
		return ParsedDate{}, false
	}

	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])

	return ParsedDate{Day: day, Month: month, Year: year, Hour: hour, Minute: minute}, true
}

func lookupMonth(name string) (time.Month, bool) {
	if m, ok := monthsTable[name]; ok {
		return m, true
	}
	for key, m := range monthsTable {
		if strings.HasPrefix(name, key) {
			return m, true
		}
	}
	return 0, false
}

// FingerprintSegment renders a parsed date as "DD.MM.YY_HH-mm", the date
// half of a deduplication fingerprint.
func (p ParsedDate) FingerprintSegment() string {
	return fmt.Sprintf("%02d.%02d.%02d_%02d-%02d", p.Day, p.Month, p.Year%100, p.Hour, p.Minute)
}

// ISO renders a parsed date as "YYYY-MM-DDTHH:mm", the date half of a
// review key.
func (p ParsedDate) ISO() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d", p.Year, p.Month, p.Day, p.Hour, p.Minute)
}

// InferYear resolves the year of a year-less "DD.MM" date. A month after the
// reference month must belong to the previous year; the result never goes
// below the project start year.
func InferYear(day, month int, ref time.Time) int {
	_ = day
	if month > int(ref.Month()) {
		year := ref.Year() - 1
		if year < ProjectStart.Year() {
			return ProjectStart.Year()
		}
		return year
	}
	return ref.Year()
}

// ValidateDate rejects calendar-invalid dates, dates after the reference day
// and dates before the project start. The returned reason is empty when the
// date is acceptable.
func ValidateDate(day, month, year int, ref, projectStart time.Time) (bool, string) {
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, ref.Location())
	if d.Day() != day || d.Month() != time.Month(month) || d.Year() != year {
		return false, fmt.Sprintf("date %02d.%02d.%d does not exist", day, month, year)
	}

	endOfToday := time.Date(ref.Year(), ref.Month(), ref.Day(), 23, 59, 59, 0, ref.Location())
	if d.After(endOfToday) {
		return false, fmt.Sprintf("date %02d.%02d.%d is in the future", day, month, year)
	}

	if d.Before(projectStart) {
		return false, fmt.Sprintf("date %02d.%02d.%d precedes project start %s", day, month, year, projectStart.Format("02.01.2006"))
	}

	return true, ""
}

// DateRangeLabels expands an inclusive "DD.MM".."DD.MM" range within one
// year into per-day labels.
func DateRangeLabels(start, end string, year int) []string {
	sd, sm, ok1 := splitDayMonth(start)
	ed, em, ok2 := splitDayMonth(end)
	if !ok1 || !ok2 {
		return nil
	}

	from := time.Date(year, time.Month(sm), sd, 0, 0, 0, 0, time.Local)
	to := time.Date(year, time.Month(em), ed, 0, 0, 0, 0, time.Local)

	var labels []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		labels = append(labels, d.Format("02.01"))
	}
	return labels
}

func splitDayMonth(s string) (day, month int, ok bool) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 {
		return 0, 0, false
	}
	day, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return day, month, true
}
