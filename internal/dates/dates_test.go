package dates

import (
	"testing"
	"time"
)

func TestParseLocaleDate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ParsedDate
		ok   bool
	}{
		{"short month", "12 дек. 2025 г. в 20:14", ParsedDate{12, time.December, 2025, 20, 14}, true},
		{"genitive month", "18 февраля 2026 г. в 21:45", ParsedDate{18, time.February, 2026, 21, 45}, true},
		{"full month", "5 январь 2026 г. в 9:05", ParsedDate{5, time.January, 2026, 9, 5}, true},
		{"prefix spelling", "18 февр. 2026 г. в 21:45", ParsedDate{18, time.February, 2026, 21, 45}, true},
		{"may", "7 мая 2026 г. в 08:00", ParsedDate{7, time.May, 2026, 8, 0}, true},
		{"no marker word", "3 окт 2025 14:30", ParsedDate{3, time.October, 2025, 14, 30}, true},
		{"nbsp separators", "12 дек. 2025 г. в 20:14", ParsedDate{12, time.December, 2025, 20, 14}, true},
		{"embedded in text", "Отзыв покупателя, 12 дек. 2025 г. в 20:14, товар", ParsedDate{12, time.December, 2025, 20, 14}, true},
		{"empty", "", ParsedDate{}, false},
		{"no date", "Жалоба одобрена", ParsedDate{}, false},
		{"unknown month", "12 xyz 2025 г. в 20:14", ParsedDate{}, false},
		{"missing time", "12 дек. 2025 г.", ParsedDate{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLocaleDate(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseLocaleDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseLocaleDate(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFingerprintSegmentAndISO(t *testing.T) {
	p, ok := ParseLocaleDate("12 дек. 2025 г. в 20:14")
	if !ok {
		t.Fatal("parse failed")
	}
	if got := p.FingerprintSegment(); got != "12.12.25_20-14" {
		t.Errorf("FingerprintSegment = %q, want 12.12.25_20-14", got)
	}
	if got := p.ISO(); got != "2025-12-12T20:14" {
		t.Errorf("ISO = %q, want 2025-12-12T20:14", got)
	}
}

func TestInferYear(t *testing.T) {
	ref := time.Date(2026, time.January, 15, 12, 0, 0, 0, time.Local)

	if got := InferYear(31, 12, ref); got != 2025 {
		t.Errorf("InferYear(31,12) = %d, want 2025", got)
	}
	if got := InferYear(5, 1, ref); got != 2026 {
		t.Errorf("InferYear(5,1) = %d, want 2026", got)
	}
	if got := InferYear(15, 9, ref); got != 2025 {
		t.Errorf("InferYear(15,9) = %d, want 2025", got)
	}

	// Clamped to project start.
	early := time.Date(2025, time.January, 10, 0, 0, 0, 0, time.Local)
	if got := InferYear(1, 12, early); got != 2025 {
		t.Errorf("InferYear below project start = %d, want clamp to 2025", got)
	}
}

func TestValidateDate(t *testing.T) {
	ref := time.Date(2026, time.January, 15, 12, 0, 0, 0, time.Local)
	start := ProjectStart

	if ok, _ := ValidateDate(31, 12, 2025, ref, start); !ok {
		t.Error("valid past date rejected")
	}
	if ok, _ := ValidateDate(15, 1, 2026, ref, start); !ok {
		t.Error("reference day itself rejected")
	}
	if ok, reason := ValidateDate(31, 2, 2026, ref, start); ok {
		t.Error("calendar-invalid date accepted")
	} else if reason == "" {
		t.Error("missing reason for invalid date")
	}
	if ok, _ := ValidateDate(16, 1, 2026, ref, start); ok {
		t.Error("future date accepted")
	}
	if ok, _ := ValidateDate(31, 8, 2025, ref, start); ok {
		t.Error("pre-project date accepted")
	}
}

func TestDateRangeLabels(t *testing.T) {
	labels := DateRangeLabels("30.12", "02.01", 2025)
	// Single-year walk: 30.12..02.01 crosses backwards, empty result.
	if len(labels) != 0 {
		t.Errorf("backwards range produced %v", labels)
	}

	labels = DateRangeLabels("28.02", "02.03", 2026)
	want := []string{"28.02", "01.03", "02.03"}
	if len(labels) != len(want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("labels[%d] = %q, want %q", i, labels[i], want[i])
		}
	}
}

func TestExtractSubmitDate(t *testing.T) {
	ref := time.Date(2026, time.January, 15, 12, 0, 0, 0, time.Local)
	labels := []string{"08.01", "09.01", "10.01"}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"explicit full year", "Жалоба от 03.12.2025", "03.12.2025"},
		{"explicit short year", "Жалоба от: 03.12.25", "03.12.2025"},
		{"no year current", "Жалоба от 09.01", "09.01.2026"},
		{"no year previous", "Жалоба от 31.12", "31.12.2025"},
		{"leading zeros added", "Жалоба от 9.1", "09.01.2026"},
		{"slash separators", "Жалоба от 9/01", "09.01.2026"},
		{"range label fallback", "Отклонена продавцом 09.01 претензия", "09.01.2026"},
		{"earliest label wins", "10.01 и ранее 08.01", "10.01.2026"},
		{"nothing", "просто текст", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractSubmitDate(tt.in, labels, ref); got != tt.want {
				t.Errorf("ExtractSubmitDate(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractSubmitDateInvalidYearFallsBack(t *testing.T) {
	ref := time.Date(2026, time.January, 15, 12, 0, 0, 0, time.Local)
	// 31.04 does not exist; extraction keeps the day.month observation.
	if got := ExtractSubmitDate("Жалоба от 31.04.2026", nil, ref); got != "31.04" {
		t.Errorf("got %q, want 31.04", got)
	}
}
