// Package classify turns one complaints-table row into a structured
// ComplaintRow. Extraction runs as ordered fallback strategies against the
// HTML the browser captured for the row; every field is independently
// optional, so a missing cell never blocks the others.
package classify

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"complaint-auditor/internal/dates"
	"complaint-auditor/pkg/models"
)

// statusLabels is the fixed portal-label to canonical-status mapping.
// Unknown labels classify as StatusUnknown and are excluded from status
// reporting but still counted by the table scan.
var statusLabels = map[string]models.ComplaintStatus{
	"Одобрена":         models.StatusApproved,
	"Отклонена":        models.StatusRejected,
	"Проверяем жалобу": models.StatusUnderReview,
	"Пересмотрена":     models.StatusReconsidered,
}

// activeStarMarker is the class fragment the portal puts on filled rating
// indicators.
const activeStarMarker = "Rating--active"

// RowData is the raw material captured from one table row.
// The json tags match the shape the browser session's in-page collector
// script produces.
type RowData struct {
	StatusText       string `json:"statusText"`       // complaint status chip text
	PrimaryCellHTML  string `json:"primaryCellHTML"`  // feedback info cell (preferred source)
	FallbackCellHTML string `json:"fallbackCellHTML"` // fixed-offset column used when the cell class is absent
	SubmitText       string `json:"submitText"`       // complaint cell text ("Жалоба от ...")
	OuterHTML        string `json:"outerHTML"`        // whole row, last-resort source
}

// Classify extracts status, rating and review date from a row.
func Classify(rd RowData) models.ComplaintRow {
	// SubmitDate is range-dependent and stays with the orchestrator, which
	// resolves it from SubmitText against the active date range.
	row := models.ComplaintRow{Status: ParseStatus(rd.StatusText)}

	// Rating: primary cell, then fixed column offset.
	for _, fragment := range []string{rd.PrimaryCellHTML, rd.FallbackCellHTML} {
		if n := countActiveStars(fragment); n > 0 {
			row.Rating = n
			break
		}
	}

	// Review date: primary cell, fallback cell, then the whole row.
	for _, fragment := range []string{rd.PrimaryCellHTML, rd.FallbackCellHTML, rd.OuterHTML} {
		if raw := FindReviewDate(fragment); raw != "" {
			row.ReviewDateRaw = raw
			break
		}
	}
	if row.ReviewDateRaw != "" {
		if p, ok := dates.ParseLocaleDate(row.ReviewDateRaw); ok {
			row.ReviewDateISO = p.ISO()
		}
	}

	return row
}

// ParseStatus maps a status chip label to its canonical status.
func ParseStatus(label string) models.ComplaintStatus {
	if s, ok := statusLabels[strings.TrimSpace(label)]; ok {
		return s
	}
	return models.StatusUnknown
}

// ReviewKey builds the status-reporting key "{productID}_{rating}_{iso}".
func ReviewKey(productID string, rating int, iso string) string {
	return fmt.Sprintf("%s_%d_%s", productID, rating, iso)
}

// FindReviewDate scans an HTML fragment's text nodes for a locale review
// date, span by span first, then over the flattened text.
func FindReviewDate(fragment string) string {
	if fragment == "" {
		return ""
	}
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		// Malformed markup: fall back to a plain regex over the raw text.
		return matchReviewDate(fragment)
	}

	var found string
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.TextNode {
			if m := matchReviewDate(n.Data); m != "" {
				found = m
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(root)

	if found != "" {
		return found
	}
	// Text nodes can split the date; retry against the concatenated text.
	return matchReviewDate(flattenText(root))
}

func matchReviewDate(text string) string {
	text = strings.ReplaceAll(text, " ", " ")
	if m := dates.ReviewDatePattern.FindString(text); m != "" {
		return m
	}
	return ""
}

func flattenText(root *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(root)
	return b.String()
}

// countActiveStars counts elements whose class carries the active rating
// marker inside an HTML fragment.
func countActiveStars(fragment string) int {
	if fragment == "" || !strings.Contains(fragment, activeStarMarker) {
		return 0
	}
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return 0
	}

	count := 0
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key == "class" && strings.Contains(a.Val, activeStarMarker) {
					count++
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(root)
	return count
}
