package models

import "time"

// ComplaintStatus is the canonical lifecycle status of a review complaint.
type ComplaintStatus int

const (
	StatusUnknown ComplaintStatus = iota
	StatusApproved
	StatusRejected
	StatusUnderReview
	StatusReconsidered
)

func (s ComplaintStatus) String() string {
	switch s {
	case StatusApproved:
		return "Жалоба одобрена"
	case StatusRejected:
		return "Жалоба отклонена"
	case StatusUnderReview:
		return "Проверяем жалобу"
	case StatusReconsidered:
		return "Жалоба пересмотрена"
	default:
		return "Unknown"
	}
}

// ComplaintRow is the structured view of one complaints-table row. It lives
// for a single row-processing iteration; only derived fingerprints and
// records outlive it.
type ComplaintRow struct {
	Status        ComplaintStatus
	Rating        int    // 1..5, 0 when not extracted
	ReviewDateRaw string // "18 февр. 2026 г. в 21:45", empty when absent
	ReviewDateISO string // "2026-02-18T21:45", empty when unparseable
	SubmitDate    string // "DD.MM" or "DD.MM.YYYY", empty when absent
}

// StatusResult pairs a review key with its observed complaint status for the
// status endpoint.
type StatusResult struct {
	ReviewKey string `json:"reviewKey"`
	Status    string `json:"status"`
}

// ComplaintRecord is the durable row written to the report store and the
// local ledger, one per unique (workspace, product, review date, filename).
type ComplaintRecord struct {
	CheckedAt     time.Time
	Workspace     string
	ProductID     string
	ReviewID      string
	Rating        int
	ReviewDateRaw string
	SubmitDate    string
	Status        string
	HasScreenshot bool
	Filename      string
	StorageLink   string
}
