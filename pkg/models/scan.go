package models

// ScreenshotMode controls the Drive folder layout for captured evidence.
type ScreenshotMode string

const (
	// ModeByProduct stores screenshots in one subfolder per product id.
	ModeByProduct ScreenshotMode = "byProduct"
	// ModeAllInOne stores every screenshot directly in the complaints folder.
	ModeAllInOne ScreenshotMode = "allInOne"
)

// ScanRequest describes one user-initiated audit run. It is created once and
// never mutated; the orchestrator is its sole owner.
type ScanRequest struct {
	DateRangeStart string // "DD.MM"
	DateRangeEnd   string // "DD.MM"
	Year           int
	ProductIDs     []string
	WorkspaceName  string
	WorkspaceID    string
	StorageRootID  string // workspace folder id in the object store
	ReportSheetID  string
	Mode           ScreenshotMode
}

// DateCounter tracks complaints observed for one product on one date label.
type DateCounter struct {
	Seen     int
	Approved int
}

// ScanState is the single mutable state of an active run. Only the
// orchestrator writes to it; observers receive copies.
type ScanState struct {
	RunID           string
	IsRunning       bool
	DateRangeLabels []string                          // "DD.MM", inclusive
	Stats           map[string]map[string]DateCounter // productID -> dateLabel -> counters
	TotalFound      int
	Saved           int
	Skipped         int
	Errored         int
	LastError       string
}

// NewScanState returns a reset state for a fresh run.
func NewScanState(runID string, labels []string) *ScanState {
	return &ScanState{
		RunID:           runID,
		DateRangeLabels: labels,
		Stats:           make(map[string]map[string]DateCounter),
	}
}

// ResetProduct initializes counters for every date label of one product.
func (s *ScanState) ResetProduct(productID string) {
	counters := make(map[string]DateCounter, len(s.DateRangeLabels))
	for _, label := range s.DateRangeLabels {
		counters[label] = DateCounter{}
	}
	s.Stats[productID] = counters
}

// Snapshot returns a copy safe to hand to observers while the run mutates
// the original.
func (s *ScanState) Snapshot() ScanState {
	cp := *s
	cp.Stats = make(map[string]map[string]DateCounter, len(s.Stats))
	for id, dates := range s.Stats {
		inner := make(map[string]DateCounter, len(dates))
		for label, c := range dates {
			inner[label] = c
		}
		cp.Stats[id] = inner
	}
	cp.DateRangeLabels = append([]string(nil), s.DateRangeLabels...)
	return cp
}
