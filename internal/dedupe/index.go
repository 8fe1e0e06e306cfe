// Package dedupe holds the screenshot-filename index that lets a scan skip
// rows already captured by a previous run. Skipping avoids the sidebar
// open/screenshot/upload path entirely, which is the single largest
// throughput lever in the system, so the index must fail open: any doubt
// means "not a duplicate" and costs one redundant screenshot instead of a
// silently hidden complaint.
package dedupe

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"complaint-auditor/internal/dates"
)

// TTL bounds how long a fetched filename list stays trustworthy.
const TTL = 30 * time.Minute

// Snapshot is a read-only set of screenshot filenames known to exist for
// one workspace.
type Snapshot struct {
	Filenames   map[string]struct{}
	WorkspaceID string
	CapturedAt  time.Time
}

// Fingerprint derives the expected screenshot filename
// "{productID}_{DD.MM.YY_HH-mm}.png" for a review. The second return is
// false when the review date cannot be parsed.
func Fingerprint(productID, reviewDateText string) (string, bool) {
	if productID == "" || reviewDateText == "" {
		return "", false
	}
	p, ok := dates.ParseLocaleDate(reviewDateText)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s_%s.png", productID, p.FingerprintSegment()), true
}

// IsDuplicate reports whether a prior run already captured this review.
// A nil snapshot, an empty set or an unparseable date all report false.
func (s *Snapshot) IsDuplicate(productID, reviewDateText string) bool {
	if s == nil || len(s.Filenames) == 0 {
		return false
	}
	name, ok := Fingerprint(productID, reviewDateText)
	if !ok {
		return false
	}
	_, dup := s.Filenames[name]
	return dup
}

// Store keeps at most one snapshot, scoped to a workspace and time-boxed.
// The zero value is ready to use.
type Store struct {
	mu   sync.Mutex
	snap *Snapshot
	now  func() time.Time // test hook
}

// Save replaces the stored snapshot with a de-duplicated filename set for
// the given workspace.
func (st *Store) Save(filenames []string, workspaceID string) {
	set := make(map[string]struct{}, len(filenames))
	for _, name := range filenames {
		if name != "" {
			set[name] = struct{}{}
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.snap = &Snapshot{
		Filenames:   set,
		WorkspaceID: workspaceID,
		CapturedAt:  st.clock()(),
	}
	log.WithFields(log.Fields{
		"workspace": workspaceID,
		"filenames": len(set),
	}).Info("dedupe: snapshot saved")
}

// Load returns the snapshot for a workspace, or nil when none is stored,
// the workspace does not match, or the snapshot aged past the TTL.
func (st *Store) Load(workspaceID string) *Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.snap == nil {
		return nil
	}
	if st.snap.WorkspaceID != workspaceID {
		log.WithFields(log.Fields{
			"have": st.snap.WorkspaceID,
			"want": workspaceID,
		}).Debug("dedupe: snapshot for different workspace")
		return nil
	}
	if age := st.clock()().Sub(st.snap.CapturedAt); age > TTL {
		log.WithField("age", age.Round(time.Second)).Debug("dedupe: snapshot stale")
		return nil
	}
	return st.snap
}

// Clear drops the stored snapshot.
func (st *Store) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.snap = nil
}

func (st *Store) clock() func() time.Time {
	if st.now != nil {
		return st.now
	}
	return time.Now
}
