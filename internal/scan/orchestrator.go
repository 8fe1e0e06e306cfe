package scan

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"complaint-auditor/internal/batch"
	"complaint-auditor/internal/browser"
	"complaint-auditor/internal/classify"
	"complaint-auditor/internal/dates"
	"complaint-auditor/internal/dedupe"
	"complaint-auditor/internal/gateway"
	"complaint-auditor/pkg/models"
)

// ErrScanActive rejects a second Run while one is in flight.
var ErrScanActive = errors.New("scan: a run is already active")

// Portal is the browser surface a scan drives. *browser.Session satisfies
// it; tests substitute a scripted fake.
type Portal interface {
	Search(ctx context.Context, productID string) error
	Rows(ctx context.Context) ([]classify.RowData, error)
	OpenRow(ctx context.Context, index int) error
	Sidebar(ctx context.Context) (browser.SidebarInfo, error)
	CloseSidebar(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
	NextPage(ctx context.Context) (bool, error)
	WaitTableStable(ctx context.Context)
}

// Saver persists one screenshot and its audit record.
type Saver interface {
	Save(ctx context.Context, rec models.ComplaintRecord, png []byte) gateway.SaveResult
}

// StatusSink receives the statuses collected for one product.
type StatusSink interface {
	PostStatuses(ctx context.Context, workspace string, results []models.StatusResult) (gateway.StatusReport, error)
}

// StatsSink keeps the per-day stats rows current. Optional.
type StatsSink interface {
	UpsertStatsRow(ctx context.Context, date, workspace string, seen, approved int) error
}

// SnapshotSource lists already-stored screenshot filenames so the run can
// skip work it has done before.
type SnapshotSource interface {
	SnapshotFilenames(ctx context.Context, req models.ScanRequest) ([]string, error)
}

// Recorder mirrors records into the local ledger. Optional.
type Recorder interface {
	Record(rec models.ComplaintRecord)
}

// Observer receives state copies as the run progresses. Optional.
type Observer interface {
	Progress(state models.ScanState)
}

// Orchestrator walks the complaints table product by product, classifies
// every row, captures evidence for approved complaints and hands results to
// the persistence gateway.
type Orchestrator struct {
	Portal   Portal
	Saver    Saver
	Statuses StatusSink
	Stats    StatsSink
	Source   SnapshotSource
	Ledger   Recorder
	Observer Observer

	Dedup   *dedupe.Store
	Batches batch.Scheduler
	Log     *logrus.Entry

	// Now and Settle are test hooks. Settle runs after each product
	// search, defaulting to nothing (the Session already paces itself).
	Now    func() time.Time
	Settle func(ctx context.Context)

	mu      sync.Mutex
	running bool
}

// artRe pulls the review article number out of the sidebar product block.
var artRe = regexp.MustCompile(`Арт:\s*(\d+)`)

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) log() *logrus.Entry {
	if o.Log != nil {
		return o.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (o *Orchestrator) acquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) notify(state *models.ScanState) {
	if o.Observer != nil {
		o.Observer.Progress(state.Snapshot())
	}
}

// Run executes one full audit. It returns the final state; a context
// cancellation surfaces as an error alongside whatever was completed.
func (o *Orchestrator) Run(ctx context.Context, req models.ScanRequest) (models.ScanState, error) {
	if !o.acquire() {
		return models.ScanState{}, ErrScanActive
	}
	defer o.release()

	runID := uuid.NewString()
	labels := dates.DateRangeLabels(req.DateRangeStart, req.DateRangeEnd, req.Year)
	state := models.NewScanState(runID, labels)
	state.IsRunning = true

	log := o.log().WithFields(logrus.Fields{
		"run":       runID,
		"workspace": req.WorkspaceName,
		"products":  len(req.ProductIDs),
	})
	log.Info("scan started")

	snap := o.loadSnapshot(ctx, req)
	// captured tracks fingerprints persisted by this run; the loaded
	// snapshot itself stays read-only for the run's duration.
	captured := make(map[string]struct{})

	runErr := o.Batches.Run(ctx, req.ProductIDs, func(ctx context.Context, _ int, productID string) error {
		return o.scanProduct(ctx, req, state, snap, captured, productID)
	})

	state.IsRunning = false
	if runErr != nil {
		state.LastError = runErr.Error()
	} else {
		o.upsertDayStats(ctx, req, state)
	}
	o.notify(state)
	log.WithFields(logrus.Fields{
		"found":   state.TotalFound,
		"saved":   state.Saved,
		"skipped": state.Skipped,
		"errored": state.Errored,
	}).Info("scan finished")
	return state.Snapshot(), runErr
}

// loadSnapshot returns the cached dedup snapshot for the workspace,
// capturing a fresh one from storage when the cache is empty or stale.
// Failures yield a nil snapshot, which treats every row as new.
func (o *Orchestrator) loadSnapshot(ctx context.Context, req models.ScanRequest) *dedupe.Snapshot {
	if o.Dedup == nil {
		return nil
	}
	if snap := o.Dedup.Load(req.WorkspaceID); snap != nil {
		return snap
	}
	if o.Source == nil {
		return nil
	}
	names, err := o.Source.SnapshotFilenames(ctx, req)
	if err != nil {
		o.log().WithError(err).Warn("dedup snapshot capture failed, scanning without it")
		return nil
	}
	o.Dedup.Save(names, req.WorkspaceID)
	return o.Dedup.Load(req.WorkspaceID)
}

// scanProduct searches one product and walks its complaint pages. Product
// level failures are counted, not propagated, so one broken product does
// not abort the batch. Context errors do propagate.
func (o *Orchestrator) scanProduct(ctx context.Context, req models.ScanRequest, state *models.ScanState, snap *dedupe.Snapshot, captured map[string]struct{}, productID string) error {
	log := o.log().WithField("product", productID)
	state.ResetProduct(productID)

	if err := o.Portal.Search(ctx, productID); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Error("search failed")
		state.Errored++
		state.LastError = fmt.Sprintf("search %s: %v", productID, err)
		o.notify(state)
		return nil
	}
	if o.Settle != nil {
		o.Settle(ctx)
	}

	var statuses []models.StatusResult
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.Portal.WaitTableStable(ctx)
		rows, err := o.Portal.Rows(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Error("row collection failed")
			state.Errored++
			state.LastError = fmt.Sprintf("rows %s: %v", productID, err)
			break
		}
		for i, rd := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			statuses = o.processRow(ctx, req, state, snap, captured, productID, i, rd, statuses, log)
		}
		more, err := o.Portal.NextPage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Error("pagination failed")
			state.Errored++
			break
		}
		if !more {
			break
		}
	}

	o.flushStatuses(ctx, req, productID, statuses, log)
	o.notify(state)
	return nil
}

// upsertDayStats mirrors the aggregated per-date counters into the stats
// store, one upsert per tracked label. Best effort.
func (o *Orchestrator) upsertDayStats(ctx context.Context, req models.ScanRequest, state *models.ScanState) {
	if o.Stats == nil {
		return
	}
	for _, label := range state.DateRangeLabels {
		seen, approved := 0, 0
		for _, perDate := range state.Stats {
			c := perDate[label]
			seen += c.Seen
			approved += c.Approved
		}
		if err := o.Stats.UpsertStatsRow(ctx, label, req.WorkspaceName, seen, approved); err != nil {
			o.log().WithError(err).WithField("date", label).Warn("stats upsert failed")
		}
	}
}

// flushStatuses posts the product's collected statuses. Best effort: a
// failed flush is logged and the scan moves on.
func (o *Orchestrator) flushStatuses(ctx context.Context, req models.ScanRequest, productID string, statuses []models.StatusResult, log *logrus.Entry) {
	if o.Statuses == nil || len(statuses) == 0 {
		return
	}
	report, err := o.Statuses.PostStatuses(ctx, req.WorkspaceID, statuses)
	if err != nil {
		log.WithError(err).Warn("status flush failed")
		return
	}
	log.WithFields(logrus.Fields{
		"posted":  len(statuses),
		"updated": report.Updated,
	}).Debug("statuses flushed")
}

// processRow classifies one table row and, for approved complaints inside
// the requested range, captures and persists the evidence. It returns the
// status slice with this row's fingerprint appended when extractable.
func (o *Orchestrator) processRow(ctx context.Context, req models.ScanRequest, state *models.ScanState, snap *dedupe.Snapshot, captured map[string]struct{}, productID string, index int, rd classify.RowData, statuses []models.StatusResult, log *logrus.Entry) []models.StatusResult {
	row := classify.Classify(rd)

	// The status fingerprint is collected for every row whose status label
	// resolved, in or out of range.
	if row.Status != models.StatusUnknown && row.Rating > 0 && row.ReviewDateISO != "" {
		statuses = append(statuses, models.StatusResult{
			ReviewKey: classify.ReviewKey(productID, row.Rating, row.ReviewDateISO),
			Status:    row.Status.String(),
		})
	}

	// Range membership follows the complaint submit date, not the review
	// date: a complaint filed in range can dispute a review written long
	// before the range started.
	row.SubmitDate = dates.ExtractSubmitDate(rd.SubmitText, state.DateRangeLabels, o.now())
	if row.SubmitDate == "" {
		return statuses
	}
	label := row.SubmitDate
	if len(label) > 5 {
		label = label[:5]
	}
	counters, tracked := state.Stats[productID][label]
	if !tracked {
		return statuses
	}
	counters.Seen++
	if row.Status == models.StatusApproved {
		counters.Approved++
	}
	state.Stats[productID][label] = counters

	if row.Status != models.StatusApproved {
		return statuses
	}

	state.TotalFound++
	filename, _ := dedupe.Fingerprint(productID, row.ReviewDateRaw)
	dup := snap.IsDuplicate(productID, row.ReviewDateRaw)
	if !dup && filename != "" {
		_, dup = captured[filename]
	}
	if dup {
		log.WithField("date", row.ReviewDateRaw).Debug("already captured, skipping")
		state.Skipped++
		return statuses
	}

	if err := o.Portal.OpenRow(ctx, index); err != nil {
		log.WithError(err).WithField("row", index).Error("sidebar open failed")
		state.Errored++
		state.LastError = err.Error()
		o.Portal.CloseSidebar(ctx)
		return statuses
	}
	defer o.Portal.CloseSidebar(ctx)

	reviewID := ""
	if info, err := o.Portal.Sidebar(ctx); err == nil {
		if m := artRe.FindStringSubmatch(info.ProductText); m != nil {
			reviewID = m[1]
		}
		if row.Rating == 0 && info.ActiveStars > 0 {
			row.Rating = info.ActiveStars
		}
	} else {
		log.WithError(err).Warn("sidebar read failed, using row fields only")
	}

	png, err := o.Portal.Screenshot(ctx)
	if err != nil {
		log.WithError(err).Error("screenshot failed, row left unsaved")
		state.Errored++
		state.LastError = err.Error()
		return statuses
	}

	rec := models.ComplaintRecord{
		CheckedAt:     o.now(),
		Workspace:     req.WorkspaceName,
		ProductID:     productID,
		ReviewID:      reviewID,
		Rating:        row.Rating,
		ReviewDateRaw: row.ReviewDateRaw,
		SubmitDate:    row.SubmitDate,
		Status:        row.Status.String(),
		Filename:      filename,
	}

	res := o.Saver.Save(ctx, rec, png)
	switch {
	case res.Record == gateway.OutcomeWritten && res.Screenshot != gateway.OutcomeFailed:
		state.Saved++
	case res.Record == gateway.OutcomeSkipped && res.Screenshot == gateway.OutcomeSkipped:
		state.Skipped++
	case res.Err != nil:
		state.Errored++
		state.LastError = res.Err.Error()
	default:
		state.Saved++
	}
	if filename != "" {
		captured[filename] = struct{}{}
	}

	if o.Ledger != nil {
		rec.HasScreenshot = res.Screenshot == gateway.OutcomeWritten
		rec.StorageLink = res.FileLink
		o.Ledger.Record(rec)
	}
	return statuses
}
