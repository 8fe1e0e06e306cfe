package storage

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib" // Import the driver
	"github.com/sirupsen/logrus"

	"complaint-auditor/pkg/models"
)

// Ledger mirrors every audited complaint into Postgres for later analysis.
// Writes are buffered and flushed in batches off the scan path: a slow or
// absent database never blocks the scan, at worst records are dropped.
type Ledger struct {
	db        *sql.DB
	records   chan models.ComplaintRecord
	done      chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry

	batchSize    int
	batchTimeout time.Duration
}

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 1 * time.Second
	recordBuffer        = 1000
)

func NewLedger(db *sql.DB, log *logrus.Entry) *Ledger {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ledger{
		db:           db,
		records:      make(chan models.ComplaintRecord, recordBuffer),
		done:         make(chan struct{}),
		log:          log,
		batchSize:    defaultBatchSize,
		batchTimeout: defaultBatchTimeout,
	}
}

// Start launches the background save worker. Call Close to flush and stop.
func (l *Ledger) Start() {
	go l.run()
}

// Record queues one complaint for persistence. Never blocks: when the
// buffer is full the record is dropped and counted in the log.
func (l *Ledger) Record(rec models.ComplaintRecord) {
	select {
	case l.records <- rec:
	default:
		l.log.WithField("product", rec.ProductID).Warn("ledger buffer full, dropping record")
	}
}

// Close flushes buffered records and stops the worker. Safe to call more
// than once, so an explicit pre-exit flush can coexist with a deferred one.
func (l *Ledger) Close() {
	l.closeOnce.Do(func() {
		close(l.records)
		<-l.done
	})
}

func (l *Ledger) run() {
	defer close(l.done)

	buffer := make([]models.ComplaintRecord, 0, l.batchSize)
	ticker := time.NewTicker(l.batchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		if err := l.saveBatch(buffer); err != nil {
			l.log.WithError(err).Error("ledger batch save failed")
		} else {
			l.log.WithField("size", len(buffer)).Debug("ledger batch saved")
		}
		buffer = buffer[:0]
	}

	for {
		select {
		case rec, ok := <-l.records:
			if !ok {
				flush()
				return
			}
			buffer = append(buffer, rec)
			if len(buffer) >= l.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// SaveRunSummary writes one row describing a finished run. Synchronous and
// best effort: a failure is logged, never surfaced.
func (l *Ledger) SaveRunSummary(state models.ScanState) {
	_, err := l.db.Exec(`
		INSERT INTO scan_runs
			(run_id, finished_at, total_found, saved, skipped, errored, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO NOTHING`,
		state.RunID, time.Now(), state.TotalFound, state.Saved,
		state.Skipped, state.Errored, state.LastError)
	if err != nil {
		l.log.WithError(err).WithField("run", state.RunID).Error("run summary insert failed")
	}
}

func (l *Ledger) saveBatch(batch []models.ComplaintRecord) error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO complaint_ledger
			(checked_at, workspace, product_id, review_id, rating,
			 review_date, submit_date, status, has_screenshot, filename, storage_link)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (workspace, filename) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range batch {
		_, err := stmt.Exec(
			rec.CheckedAt,
			rec.Workspace,
			rec.ProductID,
			rec.ReviewID,
			rec.Rating,
			rec.ReviewDateRaw,
			rec.SubmitDate,
			rec.Status,
			rec.HasScreenshot,
			rec.Filename,
			rec.StorageLink,
		)
		if err != nil {
			l.log.WithError(err).WithField("filename", rec.Filename).Error("ledger insert failed")
		}
	}

	return tx.Commit()
}
