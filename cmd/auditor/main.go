package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"complaint-auditor/internal/batch"
	"complaint-auditor/internal/browser"
	"complaint-auditor/internal/config"
	"complaint-auditor/internal/dedupe"
	"complaint-auditor/internal/gateway"
	"complaint-auditor/internal/scan"
	"complaint-auditor/internal/storage"
	"complaint-auditor/pkg/models"
)

func main() {
	products := flag.String("products", "", "comma-separated product ids to audit")
	from := flag.String("from", "", "range start, DD.MM")
	to := flag.String("to", "", "range end, DD.MM")
	year := flag.Int("year", time.Now().Year(), "year the date range belongs to")
	workspace := flag.String("workspace", "", "workspace display name")
	workspaceID := flag.String("workspace-id", "", "workspace id for status reporting and dedup scoping")
	rootFolder := flag.String("root-folder", "", "storage folder id of the workspace")
	sheetID := flag.String("sheet", "", "report spreadsheet id")
	mode := flag.String("mode", string(models.ModeByProduct), "screenshot layout: byProduct or allInOne")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config load failed")
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ids := splitProducts(*products)
	if len(ids) == 0 || *from == "" || *to == "" {
		log.Fatal("usage: -products=ID[,ID...] -from=DD.MM -to=DD.MM are required")
	}
	shotMode := models.ScreenshotMode(*mode)
	if shotMode != models.ModeByProduct && shotMode != models.ModeAllInOne {
		log.Fatalf("unknown -mode %q", *mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := browser.New(ctx, cfg.PortalURL, cfg.RemoteDebuggingURL, timingsFromConfig(cfg))
	if err != nil {
		log.WithError(err).Fatal("browser session failed")
	}
	defer session.Close()

	var tokens gateway.TokenSource
	if cfg.TokenURL != "" {
		tokens = &gateway.HTTPTokenSource{URL: cfg.TokenURL, APIKey: cfg.APIToken}
	} else {
		tokens = &gateway.StaticTokenSource{Value: cfg.APIToken}
	}
	client := gateway.NewClient(tokens, cfg.APIRateLimit)
	client.Retry = gateway.RetryPolicy{MaxAttempts: cfg.RetryMax, Backoff: cfg.RetryBackoff}

	drive := gateway.NewDrive(client, cfg.DriveAPIBase, cfg.DriveUploadBase)
	sheets := gateway.NewSheets(client, cfg.SheetsAPIBase, *sheetID)
	uploader := gateway.NewUploader(drive, sheets, *rootFolder, shotMode, log.WithField("component", "uploader"))

	orch := &scan.Orchestrator{
		Portal:   session,
		Saver:    uploader,
		Source:   &scan.DriveSnapshotSource{Drive: drive},
		Dedup:    &dedupe.Store{},
		Batches:  batch.Scheduler{Size: cfg.BatchSize, Pause: cfg.BatchPause},
		Log:      log.WithField("component", "scan"),
		Observer: progressLogger{},
	}
	if cfg.StatusAPIBase != "" {
		orch.Statuses = gateway.NewStatusClient(client, cfg.StatusAPIBase, cfg.StatusChunkSize)
	}
	if *sheetID != "" {
		orch.Stats = sheets
	}
	var ledger *storage.Ledger
	if cfg.LedgerDSN != "" {
		db := waitForDB(cfg.LedgerDSN)
		defer db.Close()
		ledger = storage.NewLedger(db, log.WithField("component", "ledger"))
		ledger.Start()
		defer ledger.Close()
		orch.Ledger = ledger
	}

	req := models.ScanRequest{
		DateRangeStart: *from,
		DateRangeEnd:   *to,
		Year:           *year,
		ProductIDs:     ids,
		WorkspaceName:  *workspace,
		WorkspaceID:    *workspaceID,
		StorageRootID:  *rootFolder,
		ReportSheetID:  *sheetID,
		Mode:           shotMode,
	}

	state, err := orch.Run(ctx, req)
	if ledger != nil {
		// Flush now so an aborted run's os.Exit does not drop buffered
		// records; the deferred Close becomes a no-op.
		ledger.Close()
		ledger.SaveRunSummary(state)
	}
	summary := log.WithFields(log.Fields{
		"found":   state.TotalFound,
		"saved":   state.Saved,
		"skipped": state.Skipped,
		"errored": state.Errored,
	})
	if err != nil {
		summary.WithError(err).Error("audit aborted")
		os.Exit(1)
	}
	summary.Info("audit complete")
}

func splitProducts(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func timingsFromConfig(cfg *config.Config) browser.Timings {
	return browser.Timings{
		SearchSettle:    cfg.SearchSettle,
		BeforeClick:     cfg.BeforeClick,
		SidebarSettle:   cfg.SidebarSettle,
		AfterClose:      cfg.AfterClose,
		AfterPaginate:   cfg.AfterPaginate,
		SidebarTimeout:  cfg.SidebarTimeout,
		NetworkTimeout:  cfg.NetworkTimeout,
		StabilityWindow: cfg.StabilityWindow,
		StabilityPoll:   cfg.StabilityPoll,
	}
}

// progressLogger surfaces run progress in the process log.
type progressLogger struct{}

func (progressLogger) Progress(state models.ScanState) {
	log.WithFields(log.Fields{
		"run":     state.RunID,
		"found":   state.TotalFound,
		"saved":   state.Saved,
		"skipped": state.Skipped,
		"errored": state.Errored,
	}).Info("scan progress")
}

func waitForDB(url string) *sql.DB {
	var db *sql.DB
	var err error
	for i := 0; i < 10; i++ {
		db, err = sql.Open("pgx", url)
		if err == nil {
			if err = db.Ping(); err == nil {
				log.Info("connected to ledger database")
				return db
			}
		}
		log.WithError(err).Info("waiting for ledger database")
		time.Sleep(2 * time.Second)
	}
	log.Fatal("could not connect to the ledger database after retries")
	return nil
}
