package gateway

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"complaint-auditor/pkg/models"
)

// ComplaintsFolder is the fixed subfolder all screenshots land under.
const ComplaintsFolder = "скриншоты: жалобы WB"

// Outcome describes what happened to one side of a save: the screenshot
// upload and the record append succeed or fail independently.
type Outcome int

const (
	OutcomeWritten Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWritten:
		return "written"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// SaveResult reports both halves of a persistence attempt.
type SaveResult struct {
	Screenshot Outcome
	Record     Outcome
	FileLink   string
	Err        error
}

// Uploader is the persistence gateway: it routes a screenshot into the
// right storage folder and mirrors the audit record into the spreadsheet.
type Uploader struct {
	Drive        *Drive
	Sheets       *Sheets
	RootFolderID string
	Mode         models.ScreenshotMode
	Log          *logrus.Entry
}

func NewUploader(drive *Drive, sheets *Sheets, rootFolderID string, mode models.ScreenshotMode, log *logrus.Entry) *Uploader {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Uploader{
		Drive:        drive,
		Sheets:       sheets,
		RootFolderID: rootFolderID,
		Mode:         mode,
		Log:          log,
	}
}

// targetFolder resolves the destination folder for a product's screenshots.
// In by-product mode each product gets its own subfolder; otherwise all
// screenshots share the complaints folder.
func (u *Uploader) targetFolder(ctx context.Context, productID string) (string, error) {
	base, err := u.Drive.FindOrCreateFolder(ctx, u.RootFolderID, ComplaintsFolder)
	if err != nil {
		return "", fmt.Errorf("resolve complaints folder: %w", err)
	}
	if u.Mode != models.ModeByProduct {
		return base, nil
	}
	sub, err := u.Drive.FindOrCreateFolder(ctx, base, productID)
	if err != nil {
		return "", fmt.Errorf("resolve product folder %s: %w", productID, err)
	}
	return sub, nil
}

// Save uploads the screenshot (unless an identically named file already
// exists) and appends the record (unless the sheet already holds it). The
// two sides are independent: a failed upload does not stop the record and
// vice versa.
func (u *Uploader) Save(ctx context.Context, rec models.ComplaintRecord, png []byte) SaveResult {
	res := SaveResult{Screenshot: OutcomeFailed, Record: OutcomeFailed}
	log := u.Log.WithFields(logrus.Fields{
		"product":  rec.ProductID,
		"filename": rec.Filename,
	})

	stored := false
	folderID, err := u.targetFolder(ctx, rec.ProductID)
	if err != nil {
		log.WithError(err).Error("folder resolution failed")
		res.Err = err
	} else if len(png) == 0 {
		res.Screenshot = OutcomeSkipped
	} else if u.Drive.FileExists(ctx, folderID, rec.Filename) {
		log.Debug("screenshot already stored, skipping upload")
		res.Screenshot = OutcomeSkipped
		stored = true
	} else {
		file, err := u.Drive.UploadFile(ctx, folderID, rec.Filename, png)
		if err != nil {
			log.WithError(err).Error("screenshot upload failed")
			res.Err = err
		} else {
			res.Screenshot = OutcomeWritten
			res.FileLink = file.Link
			stored = true
		}
	}

	rec.HasScreenshot = stored
	rec.StorageLink = res.FileLink

	if u.Sheets.RecordExists(ctx, rec) {
		log.Debug("record already present, skipping append")
		res.Record = OutcomeSkipped
	} else if err := u.Sheets.AppendRecord(ctx, rec); err != nil {
		log.WithError(err).Error("record append failed")
		if res.Err == nil {
			res.Err = err
		}
	} else {
		res.Record = OutcomeWritten
	}
	return res
}
