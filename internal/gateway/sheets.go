package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"complaint-auditor/pkg/models"
)

// Sheets appends audit records to the shared spreadsheet and keeps the
// per-day stats rows current.
type Sheets struct {
	Base          string
	SpreadsheetID string

	client *Client
}

func NewSheets(client *Client, base, spreadsheetID string) *Sheets {
	return &Sheets{
		Base:          strings.TrimRight(base, "/"),
		SpreadsheetID: spreadsheetID,
		client:        client,
	}
}

// Sheet tabs the auditor writes to.
const (
	RecordsSheet = "Жалобы"
	StatsSheet   = "Stats_Daily"
)

func (s *Sheets) valuesURL(rng string) string {
	return s.Base + "/" + s.SpreadsheetID + "/values/" + url.PathEscape(rng)
}

// ReadRange returns the cell values of the A1 range, row-major.
func (s *Sheets) ReadRange(ctx context.Context, rng string) ([][]string, error) {
	var out struct {
		Values [][]string `json:"values"`
	}
	if err := s.client.doJSON(ctx, http.MethodGet, s.valuesURL(rng), nil, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

// AppendRow adds one row to the bottom of the sheet.
func (s *Sheets) AppendRow(ctx context.Context, sheet string, row []string) error {
	body := map[string]interface{}{"values": [][]string{row}}
	u := s.valuesURL(sheet) + ":append?valueInputOption=USER_ENTERED&insertDataOption=INSERT_ROWS"
	return s.client.doJSON(ctx, http.MethodPost, u, body, nil)
}

// recordColumns lays out a ComplaintRecord for the records sheet.
func recordColumns(rec models.ComplaintRecord) []string {
	return []string{
		rec.CheckedAt.Format("2006-01-02T15:04"),
		rec.Workspace,
		rec.ProductID,
		rec.ReviewID,
		strconv.Itoa(rec.Rating),
		rec.ReviewDateRaw,
		rec.SubmitDate,
		rec.Status,
		boolCell(rec.HasScreenshot),
		rec.Filename,
		rec.StorageLink,
	}
}

func boolCell(b bool) string {
	if b {
		return "да"
	}
	return "нет"
}

// AppendRecord writes one audit record row.
func (s *Sheets) AppendRecord(ctx context.Context, rec models.ComplaintRecord) error {
	return s.AppendRow(ctx, RecordsSheet, recordColumns(rec))
}

// RecordExists reports whether a row for the same workspace, product,
// review date and filename is already present. Read failures report false
// so the append still happens.
func (s *Sheets) RecordExists(ctx context.Context, rec models.ComplaintRecord) bool {
	rows, err := s.ReadRange(ctx, RecordsSheet+"!A:K")
	if err != nil {
		return false
	}
	for _, row := range rows {
		if len(row) < 10 {
			continue
		}
		if row[1] == rec.Workspace && row[2] == rec.ProductID && row[5] == rec.ReviewDateRaw && row[9] == rec.Filename {
			return true
		}
	}
	return false
}

// UpsertStatsRow writes the day's counters, updating the existing row for
// (date, workspace) when present and appending otherwise. The last column
// counts how many runs have checked this date.
func (s *Sheets) UpsertStatsRow(ctx context.Context, date, workspace string, seen, approved int) error {
	rows, err := s.ReadRange(ctx, StatsSheet+"!A:E")
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	row := []string{date, workspace, strconv.Itoa(seen), strconv.Itoa(approved)}
	for i, existing := range rows {
		if len(existing) >= 2 && existing[0] == date && existing[1] == workspace {
			checks := 1
			if len(existing) >= 5 {
				if n, err := strconv.Atoi(existing[4]); err == nil {
					checks = n + 1
				}
			}
			row = append(row, strconv.Itoa(checks))
			rng := fmt.Sprintf("%s!A%d:E%d", StatsSheet, i+1, i+1)
			body := map[string]interface{}{"values": [][]string{row}}
			u := s.valuesURL(rng) + "?valueInputOption=USER_ENTERED"
			return s.client.doJSON(ctx, http.MethodPut, u, body, nil)
		}
	}
	return s.AppendRow(ctx, StatsSheet, append(row, "1"))
}
