package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"complaint-auditor/pkg/models"
)

func testClient(ts TokenSource) *Client {
	c := NewClient(ts, 1000)
	c.Retry = RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}
	return c
}

func TestHTTPTokenSourceCachesUntilInvalidated(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		fmt.Fprintf(w, `{"token":"tok-%d"}`, n)
	}))
	defer srv.Close()

	src := &HTTPTokenSource{URL: srv.URL}
	ctx := context.Background()

	tok, err := src.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("token = %q, want tok-1", tok)
	}
	if tok, _ = src.Token(ctx); tok != "tok-1" {
		t.Errorf("cached token = %q, want tok-1", tok)
	}

	src.Invalidate()
	if tok, _ = src.Token(ctx); tok != "tok-2" {
		t.Errorf("token after invalidate = %q, want tok-2", tok)
	}
}

func TestRetryRefreshesTokenOnAuthFailure(t *testing.T) {
	var tokenCalls, apiCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&tokenCalls, 1)
		fmt.Fprintf(w, `{"token":"tok-%d"}`, n)
	}))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer apiSrv.Close()

	client := testClient(&HTTPTokenSource{URL: tokenSrv.URL})
	if err := client.doJSON(context.Background(), http.MethodGet, apiSrv.URL, nil, nil); err != nil {
		t.Fatalf("doJSON: %v", err)
	}
	if got := atomic.LoadInt32(&apiCalls); got != 2 {
		t.Errorf("api calls = %d, want 2", got)
	}
	if got := atomic.LoadInt32(&tokenCalls); got != 2 {
		t.Errorf("token fetches = %d, want 2", got)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := testClient(&StaticTokenSource{Value: "t"})
	err := client.doJSON(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if !errors.Is(err, ErrServer) {
		t.Fatalf("err = %v, want ErrServer", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestRetryDoesNotRepeatNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := testClient(&StaticTokenSource{Value: "t"})
	err := client.doJSON(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

// driveFake is a minimal in-memory file store behind the Drive API surface.
type driveFake struct {
	mu      chan struct{}
	nextID  int
	files   map[string]fakeFile // id -> file
	uploads int32
}

type fakeFile struct {
	id, name, parent, mime string
	trashed                bool
}

func newDriveFake() *driveFake {
	f := &driveFake{mu: make(chan struct{}, 1), files: make(map[string]fakeFile), nextID: 1}
	f.mu <- struct{}{}
	return f
}

func (f *driveFake) lock()   { <-f.mu }
func (f *driveFake) unlock() { f.mu <- struct{}{} }

func (f *driveFake) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		f.lock()
		defer f.unlock()
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query().Get("q")
			var matches []map[string]string
			for _, file := range f.files {
				if file.trashed {
					continue
				}
				if !strings.Contains(q, "'"+file.parent+"' in parents") {
					continue
				}
				if strings.Contains(q, "name='") && !strings.Contains(q, "name='"+file.name+"'") {
					continue
				}
				if strings.Contains(q, "mimeType='"+folderMIME+"'") && file.mime != folderMIME {
					continue
				}
				matches = append(matches, map[string]string{"id": file.id, "name": file.name})
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"files": matches})
		case http.MethodPost:
			var body struct {
				Name     string   `json:"name"`
				MimeType string   `json:"mimeType"`
				Parents  []string `json:"parents"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			id := fmt.Sprintf("id-%d", f.nextID)
			f.nextID++
			f.files[id] = fakeFile{id: id, name: body.Name, parent: body.Parents[0], mime: body.MimeType}
			json.NewEncoder(w).Encode(map[string]string{"id": id, "name": body.Name})
		}
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		f.lock()
		defer f.unlock()
		id := strings.TrimPrefix(r.URL.Path, "/files/")
		file, ok := f.files[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"id": file.id, "trashed": file.trashed})
	})
	mux.HandleFunc("/upload/files", func(w http.ResponseWriter, r *http.Request) {
		f.lock()
		defer f.unlock()
		atomic.AddInt32(&f.uploads, 1)
		id := fmt.Sprintf("id-%d", f.nextID)
		f.nextID++
		f.files[id] = fakeFile{id: id, name: "uploaded.png", parent: "root", mime: "image/png"}
		json.NewEncoder(w).Encode(map[string]string{"id": id, "webViewLink": "https://files.example/" + id})
	})
	return mux
}

func newTestDrive(t *testing.T) (*Drive, *driveFake) {
	t.Helper()
	fake := newDriveFake()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	client := testClient(&StaticTokenSource{Value: "t"})
	return NewDrive(client, srv.URL, srv.URL+"/upload"), fake
}

func TestFindOrCreateFolderCachesAndRevalidates(t *testing.T) {
	drive, fake := newTestDrive(t)
	ctx := context.Background()

	id1, err := drive.FindOrCreateFolder(ctx, "root", "скриншоты")
	if err != nil {
		t.Fatalf("FindOrCreateFolder: %v", err)
	}
	id2, err := drive.FindOrCreateFolder(ctx, "root", "скриншоты")
	if err != nil {
		t.Fatalf("second FindOrCreateFolder: %v", err)
	}
	if id1 != id2 {
		t.Errorf("cache miss: %q != %q", id1, id2)
	}

	fake.lock()
	file := fake.files[id1]
	file.trashed = true
	fake.files[id1] = file
	fake.unlock()

	id3, err := drive.FindOrCreateFolder(ctx, "root", "скриншоты")
	if err != nil {
		t.Fatalf("FindOrCreateFolder after trash: %v", err)
	}
	if id3 == id1 {
		t.Errorf("trashed folder id %q was reused", id1)
	}
}

func TestFileExistsFailsOpenToFalse(t *testing.T) {
	client := testClient(&StaticTokenSource{Value: "t"})
	drive := NewDrive(client, "http://127.0.0.1:1", "http://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if drive.FileExists(ctx, "folder", "file.png") {
		t.Error("FileExists reported true on an unreachable API")
	}
}

// sheetsFake keeps rows per sheet tab behind the values API surface.
type sheetsFake struct {
	rows map[string][][]string
}

func (f *sheetsFake) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/values/")
		if len(parts) != 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		rng := parts[1]
		if idx := strings.Index(rng, ":append"); idx >= 0 {
			sheet := rng[:idx]
			var body struct {
				Values [][]string `json:"values"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.rows[sheet] = append(f.rows[sheet], body.Values...)
			w.Write([]byte(`{}`))
			return
		}
		sheet := rng
		if idx := strings.Index(sheet, "!"); idx >= 0 {
			sheet = sheet[:idx]
		}
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{"values": f.rows[sheet]})
		case http.MethodPut:
			var body struct {
				Values [][]string `json:"values"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			// range like Stats_Daily!A3:D3
			var rowNum int
			fmt.Sscanf(rng[strings.Index(rng, "!A")+2:], "%d", &rowNum)
			if rowNum >= 1 && rowNum <= len(f.rows[sheet]) {
				f.rows[sheet][rowNum-1] = body.Values[0]
			}
			w.Write([]byte(`{}`))
		}
	})
}

func newTestSheets(t *testing.T) (*Sheets, *sheetsFake) {
	t.Helper()
	fake := &sheetsFake{rows: make(map[string][][]string)}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	client := testClient(&StaticTokenSource{Value: "t"})
	return NewSheets(client, srv.URL, "sheet-1"), fake
}

func sampleRecord() models.ComplaintRecord {
	return models.ComplaintRecord{
		CheckedAt:     time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		Workspace:     "ws-1",
		ProductID:     "38726376",
		Rating:        1,
		ReviewDateRaw: "12 декабря 2025, 20:14",
		SubmitDate:    "10.12.2025",
		Status:        models.StatusApproved.String(),
		HasScreenshot: true,
		Filename:      "38726376_12.12.25_20-14.png",
	}
}

func TestRecordExistsMatchesAppendedRow(t *testing.T) {
	sheets, _ := newTestSheets(t)
	ctx := context.Background()
	rec := sampleRecord()

	if sheets.RecordExists(ctx, rec) {
		t.Fatal("RecordExists true on empty sheet")
	}
	if err := sheets.AppendRecord(ctx, rec); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	if !sheets.RecordExists(ctx, rec) {
		t.Error("RecordExists false after append")
	}

	other := rec
	other.Filename = "38726376_13.12.25_09-00.png"
	if sheets.RecordExists(ctx, other) {
		t.Error("RecordExists matched a different filename")
	}
}

func TestUpsertStatsRowUpdatesInPlace(t *testing.T) {
	sheets, fake := newTestSheets(t)
	ctx := context.Background()

	if err := sheets.UpsertStatsRow(ctx, "01.12", "ws-1", 3, 1); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := sheets.UpsertStatsRow(ctx, "02.12", "ws-1", 5, 2); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if err := sheets.UpsertStatsRow(ctx, "01.12", "ws-1", 7, 4); err != nil {
		t.Fatalf("repeat upsert: %v", err)
	}

	rows := fake.rows[StatsSheet]
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0][2] != "7" || rows[0][3] != "4" {
		t.Errorf("first row = %v, want counters 7/4", rows[0])
	}
	if rows[0][4] != "2" {
		t.Errorf("check count = %q, want 2 after repeat upsert", rows[0][4])
	}
	if rows[1][4] != "1" {
		t.Errorf("check count = %q, want 1 for fresh row", rows[1][4])
	}
}

func TestPostStatusesChunks(t *testing.T) {
	var chunkSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Statuses []models.StatusResult `json:"statuses"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		chunkSizes = append(chunkSizes, len(body.Statuses))
		json.NewEncoder(w).Encode(StatusReport{Received: len(body.Statuses), Updated: len(body.Statuses)})
	}))
	defer srv.Close()

	client := testClient(&StaticTokenSource{Value: "t"})
	sc := NewStatusClient(client, srv.URL, 500)

	results := make([]models.StatusResult, 1200)
	for i := range results {
		results[i] = models.StatusResult{ReviewKey: fmt.Sprintf("p_%d", i), Status: "Жалоба одобрена"}
	}
	report, err := sc.PostStatuses(context.Background(), "ws-1", results)
	if err != nil {
		t.Fatalf("PostStatuses: %v", err)
	}
	want := []int{500, 500, 200}
	if len(chunkSizes) != len(want) {
		t.Fatalf("chunks = %v, want %v", chunkSizes, want)
	}
	for i := range want {
		if chunkSizes[i] != want[i] {
			t.Errorf("chunk %d = %d, want %d", i, chunkSizes[i], want[i])
		}
	}
	if report.Received != 1200 {
		t.Errorf("received = %d, want 1200", report.Received)
	}
}

func TestUploaderOutcomesAreIndependent(t *testing.T) {
	drive, fake := newTestDrive(t)
	ctx := context.Background()

	// Sheets endpoint that always fails the append.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, ":append") || strings.Contains(r.URL.RawPath, ":append") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"values": [][]string{}})
	}))
	defer srv.Close()
	sheets := NewSheets(testClient(&StaticTokenSource{Value: "t"}), srv.URL, "sheet-1")

	up := NewUploader(drive, sheets, "root", models.ModeAllInOne, nil)
	res := up.Save(ctx, sampleRecord(), []byte("png-bytes"))

	if res.Screenshot != OutcomeWritten {
		t.Errorf("screenshot outcome = %v, want written", res.Screenshot)
	}
	if res.Record != OutcomeFailed {
		t.Errorf("record outcome = %v, want failed", res.Record)
	}
	if got := atomic.LoadInt32(&fake.uploads); got != 1 {
		t.Errorf("uploads = %d, want 1", got)
	}
}

func TestUploaderByProductFolderLayout(t *testing.T) {
	drive, fake := newTestDrive(t)
	sheets, _ := newTestSheets(t)
	ctx := context.Background()

	up := NewUploader(drive, sheets, "root", models.ModeByProduct, nil)
	res := up.Save(ctx, sampleRecord(), []byte("png-bytes"))
	if res.Screenshot != OutcomeWritten || res.Record != OutcomeWritten {
		t.Fatalf("outcomes = %v/%v, want written/written", res.Screenshot, res.Record)
	}

	fake.lock()
	defer fake.unlock()
	var sawComplaints, sawProduct bool
	for _, f := range fake.files {
		if f.mime != folderMIME {
			continue
		}
		if f.name == ComplaintsFolder && f.parent == "root" {
			sawComplaints = true
		}
		if f.name == "38726376" {
			sawProduct = true
		}
	}
	if !sawComplaints || !sawProduct {
		t.Errorf("folder layout incomplete: complaints=%v product=%v", sawComplaints, sawProduct)
	}
}
