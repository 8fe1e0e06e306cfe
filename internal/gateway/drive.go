package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
)

// Drive talks to the file-storage API: folder lookup and creation, duplicate
// probing and screenshot upload. Folder ids are cached per parent+name and
// re-validated lazily, so a folder trashed between runs is recreated instead
// of written into.
type Drive struct {
	Base       string
	UploadBase string

	client *Client

	mu      sync.Mutex
	folders map[string]string // parentID|name -> folderID
}

// DriveFile is the subset of file metadata the auditor cares about.
type DriveFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Link string `json:"webViewLink"`
}

func NewDrive(client *Client, base, uploadBase string) *Drive {
	return &Drive{
		Base:       strings.TrimRight(base, "/"),
		UploadBase: strings.TrimRight(uploadBase, "/"),
		client:     client,
		folders:    make(map[string]string),
	}
}

const folderMIME = "application/vnd.google-apps.folder"

func folderKey(parentID, name string) string {
	return parentID + "|" + name
}

// FindFolder returns the id of a non-trashed folder with the given name
// under parentID, or ErrNotFound.
func (d *Drive) FindFolder(ctx context.Context, parentID, name string) (string, error) {
	q := fmt.Sprintf("mimeType='%s' and name='%s' and '%s' in parents and trashed=false",
		folderMIME, escapeQuery(name), parentID)
	var out struct {
		Files []DriveFile `json:"files"`
	}
	u := d.Base + "/files?q=" + url.QueryEscape(q) + "&fields=" + url.QueryEscape("files(id,name)")
	if err := d.client.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return "", err
	}
	if len(out.Files) == 0 {
		return "", ErrNotFound
	}
	return out.Files[0].ID, nil
}

// CreateFolder makes a folder under parentID and returns its id.
func (d *Drive) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	body := map[string]interface{}{
		"name":     name,
		"mimeType": folderMIME,
		"parents":  []string{parentID},
	}
	var out DriveFile
	if err := d.client.doJSON(ctx, http.MethodPost, d.Base+"/files", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway: folder create returned no id")
	}
	return out.ID, nil
}

// validateFolder confirms a cached folder id still resolves to a live folder.
func (d *Drive) validateFolder(ctx context.Context, folderID string) bool {
	var out struct {
		ID      string `json:"id"`
		Trashed bool   `json:"trashed"`
	}
	u := d.Base + "/files/" + folderID + "?fields=" + url.QueryEscape("id,trashed")
	if err := d.client.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return false
	}
	return out.ID != "" && !out.Trashed
}

// FindOrCreateFolder resolves the folder, consulting the cache first. A
// cached id that no longer validates is dropped and the lookup repeated.
func (d *Drive) FindOrCreateFolder(ctx context.Context, parentID, name string) (string, error) {
	key := folderKey(parentID, name)

	d.mu.Lock()
	cached, ok := d.folders[key]
	d.mu.Unlock()
	if ok {
		if d.validateFolder(ctx, cached) {
			return cached, nil
		}
		d.mu.Lock()
		delete(d.folders, key)
		d.mu.Unlock()
	}

	id, err := d.FindFolder(ctx, parentID, name)
	if errors.Is(err, ErrNotFound) {
		id, err = d.CreateFolder(ctx, parentID, name)
	}
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	d.folders[key] = id
	d.mu.Unlock()
	return id, nil
}

// ListFilenames returns the names of non-trashed files directly under the
// folder. Used to seed the dedup snapshot.
func (d *Drive) ListFilenames(ctx context.Context, folderID string) ([]string, error) {
	q := fmt.Sprintf("'%s' in parents and trashed=false", folderID)
	var out struct {
		Files []DriveFile `json:"files"`
	}
	u := d.Base + "/files?q=" + url.QueryEscape(q) + "&fields=" + url.QueryEscape("files(id,name)") + "&pageSize=1000"
	if err := d.client.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Files))
	for _, f := range out.Files {
		names = append(names, f.Name)
	}
	return names, nil
}

// FileExists probes for a file by exact name under the folder. Probe
// failures report false so a flaky check never blocks an upload.
func (d *Drive) FileExists(ctx context.Context, folderID, name string) bool {
	q := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", escapeQuery(name), folderID)
	var out struct {
		Files []DriveFile `json:"files"`
	}
	u := d.Base + "/files?q=" + url.QueryEscape(q) + "&fields=" + url.QueryEscape("files(id)")
	if err := d.client.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return false
	}
	return len(out.Files) > 0
}

// UploadFile stores the PNG under folderID via a multipart upload and
// returns the created file's metadata.
func (d *Drive) UploadFile(ctx context.Context, folderID, name string, png []byte) (*DriveFile, error) {
	meta := map[string]interface{}{
		"name":    name,
		"parents": []string{folderID},
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaHdr := textproto.MIMEHeader{}
	metaHdr.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := w.CreatePart(metaHdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return nil, err
	}

	fileHdr := textproto.MIMEHeader{}
	fileHdr.Set("Content-Type", "image/png")
	part, err = w.CreatePart(fileHdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(png); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	u := d.UploadBase + "/files?uploadType=multipart&fields=" + url.QueryEscape("id,name,webViewLink")
	contentType := "multipart/related; boundary=" + w.Boundary()
	var out DriveFile
	if err := d.client.do(ctx, http.MethodPost, u, nil, buf.Bytes(), contentType, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("gateway: upload returned no file id")
	}
	return &out, nil
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}
