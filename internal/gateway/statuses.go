package gateway

import (
	"context"
	"net/http"
	"strings"

	"complaint-auditor/pkg/models"
)

// StatusClient pushes collected complaint statuses to the status endpoint.
// Large runs are chunked so a single oversized request cannot fail the
// whole flush.
type StatusClient struct {
	Base      string
	ChunkSize int

	client *Client
}

// StatusReport is the endpoint's acknowledgement for one chunk.
type StatusReport struct {
	Received int `json:"received"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

const defaultStatusChunk = 500

func NewStatusClient(client *Client, base string, chunkSize int) *StatusClient {
	if chunkSize <= 0 {
		chunkSize = defaultStatusChunk
	}
	return &StatusClient{
		Base:      strings.TrimRight(base, "/"),
		ChunkSize: chunkSize,
		client:    client,
	}
}

// PostStatuses sends the results in chunks and returns the summed report.
// The first failed chunk aborts the flush; earlier chunks stay delivered.
func (c *StatusClient) PostStatuses(ctx context.Context, workspace string, results []models.StatusResult) (StatusReport, error) {
	var total StatusReport
	for start := 0; start < len(results); start += c.ChunkSize {
		end := start + c.ChunkSize
		if end > len(results) {
			end = len(results)
		}
		body := map[string]interface{}{
			"workspace": workspace,
			"statuses":  results[start:end],
		}
		var report StatusReport
		if err := c.client.doJSON(ctx, http.MethodPost, c.Base+"/statuses", body, &report); err != nil {
			return total, err
		}
		total.Received += report.Received
		total.Updated += report.Updated
		total.Skipped += report.Skipped
	}
	return total, nil
}
