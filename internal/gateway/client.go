package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostLimiters hands out one rate limiter per API host so bursts against
// Drive do not starve the Sheets or status calls.
type hostLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   rate.Limit
}

func newHostLimiters(perSec float64) *hostLimiters {
	if perSec <= 0 {
		perSec = 5
	}
	return &hostLimiters{
		limiters: make(map[string]*rate.Limiter),
		perSec:   rate.Limit(perSec),
	}
}

func (h *hostLimiters) get(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.limiters[host]
	if !ok {
		lim = rate.NewLimiter(h.perSec, 1)
		h.limiters[host] = lim
	}
	return lim
}

// Client is the shared HTTP layer under the Drive, Sheets and status
// gateways: bearer auth, per-host pacing and status-to-error mapping.
type Client struct {
	HTTP     *http.Client
	Tokens   TokenSource
	Retry    RetryPolicy
	limiters *hostLimiters
}

// NewClient builds a client with the default retry policy and the given
// per-host request rate.
func NewClient(ts TokenSource, ratePerSec float64) *Client {
	return &Client{
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		Tokens:   ts,
		Retry:    DefaultRetryPolicy(),
		limiters: newHostLimiters(ratePerSec),
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) wait(ctx context.Context, rawURL string) error {
	if c.limiters == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return c.limiters.get(u.Host).Wait(ctx)
}

// doJSON performs one authenticated request and decodes the response into
// out when out is non-nil. body is JSON-encoded when non-nil; rawBody and
// contentType override it for multipart payloads.
func (c *Client) doJSON(ctx context.Context, method, rawURL string, body interface{}, out interface{}) error {
	return c.do(ctx, method, rawURL, body, nil, "", out)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body interface{}, rawBody []byte, contentType string, out interface{}) error {
	return withRetry(ctx, c.Retry, c.Tokens, func(ctx context.Context) error {
		if err := c.wait(ctx, rawURL); err != nil {
			return err
		}

		var reader io.Reader
		switch {
		case rawBody != nil:
			reader = bytes.NewReader(rawBody)
		case body != nil:
			encoded, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encode request: %w", err)
			}
			reader = bytes.NewReader(encoded)
			contentType = "application/json"
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.Tokens != nil {
			tok, err := c.Tokens.Token(ctx)
			if err != nil {
				return fmt.Errorf("acquire token: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+tok)
		}

		resp, err := c.httpClient().Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrServer, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if err := statusError(resp.StatusCode, truncate(string(data), 512)); err != nil {
			return err
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
