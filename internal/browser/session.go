// Package browser drives the seller portal through the Chrome DevTools
// Protocol. It owns every DOM interaction of a scan: searching, reading
// table rows, pagination, the detail sidebar and evidence screenshots.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	log "github.com/sirupsen/logrus"

	"complaint-auditor/internal/classify"
)

var (
	ErrSearchInputNotFound = errors.New("browser: search input not found")
	ErrSidebarTimeout      = errors.New("browser: sidebar did not appear")
)

// Timings groups the waits a Session performs between interactions.
type Timings struct {
	SearchSettle    time.Duration
	BeforeClick     time.Duration
	SidebarSettle   time.Duration
	AfterClose      time.Duration
	AfterPaginate   time.Duration
	SidebarTimeout  time.Duration
	NetworkTimeout  time.Duration
	StabilityWindow time.Duration
	StabilityPoll   time.Duration
}

// DefaultTimings matches the pacing the portal has proven to need.
func DefaultTimings() Timings {
	return Timings{
		SearchSettle:    3 * time.Second,
		BeforeClick:     800 * time.Millisecond,
		SidebarSettle:   2 * time.Second,
		AfterClose:      time.Second,
		AfterPaginate:   2 * time.Second,
		SidebarTimeout:  5 * time.Second,
		NetworkTimeout:  5 * time.Second,
		StabilityWindow: 3 * time.Second,
		StabilityPoll:   200 * time.Millisecond,
	}
}

// SidebarInfo is the raw detail-panel content a row exposes on demand.
type SidebarInfo struct {
	InfoText    string `json:"infoText"`    // feedback block text (holds the review date)
	ProductText string `json:"productText"` // product block text (holds "Арт: NNN")
	ActiveStars int    `json:"activeStars"`
}

// Session is one live portal tab. Not safe for concurrent use; a scan
// drives it strictly sequentially.
type Session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timings Timings

	// dataLoaded receives a signal whenever the complaints endpoint
	// finishes responding.
	dataLoaded chan struct{}
}

// New launches (or attaches to) Chrome and navigates to the portal page.
// When remoteURL is empty a headful browser is started so an operator can
// complete the portal login.
func New(ctx context.Context, portalURL, remoteURL string, timings Timings) (*Session, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if remoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, remoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", false),
			chromedp.WindowSize(1440, 960),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	s := &Session{
		ctx:     tabCtx,
		timings: timings,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		dataLoaded: make(chan struct{}, 8),
	}

	// Network-confirmed page loads: watch for the complaints endpoint.
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*network.EventResponseReceived); ok {
			if strings.Contains(e.Response.URL, complaintsEndpointPath) {
				select {
				case s.dataLoaded <- struct{}{}:
				default:
				}
			}
		}
	})

	if err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.Navigate(portalURL),
	); err != nil {
		s.cancel()
		return nil, fmt.Errorf("browser: navigate: %w", err)
	}
	return s, nil
}

// Close tears the tab and allocator down.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Search drives the portal search input with a product id and waits the
// settle delay for results to load.
func (s *Session) Search(ctx context.Context, productID string) error {
	var found bool
	if err := s.run(ctx,
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, selSearchInput), &found),
	); err != nil {
		return err
	}
	if !found {
		return ErrSearchInputNotFound
	}

	if err := s.run(ctx,
		chromedp.Clear(selSearchInput, chromedp.ByQuery),
		chromedp.SendKeys(selSearchInput, productID+kb.Enter, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("browser: search %s: %w", productID, err)
	}
	return sleep(ctx, s.timings.SearchSettle)
}

// RowCount returns the number of rows currently rendered in the table body.
func (s *Session) RowCount(ctx context.Context) (int, error) {
	var n int
	script := fmt.Sprintf(`(() => {
		const body = document.querySelector(%q);
		return body ? body.children.length : 0;
	})()`, selTableBody)
	if err := s.run(ctx, chromedp.Evaluate(script, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

// Rows captures every table row as the raw cell material the classifier
// consumes. One evaluation gathers everything so a re-render mid-read
// cannot interleave rows.
func (s *Session) Rows(ctx context.Context) ([]classify.RowData, error) {
	script := fmt.Sprintf(`(() => {
		const body = document.querySelector(%q);
		if (!body) return [];
		return Array.from(body.children).map(row => {
			const chip = row.querySelector(%q);
			const cell = row.querySelector(%q);
			const fallback = row.children[4];
			const submitEl = row.children[2] ? row.children[2].querySelector('[data-name="Text"]') : null;
			return {
				statusText: chip ? chip.innerText.trim() : "",
				primaryCellHTML: cell ? cell.outerHTML : "",
				fallbackCellHTML: fallback ? fallback.outerHTML : "",
				submitText: submitEl ? submitEl.innerText : "",
				outerHTML: row.outerHTML,
			};
		});
	})()`, selTableBody, selStatusChip, selFeedbackCell)

	var rows []classify.RowData
	if err := s.run(ctx, chromedp.Evaluate(script, &rows)); err != nil {
		return nil, fmt.Errorf("browser: read rows: %w", err)
	}
	return rows, nil
}

// OpenRow scrolls a row into view and clicks it to open the detail sidebar,
// then waits for the sidebar to appear within the configured bound.
func (s *Session) OpenRow(ctx context.Context, index int) error {
	script := fmt.Sprintf(`(() => {
		const body = document.querySelector(%q);
		const row = body && body.children[%d];
		if (!row) return false;
		row.scrollIntoView({behavior: "smooth", block: "center"});
		return true;
	})()`, selTableBody, index)

	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("browser: row %d not present", index)
	}
	if err := sleep(ctx, s.timings.BeforeClick); err != nil {
		return err
	}

	click := fmt.Sprintf(`(() => {
		const body = document.querySelector(%q);
		const row = body && body.children[%d];
		if (row) row.click();
	})()`, selTableBody, index)
	if err := s.run(ctx, chromedp.Evaluate(click, nil)); err != nil {
		return err
	}

	return s.waitSidebar(ctx)
}

func (s *Session) waitSidebar(ctx context.Context) error {
	deadline := time.Now().Add(s.timings.SidebarTimeout)
	for {
		var present bool
		if err := s.run(ctx, chromedp.Evaluate(
			fmt.Sprintf(`document.querySelector(%q) !== null`, selSidebar), &present,
		)); err != nil {
			return err
		}
		if present {
			// Let images and lazy blocks inside the panel finish rendering.
			return sleep(ctx, s.timings.SidebarSettle)
		}
		if time.Now().After(deadline) {
			return ErrSidebarTimeout
		}
		if err := sleep(ctx, 150*time.Millisecond); err != nil {
			return err
		}
	}
}

// Sidebar extracts the raw detail-panel fields. The last feedback block
// wins when several are rendered (an amended review carries the date).
func (s *Session) Sidebar(ctx context.Context) (SidebarInfo, error) {
	script := fmt.Sprintf(`(() => {
		const panel = document.querySelector(%q);
		if (!panel) return {infoText: "", productText: "", activeStars: 0};
		let info = panel.querySelector(%q);
		if (!info) {
			const all = panel.querySelectorAll('[class*="Feedback-info"]');
			if (all.length > 0) info = all[all.length - 1];
		}
		const product = panel.querySelector(%q);
		const stars = panel.querySelectorAll(%q);
		return {
			infoText: info ? info.innerText : "",
			productText: product ? product.innerText : "",
			activeStars: stars.length,
		};
	})()`, selSidebar, selFeedbackInfo, selProductInfo, selActiveStar)

	var info SidebarInfo
	if err := s.run(ctx, chromedp.Evaluate(script, &info)); err != nil {
		return SidebarInfo{}, fmt.Errorf("browser: sidebar: %w", err)
	}
	return info, nil
}

// CloseSidebar dismisses the detail panel with Escape and waits for the
// panel teardown to finish.
func (s *Session) CloseSidebar(ctx context.Context) error {
	if err := s.run(ctx, chromedp.KeyEvent(kb.Escape)); err != nil {
		return err
	}
	return sleep(ctx, s.timings.AfterClose)
}

// Screenshot captures the visible viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return buf, nil
}

// NextPage clicks the next-page control if one exists and waits for the
// network-confirmed data load plus DOM stabilization. Returns false when no
// control is present (last page).
func (s *Session) NextPage(ctx context.Context) (bool, error) {
	script := fmt.Sprintf(`(() => {
		const pag = document.querySelector(%q);
		if (!pag || !pag.lastElementChild) return false;
		const btn = pag.lastElementChild.querySelector(%q);
		if (!btn) return false;
		btn.click();
		return true;
	})()`, selPagination, selPageButton)

	var clicked bool
	if err := s.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return false, err
	}
	if !clicked {
		return false, nil
	}

	s.WaitDataLoaded(ctx)
	if err := sleep(ctx, s.timings.AfterPaginate); err != nil {
		return true, err
	}
	WaitForStability(ctx, s.timings.StabilityWindow, s.timings.StabilityPoll, func() (int, error) {
		return s.RowCount(ctx)
	})
	return true, nil
}

// WaitDataLoaded blocks until the complaints endpoint reports a completed
// response or the network timeout elapses; the timeout resolves to "no
// signal" rather than an error.
func (s *Session) WaitDataLoaded(ctx context.Context) {
	t := time.NewTimer(s.timings.NetworkTimeout)
	defer t.Stop()
	select {
	case <-s.dataLoaded:
	case <-t.C:
		log.Debug("browser: no complaints-endpoint signal before timeout")
	case <-ctx.Done():
	}
}

// WaitTableStable applies the stability poll to the live table.
func (s *Session) WaitTableStable(ctx context.Context) {
	WaitForStability(ctx, s.timings.StabilityWindow, s.timings.StabilityPoll, func() (int, error) {
		return s.RowCount(ctx)
	})
}

// run executes chromedp actions against the session tab while honoring the
// caller's cancellation.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(s.ctx, actions...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
