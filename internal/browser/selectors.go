package browser

// Portal CSS selectors. The host UI is a flaky external dependency, so each
// query prefers stable attributes (data-*, name) or class prefixes; the
// extraction code that consumes these always carries a fallback chain.
const (
	selSearchInput  = `input[name="feedback-search-name-input"]`
	selTableBody    = `[data-testid="Base-table-body"]`
	selStatusChip   = `[class*="Chips__text"]`
	selSidebar      = `[class*="Sidebar-panel__"]`
	selProductInfo  = `[class*="Product-info__additional-info"]`
	selFeedbackInfo = `[class*="Feedback-info__"]`
	selFeedbackCell = `[class*="Feedback-info-cell"]`
	selPagination   = `[class*="Pagination-buttons__"]`
	selPageButton   = `[class*="Pagination-icon-button__"]`
	selActiveStar   = `[class*="Rating--active"]`
)

// complaintsEndpointPath identifies the XHR whose completion confirms that a
// page of complaints data actually arrived.
const complaintsEndpointPath = "/api/v1/feedbacks/complaints"
