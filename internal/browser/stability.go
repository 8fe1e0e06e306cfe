package browser

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// stableReads is how many consecutive identical non-zero row counts the
// table must show before it counts as settled.
const stableReads = 3

// WaitForStability polls count until it returns the same non-zero value
// stableReads times in a row, spaced by poll. On timeout it returns false
// and the caller proceeds best-effort; a dynamically rendered table must
// never be able to hang the scan.
func WaitForStability(ctx context.Context, maxWait, poll time.Duration, count func() (int, error)) bool {
	deadline := time.Now().Add(maxWait)
	last := -1
	stable := 0

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}

		current, err := count()
		if err != nil {
			// Counting failures reset the streak but don't abort the wait.
			current = 0
		}

		if current == last && current > 0 {
			stable++
			if stable >= stableReads {
				log.WithField("rows", current).Debug("browser: table stable")
				return true
			}
		} else {
			stable = 0
		}
		last = current

		if err := sleep(ctx, poll); err != nil {
			return false
		}
	}

	log.Warn("browser: table stability wait timed out, proceeding")
	return false
}
