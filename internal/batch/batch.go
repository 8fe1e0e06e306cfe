// Package batch partitions a large product-id work list into bounded,
// strictly ordered batches with pauses in between so long runs stay under
// the portal's tolerance.
package batch

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultSize  = 100
	DefaultPause = 5 * time.Second
)

// Scheduler walks an ordered item list batch by batch. The zero value uses
// the defaults.
type Scheduler struct {
	Size  int
	Pause time.Duration

	// sleep is a test hook; nil means a real context-aware sleep.
	sleep func(ctx context.Context, d time.Duration) error
}

// Partition splits items into ceil(N/size) ordered slices of at most size.
func (s *Scheduler) Partition(items []string) [][]string {
	size := s.size()
	var batches [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// Run feeds every item to fn in original order, pausing between batches
// (never after the last). Cancellation is checked before every batch and
// before every item; once observed, Run returns ctx.Err() immediately.
// fn's index argument is the item's global position.
func (s *Scheduler) Run(ctx context.Context, items []string, fn func(ctx context.Context, index int, item string) error) error {
	batches := s.Partition(items)

	for bi, b := range batches {
		if err := ctx.Err(); err != nil {
			log.Info("batch: run cancelled before batch")
			return err
		}
		log.WithFields(log.Fields{
			"batch": bi + 1,
			"of":    len(batches),
			"items": len(b),
		}).Info("batch: starting")

		for ii, item := range b {
			if err := ctx.Err(); err != nil {
				log.Info("batch: run cancelled mid-batch")
				return err
			}
			if err := fn(ctx, bi*s.size()+ii, item); err != nil {
				return err
			}
		}

		if bi < len(batches)-1 {
			log.WithField("pause", s.pause()).Debug("batch: inter-batch pause")
			if err := s.doSleep(ctx, s.pause()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scheduler) size() int {
	if s.Size > 0 {
		return s.Size
	}
	return DefaultSize
}

func (s *Scheduler) pause() time.Duration {
	if s.Pause > 0 {
		return s.Pause
	}
	return DefaultPause
}

func (s *Scheduler) doSleep(ctx context.Context, d time.Duration) error {
	if s.sleep != nil {
		return s.sleep(ctx, d)
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
