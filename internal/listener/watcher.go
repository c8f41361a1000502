// Package listener watches every conversation an identity belongs to and
// surfaces at most one incoming-call notification at a time. Detection is
// dual-path: the signal broadcast is the fast path, the persisted ringing
// record the fallback when the broadcast is lost.
package listener

import (
	"context"
	"time"

	"telecare-backend/internal/calllog"
	"telecare-backend/internal/domain"
	"telecare-backend/pkg/constants"
)

// RingingFeed lists ringing call records newer than a cutoff.
type RingingFeed interface {
	ListRingingSince(ctx context.Context, since time.Time) ([]*domain.CallRecord, error)
}

// Watcher polls the ringing feed as a change-feed stand-in. Each poll covers
// the full lookback window; the consumer deduplicates repeats.
type Watcher struct {
	feed     RingingFeed
	interval time.Duration
	lookback time.Duration
	log      *calllog.Log
}

// NewWatcher creates a ringing-record watcher.
func NewWatcher(feed RingingFeed, log *calllog.Log) *Watcher {
	if log == nil {
		log = calllog.Nop()
	}
	return &Watcher{
		feed:     feed,
		interval: constants.RingingPollInterval,
		lookback: constants.RingingLookback,
		log:      log,
	}
}

// SetCadence overrides the poll interval and lookback window. Used by tests.
func (w *Watcher) SetCadence(interval, lookback time.Duration) {
	w.interval = interval
	w.lookback = lookback
}

// Run polls until ctx is cancelled, handing each batch to fn. Empty batches
// are delivered too so the consumer can expire its dedup state. Feed errors
// are logged and the next tick retried; the fast path is unaffected.
func (w *Watcher) Run(ctx context.Context, fn func([]*domain.CallRecord)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			records, err := w.feed.ListRingingSince(ctx, time.Now().Add(-w.lookback))
			if err != nil {
				w.log.Warn("listener", "ringing poll: %v", err)
				continue
			}
			fn(records)
		}
	}
}
