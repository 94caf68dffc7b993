package queue

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically requeues processing episodes whose lease expired, so
// that a consumer that crashed does not hold them forever.
type Reaper struct {
	q        *Queue
	timeout  time.Duration
	interval time.Duration
}

// NewReaper returns a Reaper checking every interval for leases older than
// timeout.
func NewReaper(q *Queue, timeout, interval time.Duration) *Reaper {
	return &Reaper{q: q, timeout: timeout, interval: interval}
}

// Run checks until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.q.RecoverStale(ctx, r.timeout)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to recover stale episodes", "err", err)
			} else if n > 0 {
				slog.InfoContext(ctx, "Recovered stale episodes", "count", n)
			}
		}
	}
}
