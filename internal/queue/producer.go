package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Source yields candidate episodes.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Episode, error)
}

// Producer pulls candidates from its sources on a schedule and adds the new
// ones as todo.
type Producer struct {
	q          *Queue
	sources    []Source
	schedule   Schedule
	runOnStart bool
}

// NewProducer returns a Producer. When runOnStart is set, Run pulls once
// before waiting for the schedule.
func NewProducer(q *Queue, schedule Schedule, runOnStart bool, sources ...Source) *Producer {
	return &Producer{q: q, sources: sources, schedule: schedule, runOnStart: runOnStart}
}

// PullOnce fetches every source and adds the new episodes. A failing source
// does not prevent the others from being added; its error is returned.
func (p *Producer) PullOnce(ctx context.Context) (int, error) {
	var all []Episode
	var errs []error
	for _, s := range p.sources {
		eps, err := s.Fetch(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Failed to fetch source", "source", s.Name(), "err", err)
			errs = append(errs, fmt.Errorf("source %s: %w", s.Name(), err))
			continue
		}
		slog.DebugContext(ctx, "Fetched source", "source", s.Name(), "episodes", len(eps))
		all = append(all, eps...)
	}
	added := 0
	if len(all) > 0 {
		n, err := p.q.Add(ctx, all...)
		if err != nil {
			errs = append(errs, err)
		}
		added = n
	}
	slog.InfoContext(ctx, "Pulled episodes", "candidates", len(all), "added", added)
	return added, errors.Join(errs...)
}

// Run pulls on schedule until ctx is done.
func (p *Producer) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "Producer started", "schedule", p.schedule.String(), "sources", len(p.sources))
	if p.runOnStart {
		if _, err := p.PullOnce(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "Pull failed", "err", err)
		}
	}
	for {
		next := p.schedule.Next(p.q.now())
		slog.DebugContext(ctx, "Next pull", "at", next)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if _, err := p.PullOnce(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "Pull failed", "err", err)
		}
	}
}
