package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// ConsumerOptions tunes a Consumer. Zero durations use the defaults.
type ConsumerOptions struct {
	// PollInterval is how long an idle consumer waits before trying again.
	PollInterval time.Duration
	// ErrorBackoff is how long to wait after a failed episode.
	ErrorBackoff time.Duration
	// Limiter, if set, bounds the claim rate.
	Limiter *rate.Limiter
	// Wake, if set, interrupts an idle wait, e.g. on store changes.
	Wake <-chan struct{}
}

// Default consumer timings.
const (
	DefaultPollInterval = 60 * time.Second
	DefaultErrorBackoff = 60 * time.Second
)

// Consumer claims queued episodes and runs them through a Processor.
type Consumer struct {
	name string
	q    *Queue
	proc Processor
	opts ConsumerOptions
}

// NewConsumer returns a Consumer whose leases are owned by name.
func NewConsumer(name string, q *Queue, proc Processor, opts ConsumerOptions) *Consumer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	return &Consumer{name: name, q: q, proc: proc, opts: opts}
}

// Run processes episodes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "Consumer started", "consumer", c.name)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if c.opts.Limiter != nil {
			if err := c.opts.Limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		worked, err := c.RunOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			slog.ErrorContext(ctx, "Consumer error, backing off", "consumer", c.name, "err", err, "backoff", c.opts.ErrorBackoff)
			c.wait(ctx, c.opts.ErrorBackoff, nil)
		case !worked:
			slog.DebugContext(ctx, "No queued episode", "consumer", c.name)
			c.wait(ctx, c.opts.PollInterval, c.opts.Wake)
		}
	}
}

func (c *Consumer) wait(ctx context.Context, d time.Duration, wake <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-wake:
	}
}

// RunOnce claims and processes at most one episode. It reports whether an
// episode was claimed, and returns the processing error after the episode
// has been finished as error. An episode interrupted by ctx is released.
func (c *Consumer) RunOnce(ctx context.Context) (bool, error) {
	job, err := c.q.Claim(ctx, c.name)
	if err != nil || job == nil {
		return false, err
	}
	res, procErr := c.process(ctx, job)
	if ctx.Err() != nil {
		if err := c.q.Release(context.WithoutCancel(ctx), job); err != nil {
			return true, err
		}
		return true, nil
	}
	if err := c.q.Finish(ctx, job, res, procErr); err != nil {
		return true, err
	}
	if procErr != nil {
		return true, fmt.Errorf("failed to process %s: %w", job.Episode.ID, procErr)
	}
	return true, nil
}

func (c *Consumer) process(ctx context.Context, job *Job) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.proc.Process(ctx, job)
}
