package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/maruel/transcriptq/internal/pipeline"
	"github.com/maruel/transcriptq/internal/queue"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the producer, the consumers and the stale lease reaper",
		Long: `Run the producer on its schedule, the consumers and the reaper that
requeues episodes whose consumer died. Stops on SIGINT or SIGTERM; episodes
being processed are put back in the queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("workers") {
				opts.cfg.Consumer.Workers = workers
			}
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of consumers, overrides the configuration")
	return cmd
}

func newPipeline(opts *rootOptions) (*pipeline.Pipeline, error) {
	cfg := opts.cfg
	pub, err := pipeline.NewGitPublisher(cfg.Publisher.RepoDir, pipeline.GitOptions{
		PostsDir:   cfg.Publisher.PostsDir,
		BaseBranch: cfg.Publisher.BaseBranch,
		Name:       cfg.Publisher.Author,
		Email:      cfg.Publisher.Email,
	})
	if err != nil {
		return nil, err
	}
	p := &pipeline.Pipeline{
		Transcriber: &pipeline.CommandTranscriber{Command: pipeline.Command{Argv: cfg.Transcriber, Timeout: cfg.StepTimeout.D()}},
		Formatter:   &pipeline.ParagraphFormatter{},
		Publisher:   pub,
	}
	if len(cfg.Formatter) != 0 {
		p.Formatter = &pipeline.CommandFormatter{Command: pipeline.Command{Argv: cfg.Formatter, Timeout: cfg.StepTimeout.D()}}
	}
	return p, nil
}

func run(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	if err := cfg.ValidateRun(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	schedule, err := cfg.Schedule()
	if err != nil {
		return err
	}
	q, err := opts.openQueue()
	if err != nil {
		return err
	}
	eg, ctx := errgroup.WithContext(ctx)
	if srcs := opts.sources(); len(srcs) != 0 {
		p := queue.NewProducer(q, schedule, cfg.Producer.RunOnStart, srcs...)
		eg.Go(func() error { return p.Run(ctx) })
	} else {
		slog.InfoContext(ctx, "No sources configured, producer disabled")
	}
	if cfg.Consumer.Workers > 0 {
		proc, err := newPipeline(opts)
		if err != nil {
			return err
		}
		host, _ := os.Hostname()
		for i := range cfg.Consumer.Workers {
			wake, err := q.Collection().Watch(ctx)
			if err != nil {
				slog.WarnContext(ctx, "Change notifications unavailable, polling only", "err", err)
			}
			co := queue.ConsumerOptions{
				PollInterval: cfg.Consumer.PollInterval.D(),
				ErrorBackoff: cfg.Consumer.ErrorBackoff.D(),
				Wake:         wake,
			}
			if r := cfg.Consumer.RatePerMinute; r > 0 {
				co.Limiter = rate.NewLimiter(rate.Limit(r/60), 1)
			}
			name := fmt.Sprintf("%s:%d:%d", host, os.Getpid(), i+1)
			c := queue.NewConsumer(name, q, proc, co)
			eg.Go(func() error { return c.Run(ctx) })
		}
		r := queue.NewReaper(q, cfg.Consumer.LeaseTimeout.D(), cfg.Consumer.ReapInterval.D())
		eg.Go(func() error { return r.Run(ctx) })
	}
	slog.InfoContext(ctx, "Running", "workers", cfg.Consumer.Workers, "schedule", schedule.String(), "data_dir", cfg.DataDir)
	err = eg.Wait()
	slog.InfoContext(ctx, "Stopped")
	return err
}
