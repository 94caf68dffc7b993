package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/maruel/transcriptq/internal/config"
	"github.com/maruel/transcriptq/internal/docdb"
	"github.com/maruel/transcriptq/internal/queue"
	"github.com/maruel/transcriptq/internal/source"
)

// rootOptions holds the global flags and the loaded configuration.
type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
	collection string

	ll      *slog.LevelVar
	cfg     *config.Config
	closers []io.Closer
}

func newRootCommand(ll *slog.LevelVar) *cobra.Command {
	opts := &rootOptions{ll: ll}
	cmd := &cobra.Command{
		Use:   "transcriptq",
		Short: "Podcast transcription queue",
		Long: `transcriptq pulls podcast episodes from feeds into a local document
store, lets you queue the ones to transcribe, and runs workers that
transcribe, format and commit each episode as a blog post.`,
		Version:       version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			for _, c := range opts.closers {
				_ = c.Close()
			}
		},
	}
	f := cmd.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "transcriptq.yaml", "configuration file")
	f.StringVar(&opts.dataDir, "data-dir", "", "data directory, overrides the configuration")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error), overrides the configuration")
	f.StringVar(&opts.collection, "collection", "", "collection to use, overrides the configuration")

	cmd.AddCommand(
		newRunCommand(opts),
		newPullCommand(opts),
		newFindCommand(opts),
		newGetCommand(opts),
		newUpsertCommand(opts),
		newRemoveCommand(opts),
		newStatusCommand(opts),
		newCollectionsCommand(opts),
		newSchemaCommand(opts),
	)
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = o.dataDir
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if cmd.Flags().Changed("collection") {
		cfg.Collection = o.collection
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	l, _ := cfg.Level()
	o.ll.Set(l)
	if cfg.LogFile != "" {
		h, c := newFileHandler(cfg.LogFile, o.ll)
		slog.SetDefault(slog.New(teeHandler{slog.Default().Handler(), h}))
		o.closers = append(o.closers, c)
	}
	o.cfg = cfg
	return nil
}

func (o *rootOptions) openDB() (*docdb.DB, error) {
	db, err := docdb.Open(o.cfg.DataDir, o.cfg.Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return db, nil
}

func (o *rootOptions) openCollection() (*docdb.Collection, error) {
	db, err := o.openDB()
	if err != nil {
		return nil, err
	}
	return db.Collection(o.cfg.Collection)
}

func (o *rootOptions) openQueue() (*queue.Queue, error) {
	c, err := o.openCollection()
	if err != nil {
		return nil, err
	}
	return queue.New(c), nil
}

func (o *rootOptions) sources() []queue.Source {
	var out []queue.Source
	for _, u := range o.cfg.Producer.Feeds {
		out = append(out, source.NewFeed(u, nil))
	}
	for _, p := range o.cfg.Producer.Files {
		out = append(out, &source.File{Path: p})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPullCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Fetch the configured sources once and add the new episodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := opts.openQueue()
			if err != nil {
				return err
			}
			srcs := opts.sources()
			if len(srcs) == 0 {
				return errors.New("no feeds or files configured")
			}
			n, err := queue.NewProducer(q, queue.Schedule{}, false, srcs...).PullOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%d new episodes\n", n)
			return err
		},
	}
}

func newFindCommand(opts *rootOptions) *cobra.Command {
	var sortSpec string
	var skip, limit int
	cmd := &cobra.Command{
		Use:   "find [selector]",
		Short: "Print the documents matching a JSON selector",
		Long: `Print the documents matching a JSON selector, e.g.
  transcriptq find '{"status": "error"}' --sort '{"published_date": -1}'
Without a selector every document is printed. An empty selector {} matches
nothing.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sel any
			if len(args) == 1 {
				var err error
				if sel, err = docdb.ParseSelectorJSON([]byte(args[0])); err != nil {
					return err
				}
			}
			fo := &docdb.FindOptions{Skip: skip, Limit: limit}
			if sortSpec != "" {
				var err error
				if fo.Sort, err = docdb.ParseSortJSON([]byte(sortSpec)); err != nil {
					return err
				}
			}
			c, err := opts.openCollection()
			if err != nil {
				return err
			}
			docs, err := c.Find(sel, fo)
			if err != nil {
				return err
			}
			if docs == nil {
				docs = []docdb.Document{}
			}
			return writeJSON(cmd.OutOrStdout(), docs)
		},
	}
	cmd.Flags().StringVar(&sortSpec, "sort", "", `JSON sort specification, e.g. {"published_date": -1} or [["title", 1]]`)
	cmd.Flags().IntVar(&skip, "skip", 0, "number of documents to skip")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of documents, 0 for all")
	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.openCollection()
			if err != nil {
				return err
			}
			d, err := c.FindOne(args[0], nil)
			if err != nil {
				return err
			}
			if d == nil {
				return fmt.Errorf("document %q not found", args[0])
			}
			return writeJSON(cmd.OutOrStdout(), d)
		},
	}
}

func newUpsertCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upsert [file]",
		Short: "Insert or replace documents read as JSON from a file or stdin",
		Long: `Insert or replace documents. The input is a JSON object or an array of
objects; documents without an _id get a generated one. The ids are printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			docs, err := readDocuments(r)
			if err != nil {
				return err
			}
			c, err := opts.openCollection()
			if err != nil {
				return err
			}
			out, err := c.UpsertMany(docs, nil)
			if err != nil {
				return err
			}
			for _, d := range out {
				fmt.Fprintln(cmd.OutOrStdout(), d.ID())
			}
			return nil
		},
	}
}

func readDocuments(r io.Reader) ([]docdb.Document, error) {
	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	switch t := v.(type) {
	case map[string]any:
		return []docdb.Document{t}, nil
	case []any:
		out := make([]docdb.Document, 0, len(t))
		for i, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d is not an object", i)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected an object or an array, got %T", v)
	}
}

func newRemoveCommand(opts *rootOptions) *cobra.Command {
	var selector string
	cmd := &cobra.Command{
		Use:   "remove [id...]",
		Short: "Remove documents by id or by selector",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (selector == "") {
				return errors.New("pass either ids or --selector")
			}
			c, err := opts.openCollection()
			if err != nil {
				return err
			}
			if selector != "" {
				sel, err := docdb.ParseSelectorJSON([]byte(selector))
				if err != nil {
					return err
				}
				n, err := c.RemoveMatching(sel)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d removed\n", n)
				return nil
			}
			for _, id := range args {
				if err := c.Remove(id); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&selector, "selector", "", "JSON selector of the documents to remove")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [id status]",
		Short: "Print the episode counts per status, or move an episode to a status",
		Long: `Without arguments, print how many episodes are in each status.
With an id and a status, move the episode, e.g. to queue it:
  transcriptq status 2n8X1d7... queued
Only todo, queued and skip can be set by hand.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return errors.New("expected no arguments or an id and a status")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := opts.openQueue()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(args) == 0 {
				counts, err := q.Counts()
				if err != nil {
					return err
				}
				for _, s := range queue.Statuses {
					fmt.Fprintf(w, "%-10s %d\n", s, counts[s])
				}
				var other []string
				for s := range counts {
					if !s.Valid() {
						other = append(other, string(s))
					}
				}
				slices.Sort(other)
				for _, s := range other {
					fmt.Fprintf(w, "%-10q %d\n", s, counts[queue.Status(s)])
				}
				return nil
			}
			to, err := queue.ParseStatus(args[1])
			if err != nil {
				return err
			}
			ep, err := q.MoveTo(cmd.Context(), args[0], to)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s %s\n", ep.ID, ep.Status)
			return nil
		},
	}
}

func newCollectionsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List the collections in the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			names, err := db.CollectionNames()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newSchemaCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of an episode document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), queue.EpisodeSchema())
		},
	}
}
