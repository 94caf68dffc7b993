// Package config loads the transcriptq configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maruel/transcriptq/internal/queue"
)

// Config is the whole configuration. Loaded from a YAML file, defaults are
// used for anything missing.
type Config struct {
	// DataDir holds the collection files.
	DataDir string `yaml:"data_dir"`
	// Namespace prefixes the collection files.
	Namespace string `yaml:"namespace"`
	// Collection is the episode collection name.
	Collection string `yaml:"collection"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFile, when set, also receives the logs as JSON, rotated.
	LogFile string `yaml:"log_file"`

	Producer    Producer  `yaml:"producer"`
	Consumer    Consumer  `yaml:"consumer"`
	Transcriber []string  `yaml:"transcriber"`
	Formatter   []string  `yaml:"formatter"`
	Publisher   Publisher `yaml:"publisher"`
	// StepTimeout bounds each transcriber and formatter run.
	StepTimeout Duration `yaml:"step_timeout"`
}

// Producer configures the episode pulls.
type Producer struct {
	// At is the daily HH:MM pull time, used when Every is zero.
	At string `yaml:"at"`
	// Every is a fixed pull interval.
	Every      Duration `yaml:"every"`
	RunOnStart bool     `yaml:"run_on_start"`
	// Feeds are RSS or Atom feed URLs.
	Feeds []string `yaml:"feeds"`
	// Files are JSON episode lists.
	Files []string `yaml:"files"`
}

// Consumer configures the workers.
type Consumer struct {
	Workers      int      `yaml:"workers"`
	PollInterval Duration `yaml:"poll_interval"`
	ErrorBackoff Duration `yaml:"error_backoff"`

	// RatePerMinute bounds the claims of each worker. 0 means unlimited.
	RatePerMinute float64 `yaml:"rate_per_minute"`

	LeaseTimeout Duration `yaml:"lease_timeout"`
	ReapInterval Duration `yaml:"reap_interval"`
}

// Publisher configures the git repository posts are committed to.
type Publisher struct {
	RepoDir    string `yaml:"repo_dir"`
	PostsDir   string `yaml:"posts_dir"`
	BaseBranch string `yaml:"base_branch"`
	Author     string `yaml:"author"`
	Email      string `yaml:"email"`
}

// Duration is a time.Duration written as "90s" or "1h30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns the time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir:    "./data",
		Namespace:  "transcriptq",
		Collection: "episodes",
		LogLevel:   "info",
		Producer: Producer{
			At: "12:00",
		},
		Consumer: Consumer{
			Workers:      2,
			PollInterval: Duration(queue.DefaultPollInterval),
			ErrorBackoff: Duration(queue.DefaultErrorBackoff),
			LeaseTimeout: Duration(2 * time.Hour),
			ReapInterval: Duration(5 * time.Minute),
		},
		Publisher: Publisher{
			PostsDir:   "_posts",
			BaseBranch: "gh-pages",
		},
		StepTimeout: Duration(time.Hour),
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("No config file, using defaults", "path", path)
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	d := yaml.NewDecoder(bytes.NewReader(raw))
	d.KnownFields(true)
	if err := d.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return c, nil
}

// Schedule returns the producer schedule.
func (c *Config) Schedule() (queue.Schedule, error) {
	return queue.ParseSchedule(c.Producer.At, c.Producer.Every.D())
}

// Level returns the log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return l, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Collection == "" {
		errs = append(errs, errors.New("collection is required"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Schedule(); err != nil {
		errs = append(errs, fmt.Errorf("producer: %w", err))
	}
	if c.Consumer.Workers < 0 {
		errs = append(errs, errors.New("consumer.workers must be non-negative"))
	}
	if c.Consumer.RatePerMinute < 0 {
		errs = append(errs, errors.New("consumer.rate_per_minute must be non-negative"))
	}
	if c.Consumer.LeaseTimeout.D() <= 0 {
		errs = append(errs, errors.New("consumer.lease_timeout must be positive"))
	}
	if c.Consumer.ReapInterval.D() <= 0 {
		errs = append(errs, errors.New("consumer.reap_interval must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateRun checks what running consumers additionally needs.
func (c *Config) ValidateRun() error {
	if c.Consumer.Workers == 0 {
		return nil
	}
	var errs []error
	if len(c.Transcriber) == 0 {
		errs = append(errs, errors.New("transcriber command is required to run consumers"))
	}
	if c.Publisher.RepoDir == "" {
		errs = append(errs, errors.New("publisher.repo_dir is required to run consumers"))
	}
	return errors.Join(errs...)
}
