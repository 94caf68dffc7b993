// Package pipeline turns a claimed episode into a published blog post.
//
// The external steps are interfaces backed by subprocesses or fakes.
// Pipeline wires them together as a queue.Processor.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maruel/transcriptq/internal/queue"
)

// Request is what a Transcriber needs to know about an episode.
type Request struct {
	URL       string
	Type      string
	ShowNotes string
}

// Transcriber produces the raw transcript of an episode.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// Formatter rewrites a raw transcript into readable markdown.
type Formatter interface {
	Format(ctx context.Context, transcript string) (string, error)
}

// Publication is where a post was published.
type Publication struct {
	Branch string
	Path   string
	Commit string
}

// Publisher stores a rendered post.
type Publisher interface {
	Publish(ctx context.Context, post *Post) (*Publication, error)
}

// ErrEmptyTranscript is returned when a step produced no text.
var ErrEmptyTranscript = errors.New("empty transcript")

// Pipeline runs an episode through transcription, formatting and
// publishing.
type Pipeline struct {
	Transcriber Transcriber
	Formatter   Formatter
	Publisher   Publisher

	// Now returns the date used for episodes without a published date.
	Now func() time.Time
}

// Process implements queue.Processor. A transcript already stored on the
// episode is reused; a new one is checkpointed before formatting.
func (p *Pipeline) Process(ctx context.Context, job *queue.Job) (*queue.Result, error) {
	ep := job.Episode
	transcript := ep.Transcript
	if transcript == "" {
		req := Request{URL: ep.URL, Type: ep.Type}
		if ep.PodNotes != "" || ep.EpisodeNotes != "" {
			req.ShowNotes = ep.ShowNotes()
		}
		t, err := p.Transcriber.Transcribe(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to transcribe %s: %w", ep.URL, err)
		}
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("failed to transcribe %s: %w", ep.URL, ErrEmptyTranscript)
		}
		if err := job.SaveTranscript(ctx, t); err != nil {
			return nil, err
		}
		transcript = t
	} else {
		slog.InfoContext(ctx, "Reusing stored transcript", "id", ep.ID, "len", len(transcript))
	}
	formatted, err := p.Formatter.Format(ctx, transcript)
	if err != nil {
		return nil, fmt.Errorf("failed to format %s: %w", ep.URL, err)
	}
	if strings.TrimSpace(formatted) == "" {
		return nil, fmt.Errorf("failed to format %s: %w", ep.URL, ErrEmptyTranscript)
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	post := NewPost(ep, formatted, now())
	pub, err := p.Publisher.Publish(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s: %w", ep.URL, err)
	}
	slog.InfoContext(ctx, "Published post", "id", ep.ID, "branch", pub.Branch, "path", pub.Path)
	return &queue.Result{Branch: pub.Branch, PostPath: pub.Path, Commit: pub.Commit}, nil
}
