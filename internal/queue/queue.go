// Package queue drives episodes through the transcription pipeline on top
// of a docdb collection.
//
// Producers add episodes as todo, an operator moves them to queued, and
// consumers claim queued episodes, process them and finish them as done or
// error. A claim is a conditional update from queued to processing that
// also writes a lease; every later write by the consumer is conditional on
// that lease, so at most one consumer owns an episode at a time.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maruel/transcriptq/internal/docdb"
)

// Queue is the episode state machine over one collection.
type Queue struct {
	c   *docdb.Collection
	now func() time.Time
}

// New returns a Queue storing episodes in c.
func New(c *docdb.Collection) *Queue {
	return &Queue{c: c, now: time.Now}
}

// Collection returns the underlying collection.
func (q *Queue) Collection() *docdb.Collection {
	return q.c
}

var claimOrder = docdb.SortSpec{docdb.Asc("published_date"), docdb.Asc("_id")}

// Result is what processing produced.
type Result struct {
	Branch   string
	PostPath string
	Commit   string
}

// Processor runs the external pipeline on a claimed episode.
type Processor interface {
	Process(ctx context.Context, job *Job) (*Result, error)
}

// Job is a claimed episode. Its methods only succeed while the claim's
// lease is still held.
type Job struct {
	Episode *Episode

	q     *Queue
	token string
}

// Token returns the lease token of the claim.
func (j *Job) Token() string {
	return j.token
}

func (j *Job) leaseSelector() docdb.Selector {
	return docdb.Selector{
		"_id":         j.Episode.ID,
		"status":      string(StatusProcessing),
		"lease.token": j.token,
	}
}

// SaveTranscript checkpoints the raw transcript so that a retry does not
// transcribe again.
func (j *Job) SaveTranscript(ctx context.Context, transcript string) error {
	doc, err := j.q.c.FindAndModify(j.leaseSelector(), nil, func(d docdb.Document) (docdb.Document, error) {
		d["transcript"] = transcript
		return d, nil
	})
	if err != nil {
		return fmt.Errorf("failed to save transcript of %s: %w", j.Episode.ID, err)
	}
	if doc == nil {
		return fmt.Errorf("failed to save transcript of %s: %w", j.Episode.ID, ErrLeaseLost)
	}
	j.Episode.Transcript = transcript
	slog.DebugContext(ctx, "Saved transcript", "id", j.Episode.ID, "len", len(transcript))
	return nil
}

// Add inserts episodes as todo, skipping any whose URL is already stored or
// repeated in the batch. It returns how many were added.
func (q *Queue) Add(ctx context.Context, eps ...Episode) (int, error) {
	added := 0
	now := q.now().UnixMilli()
	err := q.c.Modify(func(tx *docdb.Tx) error {
		added = 0
		seen := map[string]struct{}{}
		for i := range eps {
			ep := eps[i]
			if ep.URL == "" {
				slog.WarnContext(ctx, "Skipping episode without URL", "title", ep.Title)
				continue
			}
			if _, ok := seen[ep.URL]; ok {
				continue
			}
			seen[ep.URL] = struct{}{}
			existing, err := tx.FindOne(docdb.Selector{"url": ep.URL}, nil)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			ep.ID = ""
			ep.Status = StatusTodo
			ep.Lease = nil
			ep.AddedAt = now
			d, err := ep.Document()
			if err != nil {
				return err
			}
			if _, err := tx.Upsert(d); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add episodes: %w", err)
	}
	return added, nil
}

// Get returns the episode with this id.
func (q *Queue) Get(id string) (*Episode, error) {
	d, err := q.c.FindOne(docdb.Selector{"_id": id}, nil)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	return EpisodeFromDocument(d)
}

// List returns the episodes in a status, in claim order.
func (q *Queue) List(status Status) ([]*Episode, error) {
	docs, err := q.c.Find(docdb.Selector{"status": string(status)}, &docdb.FindOptions{Sort: claimOrder})
	if err != nil {
		return nil, err
	}
	out := make([]*Episode, 0, len(docs))
	for _, d := range docs {
		e, err := EpisodeFromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Counts returns the number of episodes per status.
func (q *Queue) Counts() (map[Status]int, error) {
	docs, err := q.c.Find(nil, nil)
	if err != nil {
		return nil, err
	}
	out := map[Status]int{}
	for _, d := range docs {
		s, _ := d["status"].(string)
		out[Status(s)]++
	}
	return out, nil
}

// Claim atomically moves one queued episode to processing under a new
// lease owned by owner. It returns nil when nothing is queued.
func (q *Queue) Claim(ctx context.Context, owner string) (*Job, error) {
	token := uuid.NewString()
	now := q.now().UnixMilli()
	doc, err := q.c.FindAndModify(docdb.Selector{"status": string(StatusQueued)}, &docdb.FindOptions{Sort: claimOrder}, func(d docdb.Document) (docdb.Document, error) {
		d["status"] = string(StatusProcessing)
		d["lease"] = map[string]any{"owner": owner, "token": token, "claimed_at": now}
		delete(d, "error")
		return d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim: %w", err)
	}
	if doc == nil {
		return nil, nil
	}
	ep, err := EpisodeFromDocument(doc)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Claimed episode", "id", ep.ID, "owner", owner, "title", ep.Title)
	return &Job{Episode: ep, q: q, token: token}, nil
}

// Finish ends a claim: done when procErr is nil, error otherwise.
func (q *Queue) Finish(ctx context.Context, job *Job, res *Result, procErr error) error {
	status := StatusDone
	if procErr != nil {
		status = StatusError
	}
	now := q.now().UnixMilli()
	doc, err := q.c.FindAndModify(job.leaseSelector(), nil, func(d docdb.Document) (docdb.Document, error) {
		d["status"] = string(status)
		d["finished_at"] = now
		delete(d, "lease")
		if procErr != nil {
			d["error"] = procErr.Error()
		} else {
			delete(d, "error")
		}
		if res != nil {
			d["branch"] = res.Branch
			d["post_path"] = res.PostPath
			d["commit"] = res.Commit
		}
		return d, nil
	})
	if err != nil {
		return fmt.Errorf("failed to finish %s: %w", job.Episode.ID, err)
	}
	if doc == nil {
		return fmt.Errorf("failed to finish %s: %w", job.Episode.ID, ErrLeaseLost)
	}
	job.Episode.Status = status
	if res != nil {
		job.Episode.Branch, job.Episode.PostPath, job.Episode.Commit = res.Branch, res.PostPath, res.Commit
	}
	if procErr != nil {
		slog.WarnContext(ctx, "Episode failed", "id", job.Episode.ID, "err", procErr)
	} else {
		slog.InfoContext(ctx, "Episode done", "id", job.Episode.ID, "post", job.Episode.PostPath)
	}
	return nil
}

// Release gives a claimed episode back to the queue.
func (q *Queue) Release(ctx context.Context, job *Job) error {
	doc, err := q.c.FindAndModify(job.leaseSelector(), nil, func(d docdb.Document) (docdb.Document, error) {
		d["status"] = string(StatusQueued)
		delete(d, "lease")
		return d, nil
	})
	if err != nil {
		return fmt.Errorf("failed to release %s: %w", job.Episode.ID, err)
	}
	if doc == nil {
		return fmt.Errorf("failed to release %s: %w", job.Episode.ID, ErrLeaseLost)
	}
	job.Episode.Status = StatusQueued
	slog.InfoContext(ctx, "Released episode", "id", job.Episode.ID)
	return nil
}

// MoveTo applies a manual status change. Statuses that only a consumer may
// set are refused.
func (q *Queue) MoveTo(ctx context.Context, id string, to Status) (*Episode, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if consumerOnly(to) {
		return nil, fmt.Errorf("%w: %s is set by consumers only", ErrInvalidTransition, to)
	}
	var out docdb.Document
	err := q.c.Modify(func(tx *docdb.Tx) error {
		d, err := tx.FindOne(docdb.Selector{"_id": id}, nil)
		if err != nil {
			return err
		}
		if d == nil {
			return ErrNotFound
		}
		from, _ := d["status"].(string)
		if !CanTransition(Status(from), to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
		}
		d["status"] = string(to)
		delete(d, "lease")
		out, err = tx.Upsert(d)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Moved episode", "id", id, "status", to)
	return EpisodeFromDocument(out)
}

// RecoverStale puts back to queued every processing episode whose lease is
// older than timeout or missing. It returns how many were recovered.
func (q *Queue) RecoverStale(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := q.now().Add(-timeout).UnixMilli()
	sel := docdb.Selector{
		"status": string(StatusProcessing),
		"$or": []docdb.Selector{
			{"lease.claimed_at": docdb.Selector{"$lt": cutoff}},
			{"lease": docdb.Selector{"$exists": false}},
		},
	}
	n := 0
	err := q.c.Modify(func(tx *docdb.Tx) error {
		n = 0
		docs, err := tx.Find(sel, nil)
		if err != nil {
			return err
		}
		for _, d := range docs {
			d["status"] = string(StatusQueued)
			delete(d, "lease")
			if _, err := tx.Upsert(d); err != nil {
				return err
			}
			slog.WarnContext(ctx, "Recovered stale episode", "id", d.ID())
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale episodes: %w", err)
	}
	return n, nil
}
