// Tests for the episode state machine.

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maruel/transcriptq/internal/docdb"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return openQueue(t, t.TempDir())
}

func openQueue(t *testing.T, dir string) *Queue {
	t.Helper()
	db, err := docdb.Open(dir, "test")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	c, err := db.Collection("episodes")
	if err != nil {
		t.Fatalf("Collection failed: %v", err)
	}
	return New(c)
}

func seed(t *testing.T, q *Queue, docs ...docdb.Document) {
	t.Helper()
	for _, d := range docs {
		if _, err := q.Collection().Upsert(d); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusTodo, StatusQueued, true},
		{"", StatusQueued, true},
		{StatusQueued, StatusProcessing, true},
		{StatusProcessing, StatusDone, true},
		{StatusProcessing, StatusError, true},
		{StatusError, StatusQueued, true},
		{StatusSkip, StatusTodo, true},
		{StatusTodo, StatusSkip, true},
		{StatusTodo, StatusError, false},
		{StatusQueued, StatusError, false},
		{StatusTodo, StatusProcessing, false},
		{StatusDone, StatusQueued, false},
		{StatusDone, StatusSkip, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
	if _, err := ParseStatus("bogus"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("ParseStatus(bogus) = %v", err)
	}
}

func TestClaimConcurrent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	q := openQueue(t, dir)
	other := openQueue(t, dir)
	seed(t, q, docdb.Document{"_id": "1", "url": "u", "status": "queued"})
	const attempts = 16
	var won atomic.Int32
	var wg sync.WaitGroup
	for i := range attempts {
		// Half of the attempts go through a second handle on the same files.
		cq := q
		if i%2 == 1 {
			cq = other
		}
		wg.Go(func() {
			job, err := cq.Claim(t.Context(), fmt.Sprintf("worker-%d", i))
			if err != nil {
				t.Errorf("Claim failed: %v", err)
				return
			}
			if job != nil {
				won.Add(1)
			}
		})
	}
	wg.Wait()
	if n := won.Load(); n != 1 {
		t.Fatalf("%d claims succeeded, want 1", n)
	}
	ep, err := q.Get("1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ep.Status != StatusProcessing || ep.Lease == nil || ep.Lease.Token == "" {
		t.Errorf("claimed episode = %+v", ep)
	}
}

func TestClaimFailureScenario(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	seed(t, q, docdb.Document{"_id": "1", "status": "queued"})
	job, err := q.Claim(t.Context(), "c1")
	if err != nil || job == nil {
		t.Fatalf("Claim = %v, %v", job, err)
	}
	if job.Episode.Status != StatusProcessing {
		t.Errorf("status = %s", job.Episode.Status)
	}
	if err := q.Finish(t.Context(), job, nil, errors.New("transcription failed")); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	docs, err := q.Collection().Find(docdb.Selector{"status": "error"}, nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(docs) != 1 || docs[0].ID() != "1" {
		t.Fatalf("error episodes = %v", docs)
	}
	if docs[0]["error"] != "transcription failed" {
		t.Errorf("error text = %v", docs[0]["error"])
	}
	if _, ok := docs[0]["lease"]; ok {
		t.Error("lease kept after finish")
	}
	// The lease is gone: a second finish is refused.
	if err := q.Finish(t.Context(), job, nil, nil); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("second Finish = %v, want ErrLeaseLost", err)
	}
}

func TestClaimEmpty(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	seed(t, q, docdb.Document{"_id": "1", "status": "todo"})
	job, err := q.Claim(t.Context(), "c1")
	if err != nil || job != nil {
		t.Errorf("Claim = %v, %v", job, err)
	}
}

func TestClaimOrder(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	seed(t, q,
		docdb.Document{"_id": "a", "status": "queued", "published_date": "2024-03-01"},
		docdb.Document{"_id": "b", "status": "queued", "published_date": "2024-01-01"},
	)
	job, err := q.Claim(t.Context(), "c1")
	if err != nil || job == nil {
		t.Fatalf("Claim = %v, %v", job, err)
	}
	if job.Episode.ID != "b" {
		t.Errorf("claimed %s, want the oldest", job.Episode.ID)
	}
}

func TestFinishSuccess(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	seed(t, q, docdb.Document{"_id": "1", "status": "queued", "custom": "kept", "error": "old"})
	job, _ := q.Claim(t.Context(), "c1")
	if err := job.SaveTranscript(t.Context(), "hello world"); err != nil {
		t.Fatalf("SaveTranscript failed: %v", err)
	}
	res := &Result{Branch: "2024-01-01-x", PostPath: "_posts/2024-01-01-x.md", Commit: "abc"}
	if err := q.Finish(t.Context(), job, res, nil); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if job.Episode.Status != StatusDone || job.Episode.PostPath != res.PostPath || job.Episode.Commit != "abc" {
		t.Errorf("job episode not updated: %+v", job.Episode)
	}
	ep, _ := q.Get("1")
	if ep.Status != StatusDone || ep.Transcript != "hello world" || ep.PostPath != res.PostPath || ep.Error != "" {
		t.Errorf("finished episode = %+v", ep)
	}
	d, _ := q.Collection().FindOne("1", nil)
	if d["custom"] != "kept" {
		t.Errorf("unknown field dropped: %v", d)
	}
}

func TestLeaseLost(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	seed(t, q, docdb.Document{"_id": "1", "status": "queued"})
	job, _ := q.Claim(t.Context(), "c1")
	if _, err := q.MoveTo(t.Context(), "1", StatusQueued); err != nil {
		t.Fatalf("MoveTo failed: %v", err)
	}
	job2, _ := q.Claim(t.Context(), "c2")
	if job2 == nil {
		t.Fatal("requeued episode not claimable")
	}
	if err := job.SaveTranscript(t.Context(), "x"); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("SaveTranscript = %v, want ErrLeaseLost", err)
	}
	if err := q.Finish(t.Context(), job, nil, nil); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("Finish = %v, want ErrLeaseLost", err)
	}
	if err := q.Finish(t.Context(), job2, nil, nil); err != nil {
		t.Errorf("Finish by new owner failed: %v", err)
	}
}

func TestRelease(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	seed(t, q, docdb.Document{"_id": "1", "status": "queued"})
	job, _ := q.Claim(t.Context(), "c1")
	if err := q.Release(t.Context(), job); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	ep, _ := q.Get("1")
	if ep.Status != StatusQueued || ep.Lease != nil {
		t.Errorf("released episode = %+v", ep)
	}
}

func TestMoveTo(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	seed(t, q,
		docdb.Document{"_id": "1", "status": "todo"},
		docdb.Document{"_id": "2", "status": "done"},
	)
	ep, err := q.MoveTo(t.Context(), "1", StatusQueued)
	if err != nil || ep.Status != StatusQueued {
		t.Fatalf("MoveTo = %v, %v", ep, err)
	}
	for _, to := range []Status{StatusProcessing, StatusDone, StatusError} {
		if _, err := q.MoveTo(t.Context(), "1", to); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("MoveTo(%s) = %v, want ErrInvalidTransition", to, err)
		}
	}
	if _, err := q.MoveTo(t.Context(), "2", StatusSkip); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MoveTo from done = %v, want ErrInvalidTransition", err)
	}
	if _, err := q.MoveTo(t.Context(), "missing", StatusSkip); !errors.Is(err, ErrNotFound) {
		t.Errorf("MoveTo missing = %v, want ErrNotFound", err)
	}
	if _, err := q.MoveTo(t.Context(), "1", "bogus"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("MoveTo bogus = %v, want ErrInvalidStatus", err)
	}
}

func TestAddDedupe(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	n, err := q.Add(t.Context(),
		Episode{URL: "https://a", Title: "A", Status: StatusDone},
		Episode{URL: "https://b", Title: "B"},
		Episode{URL: "https://a", Title: "A again"},
		Episode{Title: "no url"},
	)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if n != 2 {
		t.Errorf("added %d, want 2", n)
	}
	n, err = q.Add(t.Context(), Episode{URL: "https://b"}, Episode{URL: "https://c"})
	if err != nil || n != 1 {
		t.Errorf("second Add = %d, %v", n, err)
	}
	todo, err := q.List(StatusTodo)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(todo) != 3 {
		t.Errorf("todo = %d episodes, want 3", len(todo))
	}
	for _, ep := range todo {
		if ep.ID == "" || ep.AddedAt == 0 {
			t.Errorf("stored episode = %+v", ep)
		}
	}
	counts, _ := q.Counts()
	if counts[StatusTodo] != 3 {
		t.Errorf("Counts = %v", counts)
	}
}

func TestRecoverStale(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	seed(t, q,
		docdb.Document{"_id": "old", "status": "queued"},
		docdb.Document{"_id": "orphan", "status": "processing"},
	)
	base := time.Now()
	q.now = func() time.Time { return base }
	if _, err := q.Claim(t.Context(), "c1"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	seed(t, q, docdb.Document{"_id": "fresh", "status": "queued"})
	q.now = func() time.Time { return base.Add(30 * time.Minute) }
	if _, err := q.Claim(t.Context(), "c2"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	q.now = func() time.Time { return base.Add(time.Hour) }
	n, err := q.RecoverStale(t.Context(), 45*time.Minute)
	if err != nil {
		t.Fatalf("RecoverStale failed: %v", err)
	}
	if n != 2 {
		t.Errorf("recovered %d, want 2", n)
	}
	for id, want := range map[string]Status{"old": StatusQueued, "orphan": StatusQueued, "fresh": StatusProcessing} {
		ep, _ := q.Get(id)
		if ep.Status != want {
			t.Errorf("%s status = %s, want %s", id, ep.Status, want)
		}
	}
}

func TestEpisodeSchema(t *testing.T) {
	t.Parallel()
	s := EpisodeSchema()
	if s.Properties == nil {
		t.Fatal("schema has no properties")
	}
	prop, ok := s.Properties.Get("status")
	if !ok {
		t.Fatal("schema lacks status")
	}
	if len(prop.Enum) != len(Statuses) {
		t.Errorf("status enum = %v", prop.Enum)
	}
	if _, ok := s.Properties.Get("url"); !ok {
		t.Error("schema lacks url")
	}
}

func TestEpisodeDocumentRoundTrip(t *testing.T) {
	t.Parallel()
	ep := Episode{ID: "1", URL: "u", Title: "T", Status: StatusTodo, PodNotes: "P", EpisodeNotes: "E"}
	d, err := ep.Document()
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	if d["status"] != "todo" || d["pod_notes"] != "P" {
		t.Errorf("document = %v", d)
	}
	back, err := EpisodeFromDocument(d)
	if err != nil {
		t.Fatalf("EpisodeFromDocument failed: %v", err)
	}
	if *back != ep {
		t.Errorf("round trip = %+v", back)
	}
	if got, want := ep.ShowNotes(), "Podcast title: P\nShow notes: E"; got != want {
		t.Errorf("ShowNotes = %q", got)
	}
}

func TestReaperRun(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	seed(t, q, docdb.Document{"_id": "1", "status": "processing"})
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error)
	go func() { done <- NewReaper(q, time.Minute, 10*time.Millisecond).Run(ctx) }()
	deadline := time.Now().Add(10 * time.Second)
	for {
		ep, _ := q.Get("1")
		if ep.Status == StatusQueued {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stale episode not recovered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
}
