package pipeline

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/maruel/transcriptq/internal/docdb"
	"github.com/maruel/transcriptq/internal/queue"
)

type fakeTranscriber struct {
	mu   sync.Mutex
	reqs []Request
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.text, f.err
}

type fakePublisher struct {
	posts []*Post
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, p *Post) (*Publication, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.posts = append(f.posts, p)
	return &Publication{Branch: p.Branch(), Path: "_posts/" + p.FileName(), Commit: "c0ffee"}, nil
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	db, err := docdb.Open(t.TempDir(), "test")
	if err != nil {
		t.Fatal(err)
	}
	c, err := db.Collection("episodes")
	if err != nil {
		t.Fatal(err)
	}
	return queue.New(c)
}

func runOne(t *testing.T, q *queue.Queue, p *Pipeline) error {
	t.Helper()
	worked, err := queue.NewConsumer("test", q, p, queue.ConsumerOptions{}).RunOnce(t.Context())
	if !worked {
		t.Fatal("nothing claimed")
	}
	return err
}

func TestPipelineProcess(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	if _, err := q.Collection().Upsert(docdb.Document{
		"_id": "1", "url": "https://x/1.mp3", "title": "First Talk", "type": "rss", "status": "queued",
		"published_date": "2024-02-03", "pod_notes": "Pod", "episode_notes": "Notes",
	}); err != nil {
		t.Fatal(err)
	}
	tr := &fakeTranscriber{text: "1.0 - 2.0: hello there."}
	pub := &fakePublisher{}
	p := &Pipeline{Transcriber: tr, Formatter: &ParagraphFormatter{}, Publisher: pub}
	if err := runOne(t, q, p); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(tr.reqs) != 1 || tr.reqs[0].ShowNotes != "Podcast title: Pod\nShow notes: Notes" || tr.reqs[0].Type != "rss" {
		t.Errorf("requests = %+v", tr.reqs)
	}
	if len(pub.posts) != 1 || pub.posts[0].Content != "hello there." {
		t.Fatalf("posts = %+v", pub.posts)
	}
	ep, _ := q.Get("1")
	if ep.Status != queue.StatusDone || ep.PostPath != "_posts/2024-02-03-first-talk.md" || ep.Branch != "2024-02-03-first-talk" || ep.Commit != "c0ffee" {
		t.Errorf("episode = %+v", ep)
	}
	if ep.Transcript != "1.0 - 2.0: hello there." {
		t.Errorf("transcript not stored: %q", ep.Transcript)
	}
}

func TestPipelineRetryReusesTranscript(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	if _, err := q.Collection().Upsert(docdb.Document{"_id": "1", "url": "https://y", "title": "Y", "status": "queued"}); err != nil {
		t.Fatal(err)
	}
	tr := &fakeTranscriber{text: "words."}
	pub := &fakePublisher{err: errors.New("push rejected")}
	p := &Pipeline{Transcriber: tr, Formatter: &ParagraphFormatter{}, Publisher: pub}
	if err := runOne(t, q, p); err == nil || !strings.Contains(err.Error(), "push rejected") {
		t.Fatalf("RunOnce = %v", err)
	}
	ep, _ := q.Get("1")
	if ep.Status != queue.StatusError || ep.Transcript != "words." {
		t.Fatalf("failed episode = %+v", ep)
	}
	if len(tr.reqs) != 1 || tr.reqs[0].ShowNotes != "" {
		t.Errorf("requests = %+v", tr.reqs)
	}

	if _, err := q.MoveTo(t.Context(), "1", queue.StatusQueued); err != nil {
		t.Fatal(err)
	}
	pub.err = nil
	if err := runOne(t, q, p); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if len(tr.reqs) != 1 {
		t.Errorf("transcribed again: %d calls", len(tr.reqs))
	}
	ep, _ = q.Get("1")
	if ep.Status != queue.StatusDone || ep.Error != "" {
		t.Errorf("retried episode = %+v", ep)
	}
}

func TestPipelineEmptyTranscript(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	if _, err := q.Collection().Upsert(docdb.Document{"_id": "1", "url": "https://z", "status": "queued"}); err != nil {
		t.Fatal(err)
	}
	p := &Pipeline{Transcriber: &fakeTranscriber{text: "  "}, Formatter: &ParagraphFormatter{}, Publisher: &fakePublisher{}}
	if err := runOne(t, q, p); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("RunOnce = %v, want ErrEmptyTranscript", err)
	}
	docs, err := q.Collection().Find(docdb.Selector{"status": "error"}, nil)
	if err != nil || len(docs) != 1 {
		t.Errorf("error episodes = %v, %v", docs, err)
	}
}

func TestCommandSteps(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	tr := &CommandTranscriber{Command{Argv: []string{"sh", "-c", `printf '%s|%s|' "$1" "$TRANSCRIPTQ_TYPE"; cat`, "sh"}}}
	got, err := tr.Transcribe(t.Context(), Request{URL: "https://u", Type: "rss", ShowNotes: "notes"})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if got != "https://u|rss|notes" {
		t.Errorf("Transcribe = %q", got)
	}
	f := &CommandFormatter{Command{Argv: []string{"tr", "a-z", "A-Z"}}}
	if got, err := f.Format(t.Context(), "hello"); err != nil || got != "HELLO" {
		t.Errorf("Format = %q, %v", got, err)
	}
	bad := &CommandFormatter{Command{Argv: []string{"sh", "-c", "echo broken >&2; exit 3"}}}
	if _, err := bad.Format(t.Context(), "x"); err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("Format = %v, want stderr in error", err)
	}
	if _, err := (&CommandFormatter{}).Format(t.Context(), "x"); err == nil {
		t.Error("expected an error without a command")
	}
}
