package source

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
<channel>
  <title>Deep Talks</title>
  <description><![CDATA[<p>Conversations about <b>systems</b>.</p>]]></description>
  <itunes:author>Jane Host</itunes:author>
  <item>
    <title> Episode 2 </title>
    <link>https://example.com/ep2</link>
    <description><![CDATA[<p>First line.</p><p>Second<br/>line.</p>]]></description>
    <pubDate>Tue, 16 Jan 2024 01:31:00 GMT</pubDate>
    <enclosure url="https://cdn.example.com/ep2.mp3" type="audio/mpeg" length="100"/>
  </item>
  <item>
    <title>Episode 1</title>
    <link>https://example.com/ep1</link>
    <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
    <enclosure url="https://cdn.example.com/ep1.jpg" type="image/jpeg" length="100"/>
  </item>
  <item>
    <title>No link</title>
  </item>
</channel>
</rss>`

func TestParseFeed(t *testing.T) {
	t.Parallel()
	eps, err := ParseFeed(strings.NewReader(testFeed))
	if err != nil {
		t.Fatalf("ParseFeed failed: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("got %d episodes, want 2", len(eps))
	}
	ep := eps[0]
	if ep.URL != "https://cdn.example.com/ep2.mp3" {
		t.Errorf("URL = %q", ep.URL)
	}
	if ep.Title != "Episode 2" || ep.Type != "rss" || ep.PublishedDate != "2024-01-16" {
		t.Errorf("episode = %+v", ep)
	}
	if ep.EpisodeNotes != "First line.\nSecond\nline." {
		t.Errorf("EpisodeNotes = %q", ep.EpisodeNotes)
	}
	if ep.PodNotes != "Deep Talks\nConversations about systems." {
		t.Errorf("PodNotes = %q", ep.PodNotes)
	}
	if eps[1].URL != "https://example.com/ep1" {
		t.Errorf("non-media enclosure used: %q", eps[1].URL)
	}
}

func TestFeedFetch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(testFeed))
	}))
	defer srv.Close()
	f := NewFeed(srv.URL, srv.Client())
	if f.Name() != srv.URL {
		t.Errorf("Name = %q", f.Name())
	}
	eps, err := f.Fetch(t.Context())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(eps) != 2 {
		t.Errorf("got %d episodes", len(eps))
	}
}

func TestHTMLToText(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"", ""},
		{"plain", "plain"},
		{"<p>a  <i>b</i></p><ul><li>c</li><li>d</li></ul>", "a b\nc\nd"},
		{"x<br>y", "x\ny"},
	}
	for _, tt := range tests {
		if got := HTMLToText(tt.in); got != tt.want {
			t.Errorf("HTMLToText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFile(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "eps.json")
	data := `[{"url":"https://a","title":"A"},{"url":"https://b","type":"youtube"}]`
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	f := &File{Path: p, Type: "pocketcasts"}
	eps, err := f.Fetch(t.Context())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(eps) != 2 || eps[0].Type != "pocketcasts" || eps[1].Type != "youtube" {
		t.Errorf("episodes = %+v", eps)
	}
	if _, err := (&File{Path: filepath.Join(t.TempDir(), "missing.json")}).Fetch(t.Context()); err == nil {
		t.Error("expected an error for a missing file")
	}
}
