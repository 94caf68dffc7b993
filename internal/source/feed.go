// Package source provides the episode sources the producer pulls from.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maruel/transcriptq/internal/queue"
	"github.com/mmcdole/gofeed"
)

// Feed is an RSS or Atom podcast feed.
type Feed struct {
	URL string

	parser *gofeed.Parser
}

// NewFeed returns a Feed fetching url with client. A nil client uses a
// client with a 30s timeout.
func NewFeed(url string, client *http.Client) *Feed {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	p := gofeed.NewParser()
	p.Client = client
	return &Feed{URL: url, parser: p}
}

// Name implements queue.Source.
func (f *Feed) Name() string {
	return f.URL
}

// Fetch implements queue.Source.
func (f *Feed) Fetch(ctx context.Context) ([]queue.Episode, error) {
	feed, err := f.parser.ParseURLWithContext(f.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", f.URL, err)
	}
	return Episodes(feed), nil
}

// ParseFeed reads a feed document from r.
func ParseFeed(r io.Reader) ([]queue.Episode, error) {
	feed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return Episodes(feed), nil
}

// Episodes converts the items of a parsed feed. Items without a usable URL
// are dropped.
func Episodes(feed *gofeed.Feed) []queue.Episode {
	podNotes := feed.Title
	if desc := HTMLToText(feed.Description); desc != "" {
		podNotes += "\n" + desc
	}
	author := personName(feed.Authors)
	out := make([]queue.Episode, 0, len(feed.Items))
	for _, item := range feed.Items {
		u := itemURL(item)
		if u == "" {
			continue
		}
		ep := queue.Episode{
			URL:          u,
			Title:        strings.TrimSpace(item.Title),
			Type:         "rss",
			Author:       author,
			PodNotes:     podNotes,
			EpisodeNotes: HTMLToText(item.Description),
		}
		if a := personName(item.Authors); a != "" {
			ep.Author = a
		}
		if ep.EpisodeNotes == "" {
			ep.EpisodeNotes = HTMLToText(item.Content)
		}
		switch {
		case item.PublishedParsed != nil:
			ep.PublishedDate = item.PublishedParsed.UTC().Format(time.DateOnly)
		case item.UpdatedParsed != nil:
			ep.PublishedDate = item.UpdatedParsed.UTC().Format(time.DateOnly)
		}
		out = append(out, ep)
	}
	return out
}

func itemURL(item *gofeed.Item) string {
	for _, e := range item.Enclosures {
		if e.URL != "" && (strings.HasPrefix(e.Type, "audio/") || strings.HasPrefix(e.Type, "video/")) {
			return e.URL
		}
	}
	return item.Link
}

func personName(p []*gofeed.Person) string {
	for _, a := range p {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

// HTMLToText returns the text content of an HTML fragment, one line per
// paragraph or line break.
func HTMLToText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})
	var lines []string
	for line := range strings.SplitSeq(doc.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
