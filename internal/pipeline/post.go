// Jekyll post rendering.

package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/maruel/transcriptq/internal/queue"
)

// Post is a blog post about one episode.
type Post struct {
	Title string
	URL   string
	// Date is YYYY-MM-DD.
	Date string
	// Content is the formatted transcript.
	Content string
}

// NewPost returns the post for ep. now is used when ep has no published
// date.
func NewPost(ep *queue.Episode, content string, now time.Time) *Post {
	date := ep.PublishedDate
	if date == "" {
		date = now.Format(time.DateOnly)
	}
	title := ep.Title
	if title == "" {
		title = ep.URL
	}
	return &Post{Title: title, URL: ep.URL, Date: date, Content: content}
}

var (
	slugDrop = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	slugDash = regexp.MustCompile(`[\s_]+`)
)

// Slugify lowercases s, drops punctuation and joins the words with dashes.
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = slugDrop.ReplaceAllString(s, "")
	s = slugDash.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Slug returns the post slug. Titles without any letter or digit use
// "untitled".
func (p *Post) Slug() string {
	if s := Slugify(p.Title); s != "" {
		return s
	}
	return "untitled"
}

// FileName is the name of the post under the posts directory.
func (p *Post) FileName() string {
	return p.Date + "-" + p.Slug() + ".md"
}

// Branch is the branch the post is committed on.
func (p *Post) Branch() string {
	return p.Date + "-" + p.Slug()
}

// CommitMessage is the message of the post commit.
func (p *Post) CommitMessage() string {
	return "Add new transcript post: " + p.FileName()
}

// Body returns the markdown below the front matter: a link to the episode,
// the content, the FAQ when there is one and the table of contents index.
func (p *Post) Body() (string, error) {
	toc, err := json.Marshal(ExtractTOC(p.Content))
	if err != nil {
		return "", fmt.Errorf("failed to encode table of contents: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n[%s](%s)\n\n", strings.ReplaceAll(p.Title, "|", " "), p.URL)
	b.WriteString(p.Content)
	if faq := ExtractFAQ(p.Content); len(faq) > 0 {
		b.WriteString("\n\n## FAQ\n")
		for _, e := range faq {
			fmt.Fprintf(&b, "\n**%s**\n\n%s\n", e.Question, e.Answer)
		}
	}
	fmt.Fprintf(&b, "\n\n<script>window.tocIndex = %s\n</script>", toc)
	return b.String(), nil
}

// Render returns the complete post file.
func (p *Post) Render() (string, error) {
	body, err := p.Body()
	if err != nil {
		return "", err
	}
	title := strings.ReplaceAll(p.Title, `"`, `\"`)
	return fmt.Sprintf("---\nlayout: post\ntitle: \"%s\"\ndate: %s 00:00:01\ncategories: podcast\ntags: [podcast_script]\n---\n\n%s\n", title, p.Date, body), nil
}
