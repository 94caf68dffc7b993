package pipeline

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

var timestampPrefix = regexp.MustCompile(`^\s*\d+(?:\.\d+)?\s*-\s*\d+(?:\.\d+)?\s*:\s*`)

// ParagraphFormatter is a local Formatter: it strips "start - end:"
// timestamp prefixes and regroups the text into paragraphs of
// SentencesPerParagraph sentences. Blank lines in the input always end a
// paragraph.
type ParagraphFormatter struct {
	SentencesPerParagraph int
}

// Format implements Formatter.
func (f *ParagraphFormatter) Format(ctx context.Context, transcript string) (string, error) {
	n := f.SentencesPerParagraph
	if n <= 0 {
		n = 5
	}
	var paragraphs []string
	var words []string
	sentences := 0
	flush := func() {
		if len(words) > 0 {
			paragraphs = append(paragraphs, strings.Join(words, " "))
		}
		words = words[:0]
		sentences = 0
	}
	for line := range strings.SplitSeq(transcript, "\n") {
		line = timestampPrefix.ReplaceAllString(line, "")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			flush()
			continue
		}
		for _, w := range fields {
			words = append(words, w)
			if strings.ContainsAny(w[len(w)-1:], ".?!") {
				if sentences++; sentences >= n {
					flush()
				}
			}
		}
	}
	flush()
	return strings.Join(paragraphs, "\n\n"), ctx.Err()
}

// TOCEntry is a markdown heading.
type TOCEntry struct {
	Level  int    `json:"level"`
	Title  string `json:"title"`
	Anchor string `json:"anchor"`
}

var heading = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

// ExtractTOC returns the headings of a markdown document, outside fenced
// code blocks. Anchors are unique within the document.
func ExtractTOC(md string) []TOCEntry {
	out := []TOCEntry{}
	seen := map[string]int{}
	for _, line := range markdownLines(md) {
		m := heading.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		title := strings.TrimSpace(m[2])
		anchor := Slugify(title)
		if n := seen[anchor]; n > 0 {
			seen[anchor]++
			anchor += "-" + strconv.Itoa(n)
		} else {
			seen[anchor] = 1
		}
		out = append(out, TOCEntry{Level: len(m[1]), Title: title, Anchor: anchor})
	}
	return out
}

// FAQEntry is a question and its answer.
type FAQEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

var (
	qLine = regexp.MustCompile(`^\s*(?:\*\*)?Q(?:uestion)?\s*:\s*(?:\*\*)?\s*(.+?)\s*(?:\*\*)?\s*$`)
	aLine = regexp.MustCompile(`^\s*(?:\*\*)?A(?:nswer)?\s*:\s*(?:\*\*)?\s*(.*?)\s*$`)
)

// ExtractFAQ returns the question and answer pairs of a markdown document.
// Both "Q: ... / A: ..." pairs and headings ending with a question mark
// followed by their text are recognized.
func ExtractFAQ(md string) []FAQEntry {
	var out []FAQEntry
	var cur *FAQEntry
	var answer []string
	inAnswer := false
	flush := func() {
		if cur != nil {
			cur.Answer = strings.TrimSpace(strings.Join(answer, "\n"))
			if cur.Answer != "" {
				out = append(out, *cur)
			}
		}
		cur = nil
		answer = answer[:0]
		inAnswer = false
	}
	for _, line := range markdownLines(md) {
		if m := heading.FindStringSubmatch(line); m != nil {
			flush()
			if title := strings.TrimSpace(m[2]); strings.HasSuffix(title, "?") {
				cur = &FAQEntry{Question: title}
				inAnswer = true
			}
			continue
		}
		if m := qLine.FindStringSubmatch(line); m != nil {
			flush()
			cur = &FAQEntry{Question: m[1]}
			continue
		}
		if cur == nil {
			continue
		}
		if m := aLine.FindStringSubmatch(line); m != nil && !inAnswer {
			inAnswer = true
			answer = append(answer, m[1])
			continue
		}
		if inAnswer {
			answer = append(answer, line)
		}
	}
	flush()
	return out
}

// markdownLines returns the lines of md that are not inside a fenced code
// block.
func markdownLines(md string) []string {
	var out []string
	fenced := false
	for line := range strings.SplitSeq(md, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenced = !fenced
			continue
		}
		if !fenced {
			out = append(out, line)
		}
	}
	return out
}
