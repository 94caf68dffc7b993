// Episode document shape.

package queue

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/maruel/transcriptq/internal/docdb"
)

// Episode is a podcast or video reference moving through the pipeline.
type Episode struct {
	ID            string `json:"_id,omitempty"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Status        Status `json:"status"`
	Type          string `json:"type"`
	PublishedDate string `json:"published_date,omitempty" jsonschema:"format=date"`
	Transcript    string `json:"transcript,omitempty"`
	Author        string `json:"author,omitempty"`
	PodNotes      string `json:"pod_notes,omitempty"`
	EpisodeNotes  string `json:"episode_notes,omitempty"`

	Lease      *Lease `json:"lease,omitempty"`
	Error      string `json:"error,omitempty"`
	Branch     string `json:"branch,omitempty"`
	PostPath   string `json:"post_path,omitempty"`
	Commit     string `json:"commit,omitempty"`
	AddedAt    int64  `json:"added_at,omitempty"`
	FinishedAt int64  `json:"finished_at,omitempty"`
}

// Lease marks an episode as owned by one consumer. ClaimedAt is in unix
// milliseconds.
type Lease struct {
	Owner     string `json:"owner"`
	Token     string `json:"token"`
	ClaimedAt int64  `json:"claimed_at"`
}

// ShowNotes returns the context handed to the transcriber.
func (e *Episode) ShowNotes() string {
	return fmt.Sprintf("Podcast title: %s\nShow notes: %s", e.PodNotes, e.EpisodeNotes)
}

// Document converts the episode to its stored form.
func (e *Episode) Document() (docdb.Document, error) {
	v, err := docdb.Normalize(e)
	if err != nil {
		return nil, fmt.Errorf("failed to convert episode: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("failed to convert episode: got %T", v)
	}
	return m, nil
}

// EpisodeFromDocument decodes a stored episode. Unknown fields are ignored.
func EpisodeFromDocument(d docdb.Document) (*Episode, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal episode %s: %w", d.ID(), err)
	}
	e := &Episode{}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("failed to decode episode %s: %w", d.ID(), err)
	}
	return e, nil
}

// EpisodeSchema returns the JSON schema of an episode document.
func EpisodeSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s := r.Reflect(&Episode{})
	s.Title = "Episode"
	return s
}
