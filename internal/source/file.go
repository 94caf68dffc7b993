package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/maruel/transcriptq/internal/queue"
)

// File is a JSON array of episodes on disk. It is read on every fetch so it
// can be edited between pulls.
type File struct {
	Path string
	// Type is used for episodes that do not specify one.
	Type string
}

// Name implements queue.Source.
func (f *File) Name() string {
	return f.Path
}

// Fetch implements queue.Source.
func (f *File) Fetch(ctx context.Context) ([]queue.Episode, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Path, err)
	}
	var eps []queue.Episode
	if err := json.Unmarshal(raw, &eps); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.Path, err)
	}
	for i := range eps {
		if eps[i].Type == "" {
			eps[i].Type = f.Type
		}
	}
	return eps, ctx.Err()
}
