// Episode statuses and the transitions between them.

package queue

import (
	"errors"
	"slices"

	"github.com/invopop/jsonschema"
)

// Status is the processing state of an episode.
type Status string

// Episode statuses.
const (
	StatusTodo       Status = "todo"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusSkip       Status = "skip"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusTodo, StatusQueued, StatusProcessing, StatusDone, StatusError, StatusSkip}

// Sentinel errors.
var (
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("episode not found")
	ErrLeaseLost         = errors.New("lease lost")
)

var transitions = map[Status][]Status{
	StatusTodo:       {StatusQueued, StatusSkip},
	StatusQueued:     {StatusProcessing, StatusTodo, StatusSkip},
	StatusProcessing: {StatusDone, StatusError, StatusQueued, StatusSkip},
	StatusError:      {StatusQueued, StatusTodo, StatusSkip},
	StatusSkip:       {StatusTodo, StatusQueued},
	StatusDone:       nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// JSONSchema implements jsonschema.JSONSchemer.
func (Status) JSONSchema() *jsonschema.Schema {
	enum := make([]any, len(Statuses))
	for i, s := range Statuses {
		enum[i] = string(s)
	}
	return &jsonschema.Schema{Type: "string", Enum: enum}
}

// CanTransition reports whether an episode may move from one status to
// another. An empty status is treated as todo.
func CanTransition(from, to Status) bool {
	if from == "" {
		from = StatusTodo
	}
	return slices.Contains(transitions[from], to)
}

// consumerOnly are the statuses only a consumer holding the lease may set.
func consumerOnly(s Status) bool {
	return s == StatusProcessing || s == StatusDone || s == StatusError
}

// ParseStatus validates s.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", ErrInvalidStatus
	}
	return st, nil
}
