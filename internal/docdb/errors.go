// Error types returned by the store.

package docdb

import "fmt"

// ConfigurationError reports an invalid selector or sort specification. It
// is returned at compile time, before any document is examined.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid query: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedComparisonError reports two values of the same class that
// cannot be ordered. It aborts the query that triggered it.
type UnsupportedComparisonError struct {
	Class TypeClass
}

func (e *UnsupportedComparisonError) Error() string {
	return fmt.Sprintf("cannot compare two %s values", e.Class)
}

// PersistenceError reports a failure to write one of a collection's files.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
