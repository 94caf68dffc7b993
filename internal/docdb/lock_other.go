//go:build !unix

package docdb

// fileLock is a no-op where flock(2) is unavailable; only the in-process
// mutex serializes access.
type fileLock struct {
	path string
}

func (l *fileLock) lock() error { return nil }

func (l *fileLock) unlock() {}
