//go:build unix

package docdb

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileLock is an exclusive advisory lock shared by every process opening
// the same collection.
type fileLock struct {
	path string
	f    *os.File
}

func (l *fileLock) lock() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // G302: lock file holds no data
	if err != nil {
		return fmt.Errorf("failed to open lock %s: %w", l.path, err)
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to lock %s: %w", l.path, err)
	}
	l.f = f
	return nil
}

func (l *fileLock) unlock() {
	if l.f == nil {
		return
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	_ = l.f.Close()
	l.f = nil
}
