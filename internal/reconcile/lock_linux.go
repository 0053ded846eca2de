// SPDX-License-Identifier: MPL-2.0

//go:build linux

package reconcile

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// nameLock holds a blocking exclusive flock on a per-container-name file,
// serializing reconciliation across devc processes for the same managed
// container. The zero-byte lock file is harmless if orphaned — the kernel
// releases the flock automatically when the fd is closed (including on
// process crash).
//
// The lock file lives in $XDG_RUNTIME_DIR (per-user tmpfs, auto-cleaned)
// with a fallback to os.TempDir() when the env var is unset.
type nameLock struct {
	file *os.File
}

// acquireNameLock opens (or creates) the lock file for the given container
// name and acquires a blocking exclusive flock.
func acquireNameLock(name string) (*nameLock, error) {
	lockPath := lockFilePath(name)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", lockPath, err)
	}

	return &nameLock{file: f}, nil
}

// Release unlocks the flock and closes the file descriptor. It is safe to
// call on a nil lock and to call multiple times.
func (l *nameLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	// LOCK_UN before Close for explicitness; Close also releases the flock.
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}

// lockFilePath returns the per-name lock file path.
func lockFilePath(name string) string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, name+".lock")
}
