// SPDX-License-Identifier: GPL-3.0-or-later
package sequence

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockHeldError reports that another instance already holds the run lock
// for the client. It is fatal to the run and never retried.
type LockHeldError struct {
	Path string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("another instance is already running, lock %s is held", e.Path)
}

// RunLock serializes full processing runs for one client. The lock is held
// for the whole run, not per message.
type RunLock struct {
	lock *flock.Flock
}

// AcquireRunLock takes the per-client file lock without blocking. When the
// lock is already held elsewhere it fails with LockHeldError.
func AcquireRunLock(dir, clientID string) (*RunLock, error) {
	path := filepath.Join(dir, "lock_"+clientID)
	lock := flock.New(path)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("could not acquire run lock: %w", err)
	}
	if !locked {
		return nil, &LockHeldError{Path: path}
	}

	return &RunLock{lock: lock}, nil
}

func (r *RunLock) Release() error {
	return r.lock.Unlock()
}
