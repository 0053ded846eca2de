// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package reconcile

import "errors"

// errFlockUnavailable is returned on platforms without flock semantics.
// The reconciler proceeds lockless and relies on the runtime's own
// create-by-name atomicity.
var errFlockUnavailable = errors.New("flock not available on this platform")

// nameLock is a no-op placeholder on non-Linux platforms.
type nameLock struct{}

// acquireNameLock always fails on non-Linux platforms.
func acquireNameLock(string) (*nameLock, error) {
	return nil, errFlockUnavailable
}

// Release is a no-op. It is safe to call on a nil lock.
func (l *nameLock) Release() {}
