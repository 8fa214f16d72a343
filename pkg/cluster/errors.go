package cluster

import (
	"errors"

	"clusterdoc/pkg/docstore"
)

var (
	// ErrNotInitialized is returned by store operations attempted before Setup.
	ErrNotInitialized = errors.New("cluster: setup must be called first")
	// ErrStoreUnavailable wraps every fetch or persist failure.
	ErrStoreUnavailable = docstore.ErrUnavailable
	// ErrStopped is returned by Start once the manager has been stopped.
	ErrStopped = errors.New("cluster: manager stopped")
)
