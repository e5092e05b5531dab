package engine

import (
	"errors"

	"stripesync/internal/store"
	"stripesync/internal/stripeclient"
)

// ErrProjection means a projector met a payload it could not map into a row.
// The enclosing page or event fails; nothing is retried locally.
var ErrProjection = errors.New("projection failed")

// Re-exported so callers only import this package for the engine taxonomy.
var (
	ErrConcurrentRun = store.ErrConcurrentRun
	ErrSignature     = stripeclient.ErrSignature
	ErrAuth          = stripeclient.ErrAuth
	ErrTransient     = stripeclient.ErrTransient
	ErrNotFound      = stripeclient.ErrNotFound
)

// ErrUnknownObject is returned when a caller names an object kind the engine
// does not mirror.
var ErrUnknownObject = errors.New("unknown object kind")
