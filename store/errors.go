package store

import "errors"

var (
	// ErrLastSession is returned when deleting the only remaining session.
	// The collection is never allowed to become empty.
	ErrLastSession = errors.New("cannot delete the last remaining session")

	// ErrSessionNotFound is returned for operations on an unknown session id
	ErrSessionNotFound = errors.New("session not found")

	// ErrEvictionExhausted is returned by Persist when the durable write
	// still fails after evicting down to the floor. The in-memory
	// collection is intact; only the durable copy is stale.
	ErrEvictionExhausted = errors.New("storage write failed even after eviction")
)
