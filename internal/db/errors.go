package db

import "errors"

var (
	// ErrNotFound is returned when a lookup by id matches no row.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentUpdate is returned when a conditional state transition
	// matched no row because another writer got there first.
	ErrConcurrentUpdate = errors.New("concurrent update, state already changed")

	// ErrDuplicateSignal is returned when inserting a signal that collides
	// with an equivalent recent one.
	ErrDuplicateSignal = errors.New("duplicate signal")
)
