// Package faults defines the error vocabulary shared by the quota,
// alert, queue and auto-pause services. Transient provider failures
// (429s, queued retries) are modeled as data, never as errors; the only
// errors surfaced to callers are lookups of unknown entities and
// rejected state transitions.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks lookups of unknown providers, projects,
	// requests, alerts or configs. Surfaced to the caller, never
	// retried internally.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks rejected state-machine transitions,
	// e.g. cancelling an already-terminal request or resuming a
	// project that is not paused.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// InvalidTransitionf wraps ErrInvalidTransition with context.
func InvalidTransitionf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidTransition)...)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }
