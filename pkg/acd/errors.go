package acd

import "errors"

var (
	// ErrAlreadyStarted is returned by Start when the host is not idle.
	ErrAlreadyStarted = errors.New("acd: host already started")

	// ErrNotStarted is returned by operations that require a running host.
	ErrNotStarted = errors.New("acd: host not started")

	// ErrInvalidIP is returned when a candidate or defend address is the
	// zero address.
	ErrInvalidIP = errors.New("acd: requested IP must not be zero")

	// ErrQuiesced is returned by Start when the host has hit MaxConflicts
	// and is waiting for an explicit Reset.
	ErrQuiesced = errors.New("acd: host quiesced after max conflicts, call Reset first")

	// ErrNotMonitoring is returned by RequestDefend when the host isn't
	// in the MONITOR state.
	ErrNotMonitoring = errors.New("acd: host is not in MONITOR state")

	// ErrClosed is returned by any operation on a Host whose Close method
	// has already returned.
	ErrClosed = errors.New("acd: host closed")

	// ErrMissingCollaborator is returned by NewHost when Channel,
	// Scheduler, or Rand is nil.
	ErrMissingCollaborator = errors.New("acd: Channel, Scheduler, and Rand are required")
)
