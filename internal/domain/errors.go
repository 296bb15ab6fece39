package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// Pipeline failure taxonomy.
var (
	// ErrCatalogUnreachable aborts a run and leaves its DeliveryState non-terminal.
	ErrCatalogUnreachable = errors.New("catalog unreachable")
	// ErrMalformedCredential is fatal for a run and is raised before any delivery attempt.
	ErrMalformedCredential = errors.New("malformed credential")
	// ErrUnresolvable marks a single asset whose location cannot be resolved.
	ErrUnresolvable = errors.New("asset location unresolvable")
	// ErrRunInProgress is returned when the same batch is already running in this process.
	ErrRunInProgress = errors.New("run already in progress")
)
