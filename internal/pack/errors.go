package pack

import "errors"

// Pack subsystem errors. The ErrPackNotFound and ErrPackNotLoaded messages
// are a stable contract: callers match on the literal text.
var (
	// ErrPackNotFound is returned when a pack file does not exist.
	ErrPackNotFound = errors.New("Pack file not found")

	// ErrPackNotLoaded is returned when operating on an unregistered pack id.
	ErrPackNotLoaded = errors.New("Pack not loaded")

	// ErrPackTooLarge is returned when a pack file exceeds the size cap.
	ErrPackTooLarge = errors.New("pack file exceeds maximum size")

	// ErrSignatureInvalid is returned when signature or integrity checks fail.
	ErrSignatureInvalid = errors.New("pack signature is invalid")

	// ErrExecutionTimeout is returned when a pack call exceeds its deadline.
	ErrExecutionTimeout = errors.New("pack execution timed out")

	// ErrPackFaulted is returned when executing a pack in the Faulted state.
	ErrPackFaulted = errors.New("pack is faulted")

	// ErrAlreadyLoaded is returned when loading an already registered pack id.
	ErrAlreadyLoaded = errors.New("pack is already loaded")

	// ErrNotInitialized is returned when using a registry constructed without
	// a gateway.
	ErrNotInitialized = errors.New("pack registry is not initialized")

	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")
)
