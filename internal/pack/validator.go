package pack

import (
	"crypto/ed25519"
	"fmt"

	"github.com/tailordesk/tailordesk/internal/audit"
	"github.com/tailordesk/tailordesk/internal/storage"
)

// MaxPackSize is the largest pack file the validator will read.
const MaxPackSize = 10 * 1024 * 1024 // 10 MiB

// validatorActor identifies the validator in audit events.
const validatorActor = "pack-validator"

// ValidationResult carries the outcome of a successful validation.
type ValidationResult struct {
	Manifest *Manifest
	Source   string
	Trusted  bool
}

// Validator performs integrity, size and signature checks on pack files
// before anything is loaded. Failures are recorded in the audit log; a
// clean pass emits no event (the loader logs the load itself).
type Validator struct {
	gw    storage.Gateway
	log   *audit.Log
	key   ed25519.PublicKey
	limit int64
}

// NewValidator creates a validator checking signatures against the given
// distribution key.
func NewValidator(gw storage.Gateway, log *audit.Log, key ed25519.PublicKey) *Validator {
	return &Validator{
		gw:    gw,
		log:   log,
		key:   key,
		limit: MaxPackSize,
	}
}

// Validate checks a pack file. Checks run in a fixed order: existence, then
// size before any content is read so hostile inputs cost one stat call,
// then signature, then manifest shape.
func (v *Validator) Validate(path string) (*ValidationResult, error) {
	if !v.gw.Exists(path) {
		return nil, v.fail(path, ErrPackNotFound)
	}

	size, err := v.gw.Size(path)
	if err != nil {
		return nil, v.fail(path, fmt.Errorf("failed to stat pack: %w", err))
	}
	if size > v.limit {
		return nil, v.fail(path, fmt.Errorf("%w: %d bytes", ErrPackTooLarge, size))
	}

	data, err := v.gw.ReadFile(path)
	if err != nil {
		return nil, v.fail(path, fmt.Errorf("failed to read pack: %w", err))
	}

	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, v.fail(path, err)
	}

	manifest, err := env.verify(v.key)
	if err != nil {
		return nil, v.fail(path, err)
	}

	return &ValidationResult{
		Manifest: manifest,
		Source:   env.Source,
		Trusted:  true,
	}, nil
}

// fail records a ValidationFailure event and returns the error unchanged.
func (v *Validator) fail(path string, err error) error {
	ev := audit.NewEvent(audit.EventValidationFailure, validatorActor, path, audit.OutcomeFailure)
	v.log.Append(ev.WithMetadata("reason", err.Error()))
	return err
}
