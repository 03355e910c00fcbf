package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a trust-relevant action.
type EventType string

// Event types recorded by the audit log.
const (
	// EventAuthAttempt records a login or credential check.
	EventAuthAttempt EventType = "auth_attempt"

	// EventPrivilegedOp records an operation requiring elevated rights.
	EventPrivilegedOp EventType = "privileged_op"

	// EventDataAccess records access to remote or sensitive data.
	EventDataAccess EventType = "data_access"

	// EventFileOp records a file operation performed on behalf of a pack.
	EventFileOp EventType = "file_op"

	// EventPackLoad records a pack entering the registry.
	EventPackLoad EventType = "pack_load"

	// EventPackExecute records a pack method execution.
	EventPackExecute EventType = "pack_execute"

	// EventValidationFailure records a pack that failed validation.
	EventValidationFailure EventType = "validation_failure"
)

// Outcome is the result of the recorded action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is an immutable audit record of a trust-relevant action. Events are
// appended once and never mutated; references to packs and actors are by
// value only.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Actor     string            `json:"actor"`
	Resource  string            `json:"resource"`
	Outcome   Outcome           `json:"outcome"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates an event with a fresh ID and the current timestamp.
func NewEvent(typ EventType, actor, resource string, outcome Outcome) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Resource:  resource,
		Outcome:   outcome,
	}
}

// WithMetadata returns a copy of the event with the key set. The receiver is
// not modified.
func (e Event) WithMetadata(key, value string) Event {
	meta := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta[key] = value
	e.Metadata = meta
	return e
}
