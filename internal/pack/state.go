package pack

// ExecState represents the execution state of a loaded pack.
type ExecState int

// Pack execution states.
const (
	// StateIdle - pack is loaded and not executing.
	StateIdle ExecState = iota

	// StateExecuting - a method call is in flight.
	StateExecuting

	// StateFaulted - a call exceeded its deadline; the runtime is no longer
	// trusted and the pack must be unloaded.
	StateFaulted

	// StateUnloaded - the pack's runtime has been torn down.
	StateUnloaded
)

// String returns a string representation of the state.
func (s ExecState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateFaulted:
		return "faulted"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// IsUsable reports whether the pack can accept method calls.
func (s ExecState) IsUsable() bool {
	return s == StateIdle || s == StateExecuting
}
