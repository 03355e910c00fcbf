// Package pack implements the Tailor Pack trust and lifecycle subsystem:
// validating, permission-sandboxing, executing, and unloading third-party
// extension packages under an immutable audit trail.
//
// The flow is Validator -> Manager -> Host -> Registry. The Validator
// checks existence, size, signature and manifest shape before anything is
// read into a runtime. The Manager computes the permission grant against
// the platform ceiling and instantiates a Host, the pack's isolated Lua
// runtime, built with only the resource hooks the grant implies. The
// Registry is the mutex-guarded table of loaded hosts shared between the
// manager and the marketplace sync service.
//
// Every trust-relevant transition (validation failure, load, execute)
// produces an audit event; see the audit package.
package pack
