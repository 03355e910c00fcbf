package pack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	glua "github.com/yuin/gopher-lua"

	plua "github.com/tailordesk/tailordesk/internal/pack/lua"
	"github.com/tailordesk/tailordesk/internal/pack/security"
)

// Host owns a single pack's isolated runtime and its execution state. It is
// created by the manager on successful validation and destroyed on unload;
// the registry is the only other holder of a reference.
type Host struct {
	mu sync.RWMutex

	id       string
	manifest *Manifest
	granted  security.PermissionSet
	loadedAt time.Time

	execState ExecState
	err       error

	state  *plua.State
	exec   *plua.Executor
	bridge *plua.Bridge

	runCtx  context.Context
	stop    context.CancelFunc
	runDone chan struct{}
}

// NewHost creates a pack runtime sandboxed to the granted permission set.
// The sandbox receives only the hooks implied by the grant; everything else
// is absent from the pack's view.
func NewHost(manifest *Manifest, granted security.PermissionSet, limits security.ResourceLimits, hooks plua.Hooks) (*Host, error) {
	if manifest == nil {
		return nil, ErrNilManifest
	}

	state := plua.NewState(granted, limits, hooks)
	exec := plua.NewExecutor(state)

	runCtx, stop := context.WithCancel(context.Background())
	h := &Host{
		id:        manifest.ID,
		manifest:  manifest,
		granted:   granted,
		execState: StateIdle,
		state:     state,
		exec:      exec,
		runCtx:    runCtx,
		stop:      stop,
		runDone:   make(chan struct{}),
	}

	go func() {
		exec.Run(runCtx)
		close(h.runDone)
	}()

	return h, nil
}

// ID returns the pack id.
func (h *Host) ID() string {
	return h.id
}

// Manifest returns the pack manifest.
func (h *Host) Manifest() *Manifest {
	return h.manifest
}

// Granted returns the permission set the pack runs under.
func (h *Host) Granted() security.PermissionSet {
	return h.granted
}

// LoadedAt returns when the pack source finished loading.
func (h *Host) LoadedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loadedAt
}

// State returns the current execution state.
func (h *Host) State() ExecState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.execState
}

// Err returns the fault that moved the pack out of a usable state, if any.
func (h *Host) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// LoadSource executes the pack source inside the sandbox, defining the
// pack's functions. Runs under the granted execution deadline so a hostile
// pack cannot spin at load time. Must be called once before Execute.
func (h *Host) LoadSource(ctx context.Context, source string) error {
	callCtx, cancel := h.callContext(ctx)
	defer cancel()

	err := h.exec.Execute(callCtx, func(_ *glua.LState) error {
		h.bridge = plua.NewBridge(h.state.L)
		h.state.Sandbox().ResetInstructions()
		return h.state.DoStringContext(callCtx, source)
	})
	if err != nil {
		h.mu.Lock()
		h.execState = StateFaulted
		h.err = err
		h.mu.Unlock()
		return fmt.Errorf("failed to load pack %q: %w", h.id, err)
	}

	h.mu.Lock()
	h.loadedAt = time.Now().UTC()
	h.mu.Unlock()
	return nil
}

// Execute calls a pack function under the granted execution deadline.
// Exceeding the deadline aborts the call, faults the pack, and returns
// ErrExecutionTimeout. Calls on the same host serialize through the
// executor; at most one runs at a time.
func (h *Host) Execute(ctx context.Context, method string, args []any) (any, error) {
	h.mu.RLock()
	switch h.execState {
	case StateUnloaded:
		h.mu.RUnlock()
		return nil, ErrPackNotLoaded
	case StateFaulted:
		h.mu.RUnlock()
		return nil, ErrPackFaulted
	}
	h.mu.RUnlock()

	callCtx, cancel := h.callContext(ctx)
	defer cancel()

	var result any
	err := h.exec.Execute(callCtx, func(_ *glua.LState) error {
		// A call abandoned by its caller (deadline expired while queued)
		// can still reach the front of the queue; it must not run or
		// touch execution state.
		if err := callCtx.Err(); err != nil {
			return err
		}

		h.setState(StateExecuting)
		defer h.settleIdle()
		h.state.Sandbox().ResetInstructions()

		results, callErr := h.state.CallContext(callCtx, method, h.bridge.ToLuaValues(args)...)
		if callErr != nil {
			return callErr
		}
		if len(results) > 0 {
			result = h.bridge.ToGoValue(results[0])
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			h.fault(ErrExecutionTimeout)
			return nil, ErrExecutionTimeout
		}
		return nil, err
	}
	return result, nil
}

// HasFunction reports whether the pack defines the named function.
func (h *Host) HasFunction(ctx context.Context, name string) bool {
	var found bool
	err := h.exec.Execute(ctx, func(_ *glua.LState) error {
		found = h.state.HasGlobal(name)
		return nil
	})
	return err == nil && found
}

// Unload cancels in-flight work and tears down the runtime. Idempotent.
func (h *Host) Unload() error {
	h.mu.Lock()
	if h.execState == StateUnloaded {
		h.mu.Unlock()
		return nil
	}
	h.execState = StateUnloaded
	h.err = nil
	h.mu.Unlock()

	h.exec.Close()
	h.stop()
	<-h.runDone
	return h.state.Close()
}

// callContext derives the per-call context: the caller's context bounded by
// the granted execution time, and cancelled outright when the host is
// unloaded so Unload never waits out a full deadline.
func (h *Host) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithTimeout(ctx, h.granted.MaxExecutionTime)
	stopWatch := context.AfterFunc(h.runCtx, cancel)
	return callCtx, func() {
		stopWatch()
		cancel()
	}
}

// setState transitions Idle to the given state. Faulted and Unloaded are
// terminal for execution; only Unload leaves them, so a stale call racing a
// fault can never pull the pack back into service.
func (h *Host) setState(s ExecState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.execState == StateIdle {
		h.execState = s
	}
}

// settleIdle returns the pack to Idle after an execution, preserving
// Faulted and Unloaded.
func (h *Host) settleIdle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.execState == StateExecuting {
		h.execState = StateIdle
	}
}

// fault marks the pack Faulted with the given cause.
func (h *Host) fault(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.execState != StateUnloaded {
		h.execState = StateFaulted
		h.err = cause
	}
}
