package lua

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/tailordesk/tailordesk/internal/pack/security"
)

// State wraps gopher-lua with sandboxing for pack execution.
//
// gopher-lua's LState is not goroutine-safe. The mutex serializes access
// from Go code; within a pack host all calls additionally go through an
// Executor so the state only ever runs on one goroutine.
type State struct {
	L *lua.LState

	mu      sync.Mutex
	sandbox *Sandbox
	closed  bool
}

// NewState creates a sandboxed Lua state. Only the modules allowed by the
// permission grant are installed; everything else is absent, not stubbed.
func NewState(perms security.PermissionSet, limits security.ResourceLimits, hooks Hooks) *State {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	openSafeLibraries(L)

	s := &State{L: L}
	s.sandbox = NewSandbox(L, perms, limits, hooks)
	s.sandbox.Install()
	return s
}

// openSafeLibraries opens only safe Lua standard libraries.
//
// io, os and debug stay closed: file and system access go through the
// tailor host API where the permission grant is enforced. The package
// library is opened for require, which the sandbox then restricts to a
// whitelist with its search paths cleared.
func openSafeLibraries(L *lua.LState) {
	lua.OpenPackage(L)
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// DoString executes Lua source synchronously.
func (s *State) DoString(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return s.withRecovery(func() error {
		return s.L.DoString(code)
	})
}

// DoStringContext executes Lua source, aborting when the context is done.
func (s *State) DoStringContext(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	err := s.withRecovery(func() error {
		return s.L.DoString(code)
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// CallContext calls a global Lua function, honoring the context deadline.
// gopher-lua aborts PCall when the attached context is done, which is what
// enforces the granted MaxExecutionTime. Returns an empty (not nil) slice
// when the function returns nothing.
func (s *State) CallContext(ctx context.Context, fn string, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fnVal := s.L.GetGlobal(fn)
	if fnVal == lua.LNil {
		return nil, fmt.Errorf("function %q not found", fn)
	}
	if fnVal.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%q is not a function (got %s)", fn, fnVal.Type())
	}

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	stackTop := s.L.GetTop()
	s.L.Push(fnVal)
	for _, arg := range args {
		s.L.Push(arg)
	}

	callErr := s.withRecovery(func() error {
		return s.L.PCall(len(args), lua.MultRet, nil)
	})
	if callErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, callErr
	}

	nRet := s.L.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = s.L.Get(stackTop + i + 1)
	}
	s.L.Pop(nRet)
	return results, nil
}

// HasGlobal reports whether a global of the given name is defined.
func (s *State) HasGlobal(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	return s.L.GetGlobal(name) != lua.LNil
}

// withRecovery executes fn converting Lua panics into errors.
func (s *State) withRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// Sandbox returns the sandbox managing the state's host API.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed reports whether the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. Further calls return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
