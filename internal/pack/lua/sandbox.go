package lua

import (
	"os"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/tailordesk/tailordesk/internal/pack/security"
)

// hostModule is the global table exposing the pack host API.
const hostModule = "tailor"

// hostCallCost approximates the Lua VM work behind one host API call; each
// call charges this many instructions against the execution budget.
const hostCallCost = 1000

// Hooks are the Go callbacks backing the permission-gated host modules. A
// nil hook leaves the corresponding function raising an error even when the
// permission is granted.
type Hooks struct {
	// Fetch performs an HTTP GET for tailor.net.fetch.
	Fetch func(url string) (string, error)

	// DBGet and DBSet back tailor.db.
	DBGet func(key string) (string, bool)
	DBSet func(key, value string) error

	// Notify backs tailor.ui.notify.
	Notify func(message string)
}

// Sandbox restricts Lua execution to the operations the permission grant
// allows. Ungranted modules are never created: a pack without filesystem
// access sees tailor.fs as nil, not as a table of denying stubs.
type Sandbox struct {
	L *lua.LState

	perms   security.PermissionSet
	limits  security.ResourceLimits
	hooks   Hooks
	limiter *security.RateLimiter

	instructions atomic.Int64
}

// NewSandbox creates a sandbox for the Lua state.
func NewSandbox(L *lua.LState, perms security.PermissionSet, limits security.ResourceLimits, hooks Hooks) *Sandbox {
	return &Sandbox{
		L:       L,
		perms:   perms,
		limits:  limits,
		hooks:   hooks,
		limiter: security.NewRateLimiter(limits.FileOpsPerSecond),
	}
}

// Permissions returns the grant this sandbox enforces.
func (s *Sandbox) Permissions() security.PermissionSet {
	return s.perms
}

// Install sets up the sandbox restrictions and the host API.
func (s *Sandbox) Install() {
	// Code-loading functions could pull in arbitrary source.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installSafeRequire()

	host := s.L.NewTable()
	if s.perms.FileSystem {
		s.L.SetField(host, "fs", s.buildFSModule())
	}
	if s.perms.Network {
		s.L.SetField(host, "net", s.buildNetModule())
	}
	if s.perms.Database {
		s.L.SetField(host, "db", s.buildDBModule())
	}
	if s.perms.UserInterface {
		s.L.SetField(host, "ui", s.buildUIModule())
	}
	s.L.SetGlobal(hostModule, host)
}

// installSafeRequire replaces require with a whitelist-only version and
// clears package search paths so nothing can be loaded from disk.
func (s *Sandbox) installSafeRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	safeModules := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
	}
	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)
		if !safeModules[modName] {
			L.RaiseError("module %q is not available", modName)
			return 0
		}
		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}

// ChargeInstructions adds to the instruction count, reporting whether the
// budget is exhausted. A zero or negative limit means unlimited.
func (s *Sandbox) ChargeInstructions(n int64) bool {
	used := s.instructions.Add(n)
	return s.limits.InstructionLimit > 0 && used > s.limits.InstructionLimit
}

// InstructionCount returns the instructions charged so far.
func (s *Sandbox) InstructionCount() int64 {
	return s.instructions.Load()
}

// ResetInstructions restarts the per-execution instruction budget.
func (s *Sandbox) ResetInstructions() {
	s.instructions.Store(0)
}

// chargeHostCall bills one host API call against the instruction budget,
// raising a Lua error once the execution exhausts it.
func (s *Sandbox) chargeHostCall(L *lua.LState) {
	if s.ChargeInstructions(hostCallCost) {
		L.RaiseError("instruction limit exceeded")
	}
}

// allowFileOp consumes a rate limiter token, raising a Lua error when the
// pack exceeds its file operation budget.
func (s *Sandbox) allowFileOp(L *lua.LState, op string) {
	if !s.limiter.Allow() {
		L.RaiseError("file operation rate limit exceeded: %s", op)
	}
}

func (s *Sandbox) buildFSModule() *lua.LTable {
	fs := s.L.NewTable()

	s.L.SetField(fs, "read", s.L.NewFunction(func(L *lua.LState) int {
		path := L.CheckString(1)
		s.chargeHostCall(L)
		s.allowFileOp(L, "read")

		data, err := os.ReadFile(path)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		if s.limits.MaxOutputBytes > 0 && int64(len(data)) > s.limits.MaxOutputBytes {
			data = data[:s.limits.MaxOutputBytes]
		}
		L.Push(lua.LString(data))
		return 1
	}))

	s.L.SetField(fs, "write", s.L.NewFunction(func(L *lua.LState) int {
		path := L.CheckString(1)
		content := L.CheckString(2)
		s.chargeHostCall(L)
		s.allowFileOp(L, "write")

		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))

	s.L.SetField(fs, "exists", s.L.NewFunction(func(L *lua.LState) int {
		path := L.CheckString(1)
		s.chargeHostCall(L)
		s.allowFileOp(L, "exists")

		_, err := os.Stat(path)
		L.Push(lua.LBool(err == nil))
		return 1
	}))

	return fs
}

func (s *Sandbox) buildNetModule() *lua.LTable {
	net := s.L.NewTable()

	s.L.SetField(net, "fetch", s.L.NewFunction(func(L *lua.LState) int {
		url := L.CheckString(1)
		s.chargeHostCall(L)
		if s.hooks.Fetch == nil {
			L.RaiseError("network access is not wired")
			return 0
		}
		body, err := s.hooks.Fetch(url)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(body))
		return 1
	}))

	return net
}

func (s *Sandbox) buildDBModule() *lua.LTable {
	db := s.L.NewTable()

	s.L.SetField(db, "get", s.L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		s.chargeHostCall(L)
		if s.hooks.DBGet == nil {
			L.RaiseError("database access is not wired")
			return 0
		}
		value, ok := s.hooks.DBGet(key)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(value))
		return 1
	}))

	s.L.SetField(db, "set", s.L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		value := L.CheckString(2)
		s.chargeHostCall(L)
		if s.hooks.DBSet == nil {
			L.RaiseError("database access is not wired")
			return 0
		}
		if err := s.hooks.DBSet(key, value); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))

	return db
}

func (s *Sandbox) buildUIModule() *lua.LTable {
	ui := s.L.NewTable()

	s.L.SetField(ui, "notify", s.L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		s.chargeHostCall(L)
		if s.hooks.Notify != nil {
			s.hooks.Notify(msg)
		}
		return 0
	}))

	return ui
}
