// Package lua provides the Lua runtime integration for Tailor Packs.
//
// This package wraps the gopher-lua library to provide:
//   - Sandboxed Lua state management driven by a permission grant
//   - Go-Lua type conversion bridge
//   - A single-goroutine executor serializing all state access
//
// gopher-lua's LState is not goroutine-safe; the Executor marshals all
// operations onto one goroutine. The Sandbox opens only safe standard
// libraries and installs the tailor host API with exactly the modules the
// granted permission set allows: a pack granted no filesystem access never
// sees tailor.fs at all.
package lua
