package lua

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tailordesk/tailordesk/internal/pack/security"
)

func TestUngrantedModulesAbsent(t *testing.T) {
	s := newTestState(t, security.Default())

	if err := s.DoString(`assert(tailor.fs == nil)
assert(tailor.net == nil)
assert(tailor.db == nil)
assert(tailor.ui ~= nil)`); err != nil {
		t.Errorf("default grant exposes wrong modules: %v", err)
	}
}

func TestFSReadWrite(t *testing.T) {
	perms := security.PermissionSet{FileSystem: true, UserInterface: true, MaxExecutionTime: security.DefaultMaxExecutionTime}
	s := newTestState(t, perms)

	path := filepath.Join(t.TempDir(), "note.txt")

	if err := s.DoString(`ok = tailor.fs.write("` + path + `", "measured twice")`); err != nil {
		t.Fatalf("fs.write error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(data) != "measured twice" {
		t.Errorf("written content = %q", data)
	}

	if err := s.DoString(`content = tailor.fs.read("` + path + `")
assert(content == "measured twice")
assert(tailor.fs.exists("` + path + `"))
assert(not tailor.fs.exists("` + path + `.missing"))`); err != nil {
		t.Errorf("fs.read/exists error = %v", err)
	}
}

func TestFSReadTruncatesToOutputLimit(t *testing.T) {
	perms := security.PermissionSet{FileSystem: true, MaxExecutionTime: security.DefaultMaxExecutionTime}
	limits := security.ResourceLimits{FileOpsPerSecond: 100, MaxOutputBytes: 4}
	s := NewState(perms, limits, Hooks{})
	t.Cleanup(func() { s.Close() })

	path := filepath.Join(t.TempDir(), "big.txt")
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := s.DoString(`content = tailor.fs.read("` + path + `")
assert(#content == 4, "got " .. #content .. " bytes")`); err != nil {
		t.Errorf("output limit not applied: %v", err)
	}
}

func TestFSRateLimit(t *testing.T) {
	perms := security.PermissionSet{FileSystem: true, MaxExecutionTime: security.DefaultMaxExecutionTime}
	limits := security.ResourceLimits{FileOpsPerSecond: 2, MaxOutputBytes: 1024}
	s := NewState(perms, limits, Hooks{})
	t.Cleanup(func() { s.Close() })

	path := filepath.Join(t.TempDir(), "x")
	err := s.DoString(`for i = 1, 10 do tailor.fs.exists("` + path + `") end`)
	if err == nil {
		t.Error("10 file ops under a 2/s budget did not error")
	}
}

func TestNetFetchHook(t *testing.T) {
	perms := security.PermissionSet{Network: true, MaxExecutionTime: security.DefaultMaxExecutionTime}
	var gotURL string
	hooks := Hooks{
		Fetch: func(url string) (string, error) {
			gotURL = url
			return `{"ok":true}`, nil
		},
	}
	s := NewState(perms, security.DefaultResourceLimits(), hooks)
	t.Cleanup(func() { s.Close() })

	if err := s.DoString(`body = tailor.net.fetch("https://example.com/sizes")
assert(body == '{"ok":true}')`); err != nil {
		t.Fatalf("net.fetch error = %v", err)
	}
	if gotURL != "https://example.com/sizes" {
		t.Errorf("fetch hook got url %q", gotURL)
	}
}

func TestNetFetchError(t *testing.T) {
	perms := security.PermissionSet{Network: true, MaxExecutionTime: security.DefaultMaxExecutionTime}
	hooks := Hooks{
		Fetch: func(string) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	s := NewState(perms, security.DefaultResourceLimits(), hooks)
	t.Cleanup(func() { s.Close() })

	if err := s.DoString(`body, err = tailor.net.fetch("https://example.com")
assert(body == nil)
assert(err == "connection refused")`); err != nil {
		t.Errorf("fetch error not surfaced to lua: %v", err)
	}
}

func TestDBHooks(t *testing.T) {
	perms := security.PermissionSet{Database: true, MaxExecutionTime: security.DefaultMaxExecutionTime}
	store := map[string]string{}
	hooks := Hooks{
		DBGet: func(key string) (string, bool) {
			v, ok := store[key]
			return v, ok
		},
		DBSet: func(key, value string) error {
			store[key] = value
			return nil
		},
	}
	s := NewState(perms, security.DefaultResourceLimits(), hooks)
	t.Cleanup(func() { s.Close() })

	if err := s.DoString(`assert(tailor.db.get("waist") == nil)
assert(tailor.db.set("waist", "32"))
assert(tailor.db.get("waist") == "32")`); err != nil {
		t.Fatalf("db module error = %v", err)
	}
	if store["waist"] != "32" {
		t.Errorf("store = %v", store)
	}
}

func TestUINotifyHook(t *testing.T) {
	var messages []string
	hooks := Hooks{
		Notify: func(msg string) { messages = append(messages, msg) },
	}
	s := NewState(security.Default(), security.DefaultResourceLimits(), hooks)
	t.Cleanup(func() { s.Close() })

	if err := s.DoString(`tailor.ui.notify("hem adjusted")`); err != nil {
		t.Fatalf("ui.notify error = %v", err)
	}
	if len(messages) != 1 || messages[0] != "hem adjusted" {
		t.Errorf("notifications = %v", messages)
	}
}

func TestUnwiredHookRaises(t *testing.T) {
	perms := security.PermissionSet{Network: true, MaxExecutionTime: security.DefaultMaxExecutionTime}
	s := NewState(perms, security.DefaultResourceLimits(), Hooks{})
	t.Cleanup(func() { s.Close() })

	if err := s.DoString(`tailor.net.fetch("https://example.com")`); err == nil {
		t.Error("fetch with nil hook did not error")
	}
}

func TestInstructionBudgetExhausted(t *testing.T) {
	var messages []string
	hooks := Hooks{
		Notify: func(msg string) { messages = append(messages, msg) },
	}
	limits := security.DefaultResourceLimits()
	limits.InstructionLimit = 2 * hostCallCost
	s := NewState(security.Default(), limits, hooks)
	t.Cleanup(func() { s.Close() })

	err := s.DoString(`for i = 1, 3 do tailor.ui.notify("stitch " .. i) end`)
	if err == nil {
		t.Fatal("3 host calls under a 2-call budget did not error")
	}
	if len(messages) != 2 {
		t.Errorf("got %d notifications before exhaustion, want 2", len(messages))
	}
}

func TestInstructionBudgetResets(t *testing.T) {
	limits := security.DefaultResourceLimits()
	limits.InstructionLimit = 2 * hostCallCost
	s := NewState(security.Default(), limits, Hooks{Notify: func(string) {}})
	t.Cleanup(func() { s.Close() })

	if err := s.DoString(`tailor.ui.notify("a") tailor.ui.notify("b")`); err != nil {
		t.Fatalf("within budget: %v", err)
	}
	if got := s.Sandbox().InstructionCount(); got != 2*hostCallCost {
		t.Errorf("InstructionCount() = %d, want %d", got, 2*hostCallCost)
	}

	s.Sandbox().ResetInstructions()
	if err := s.DoString(`tailor.ui.notify("c")`); err != nil {
		t.Errorf("after reset: %v", err)
	}
}

func TestChargeInstructionsUnlimitedWhenZero(t *testing.T) {
	limits := security.ResourceLimits{}
	s := NewState(security.Default(), limits, Hooks{})
	t.Cleanup(func() { s.Close() })

	if s.Sandbox().ChargeInstructions(1 << 40) {
		t.Error("zero limit reported exhaustion")
	}
}

func TestPackagePathsCleared(t *testing.T) {
	s := newTestState(t, security.Default())

	if err := s.DoString(`assert(package.path == "")
assert(package.cpath == "")`); err != nil {
		t.Errorf("package paths not cleared: %v", err)
	}
}
