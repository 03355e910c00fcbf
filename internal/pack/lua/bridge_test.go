package lua

import (
	"reflect"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	return NewBridge(L)
}

func TestToGoValueScalars(t *testing.T) {
	b := newTestBridge(t)

	tests := []struct {
		in   lua.LValue
		want any
	}{
		{lua.LTrue, true},
		{lua.LNumber(3), int64(3)},
		{lua.LNumber(3.5), 3.5},
		{lua.LString("hem"), "hem"},
		{lua.LNil, nil},
	}
	for _, tt := range tests {
		if got := b.ToGoValue(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ToGoValue(%v) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
		}
	}
}

func TestToGoValueArray(t *testing.T) {
	b := newTestBridge(t)

	tbl := b.L.NewTable()
	tbl.Append(lua.LString("a"))
	tbl.Append(lua.LString("b"))

	got := b.ToGoValue(tbl)
	want := []any{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToGoValue(array) = %v, want %v", got, want)
	}
}

func TestToGoValueMap(t *testing.T) {
	b := newTestBridge(t)

	tbl := b.L.NewTable()
	tbl.RawSetString("size", lua.LNumber(42))
	tbl.RawSetString("fit", lua.LString("slim"))

	got := b.ToGoValue(tbl)
	want := map[string]any{"size": int64(42), "fit": "slim"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToGoValue(map) = %v, want %v", got, want)
	}
}

func TestToGoValueCircular(t *testing.T) {
	b := newTestBridge(t)

	tbl := b.L.NewTable()
	tbl.RawSetString("self", tbl)

	got := b.ToGoValue(tbl)
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("ToGoValue(circular) = %T", got)
	}
	if m["self"] != nil {
		t.Errorf("circular reference converted to %v, want nil", m["self"])
	}
}

func TestToLuaValueRoundTrip(t *testing.T) {
	b := newTestBridge(t)

	in := map[string]any{
		"name":    "measure-helper",
		"version": int64(2),
		"tags":    []any{"fit", "hem"},
		"active":  true,
	}
	got := b.ToGoValue(b.ToLuaValue(in))
	if !reflect.DeepEqual(got, in) {
		t.Errorf("round trip = %v, want %v", got, in)
	}
}

func TestToLuaValueStringSlice(t *testing.T) {
	b := newTestBridge(t)

	lv := b.ToLuaValue([]string{"x", "y"})
	tbl, ok := lv.(*lua.LTable)
	if !ok {
		t.Fatalf("ToLuaValue([]string) = %T", lv)
	}
	if tbl.Len() != 2 {
		t.Errorf("table length = %d, want 2", tbl.Len())
	}
}

func TestToLuaValueUnsupported(t *testing.T) {
	b := newTestBridge(t)

	if got := b.ToLuaValue(struct{}{}); got != lua.LNil {
		t.Errorf("ToLuaValue(struct) = %v, want nil", got)
	}
}

func TestToLuaValues(t *testing.T) {
	b := newTestBridge(t)

	values := b.ToLuaValues([]any{1, "two", true})
	if len(values) != 3 {
		t.Fatalf("ToLuaValues() returned %d values", len(values))
	}
	if values[1] != lua.LString("two") {
		t.Errorf("values[1] = %v", values[1])
	}
}
