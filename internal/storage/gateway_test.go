package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewOSGateway(t *testing.T) {
	base := t.TempDir()
	g, err := NewOSGateway(base)
	if err != nil {
		t.Fatalf("NewOSGateway() error = %v", err)
	}

	for _, dir := range []string{g.PackDir(), g.LogDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created", dir)
		}
	}
}

func TestGatewayReadWrite(t *testing.T) {
	g, err := NewOSGateway(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(g.PackDir(), "sub", "file.txt")
	if g.Exists(path) {
		t.Error("Exists() = true before write")
	}

	if err := g.WriteFile(path, []byte("hello")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if !g.Exists(path) {
		t.Error("Exists() = false after write")
	}

	data, err := g.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("ReadFile() = %q, want %q", data, "hello")
	}

	size, err := g.Size(path)
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if size != 5 {
		t.Errorf("Size() = %d, want 5", size)
	}
}

func TestGatewayCopy(t *testing.T) {
	g, err := NewOSGateway(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(g.Base(), "src.tpack")
	dst := filepath.Join(g.PackDir(), "dst.tpack")
	if err := g.WriteFile(src, []byte("payload")); err != nil {
		t.Fatal(err)
	}

	if err := g.Copy(src, dst); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}

	data, err := g.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("copied content = %q, want %q", data, "payload")
	}
}

func TestGatewaySizeMissing(t *testing.T) {
	g, err := NewOSGateway(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := g.Size(filepath.Join(g.Base(), "missing")); err == nil {
		t.Error("Size() on missing file: want error")
	}
}

func TestRemove(t *testing.T) {
	gw, err := NewOSGateway(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(gw.Base(), "doomed.txt")
	if err := gw.WriteFile(path, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := gw.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if gw.Exists(path) {
		t.Error("file still exists after Remove")
	}
	if err := gw.Remove(path); err != nil {
		t.Errorf("Remove() on missing file error = %v", err)
	}
}
