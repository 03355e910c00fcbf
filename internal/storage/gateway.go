// Package storage provides the file system gateway the pack subsystem
// consumes. The gateway is the only path by which the subsystem touches the
// disk; tests and other platforms substitute their own implementation.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Gateway abstracts the file system primitives the pack subsystem needs.
type Gateway interface {
	// Exists reports whether the path exists.
	Exists(path string) bool

	// ReadFile reads the entire file at path.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes data to path, creating or truncating it.
	WriteFile(path string, data []byte) error

	// Size returns the file size in bytes without reading content.
	Size(path string) (int64, error)

	// Copy copies the file at src to dst.
	Copy(src, dst string) error

	// Remove deletes the file at path. Removing a missing file is not an
	// error.
	Remove(path string) error

	// CreateDir creates a directory and any missing parents.
	CreateDir(path string) error

	// PackDir is the directory holding installed pack files.
	PackDir() string

	// SettingsPath is the path of the settings document.
	SettingsPath() string

	// LogDir is the directory holding security audit logs.
	LogDir() string
}

// OSGateway implements Gateway on the local file system, rooted at a data
// directory.
type OSGateway struct {
	base string
}

// NewOSGateway creates a gateway rooted at base, creating the pack and log
// directories if they do not exist.
func NewOSGateway(base string) (*OSGateway, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}

	g := &OSGateway{base: abs}
	for _, dir := range []string{g.PackDir(), g.LogDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return g, nil
}

// Base returns the data directory root.
func (g *OSGateway) Base() string {
	return g.base
}

// Exists reports whether the path exists.
func (g *OSGateway) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReadFile reads the entire file at path.
func (g *OSGateway) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data to path.
func (g *OSGateway) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Size returns the file size from Stat, without opening the file.
func (g *OSGateway) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Copy copies the file at src to dst.
func (g *OSGateway) Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Remove deletes the file at path, tolerating files already gone.
func (g *OSGateway) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// CreateDir creates a directory and any missing parents.
func (g *OSGateway) CreateDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// PackDir is the directory holding installed pack files.
func (g *OSGateway) PackDir() string {
	return filepath.Join(g.base, "packs")
}

// SettingsPath is the path of the settings document.
func (g *OSGateway) SettingsPath() string {
	return filepath.Join(g.base, "settings.json")
}

// LogDir is the directory holding security audit logs.
func (g *OSGateway) LogDir() string {
	return filepath.Join(g.base, "logs")
}
