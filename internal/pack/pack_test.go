package pack

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/tailordesk/tailordesk/internal/audit"
	"github.com/tailordesk/tailordesk/internal/pack/security"
	"github.com/tailordesk/tailordesk/internal/settings"
	"github.com/tailordesk/tailordesk/internal/storage"
)

// testEnv wires a full pack subsystem over a temp directory with a fresh
// distribution key pair.
type testEnv struct {
	gw       storage.Gateway
	log      *audit.Log
	store    *settings.Store
	registry *Registry
	manager  *Manager
	pub      ed25519.PublicKey
	priv     ed25519.PrivateKey
	dir      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	gw, err := storage.NewOSGateway(dir)
	if err != nil {
		t.Fatal(err)
	}
	log, err := audit.NewLog(gw.LogDir())
	if err != nil {
		t.Fatal(err)
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		gw:       gw,
		log:      log,
		store:    settings.NewStore(gw),
		registry: NewRegistry(gw),
		pub:      pub,
		priv:     priv,
		dir:      dir,
	}
	env.manager = NewManager(
		env.registry,
		NewValidator(gw, log, pub),
		env.store,
		log,
		security.DefaultPlatformPolicy(),
	)
	return env
}

// writePack encodes and signs a pack fixture, returning its path.
func (e *testEnv) writePack(t *testing.T, id, source string, caps ...security.Capability) string {
	t.Helper()

	m := &Manifest{
		ID:           id,
		Name:         id,
		Version:      "1.0.0",
		Author:       "atelier",
		Entry:        "main.lua",
		Capabilities: caps,
		Checksum:     SourceChecksum(source),
	}
	data, err := Encode(m, source, e.priv)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(e.dir, id+".tpack")
	if err := e.gw.WriteFile(path, data); err != nil {
		t.Fatal(err)
	}
	return path
}
