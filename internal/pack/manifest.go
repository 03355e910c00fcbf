package pack

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/zeebo/blake3"

	"github.com/tailordesk/tailordesk/internal/pack/security"
)

// Manifest describes a Tailor Pack's identity and requirements. Immutable
// once parsed.
type Manifest struct {
	// Identity
	ID          string `json:"id"`          // Unique identifier (e.g., "hem-guide")
	Name        string `json:"name"`        // Human-readable name
	Version     string `json:"version"`     // Semver (e.g., "1.2.0")
	Author      string `json:"author"`      // Author name or org
	Description string `json:"description"` // Short description

	// Entry is the name of the pack's Lua chunk, informational only; the
	// source itself travels in the envelope.
	Entry string `json:"entry"`

	// Capabilities the pack requests.
	Capabilities []security.Capability `json:"capabilities"`

	// Checksum is the hex blake3 digest of the pack source.
	Checksum string `json:"checksum"`
}

// Manifest validation errors.
var (
	ErrMissingID         = errors.New("manifest: id is required")
	ErrInvalidID         = errors.New("manifest: id must be lowercase alphanumeric with hyphens")
	ErrMissingVersion    = errors.New("manifest: version is required")
	ErrInvalidVersion    = errors.New("manifest: version must be valid semver")
	ErrInvalidEntry      = errors.New("manifest: entry must be a .lua file")
	ErrInvalidCapability = errors.New("manifest: invalid capability")
	ErrMissingChecksum   = errors.New("manifest: checksum is required")
)

// idPattern validates pack ids.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Entry == "" {
		m.Entry = "main.lua"
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
}

// Validate checks that the manifest is well formed.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("%w: %s", ErrInvalidID, m.ID)
	}

	if m.Version == "" {
		return ErrMissingVersion
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}

	if filepath.Ext(m.Entry) != ".lua" {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, m.Entry)
	}

	for _, cap := range m.Capabilities {
		if !security.IsValidCapability(cap) {
			return fmt.Errorf("%w: %s", ErrInvalidCapability, cap)
		}
	}

	if m.Checksum == "" {
		return ErrMissingChecksum
	}
	return nil
}

// HasCapability reports whether the pack requests the capability.
func (m *Manifest) HasCapability(cap security.Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// String returns "name vVersion" for display.
func (m *Manifest) String() string {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	return fmt.Sprintf("%s v%s", name, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m
	if m.Capabilities != nil {
		clone.Capabilities = make([]security.Capability, len(m.Capabilities))
		copy(clone.Capabilities, m.Capabilities)
	}
	return &clone
}

// envelope is the on-disk .tpack format: the manifest, the Lua source, and
// a detached signature over both. The manifest stays raw so signature
// verification covers the exact bytes that were signed.
type envelope struct {
	Manifest  json.RawMessage `json:"manifest"`
	Source    string          `json:"source"`
	Signature string          `json:"signature"`
}

// signingDigest computes the blake3 digest the distribution key signs:
// manifest bytes, a zero separator, then the source.
func signingDigest(rawManifest []byte, source string) []byte {
	h := blake3.New()
	h.Write(rawManifest)
	h.Write([]byte{0})
	h.Write([]byte(source))
	sum := h.Sum(nil)
	return sum
}

// SourceChecksum computes the hex blake3 digest of pack source, the value
// the manifest's checksum field must carry.
func SourceChecksum(source string) string {
	sum := blake3.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Encode serializes a signed .tpack envelope. Used by the pack authoring
// path and by tests to produce loadable fixtures.
func Encode(m *Manifest, source string, key ed25519.PrivateKey) ([]byte, error) {
	if m == nil {
		return nil, ErrNilManifest
	}

	rawManifest, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	sig := ed25519.Sign(key, signingDigest(rawManifest, source))
	env := envelope{
		Manifest:  rawManifest,
		Source:    source,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}
	return json.Marshal(env)
}

// decodeEnvelope parses a .tpack file without verifying anything.
func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse pack envelope: %w", err)
	}
	if len(env.Manifest) == 0 {
		return nil, errors.New("pack envelope has no manifest")
	}
	return &env, nil
}

// verify checks the envelope signature against the distribution key and the
// source against the manifest checksum, returning the validated manifest.
func (e *envelope) verify(key ed25519.PublicKey) (*Manifest, error) {
	sig, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature", ErrSignatureInvalid)
	}
	if !ed25519.Verify(key, signingDigest(e.Manifest, e.Source), sig) {
		return nil, ErrSignatureInvalid
	}

	var m Manifest
	if err := json.Unmarshal(e.Manifest, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Checksum != SourceChecksum(e.Source) {
		return nil, fmt.Errorf("%w: source checksum mismatch", ErrSignatureInvalid)
	}
	return &m, nil
}
