package security

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPermissionRequest is returned when a permission request names a
// capability the policy engine does not know. This is a programmer error in
// the caller (or a malformed manifest) and is never retried.
var ErrInvalidPermissionRequest = errors.New("invalid permission request")

// DefaultMaxExecutionTime is the execution budget granted when a pack does
// not request one.
const DefaultMaxExecutionTime = 30 * time.Second

// PermissionSet holds the capability flags and the execution-time ceiling
// granted to a loaded pack.
type PermissionSet struct {
	FileSystem       bool          `json:"fileSystem" yaml:"fileSystem"`
	Network          bool          `json:"network" yaml:"network"`
	Database         bool          `json:"database" yaml:"database"`
	UserInterface    bool          `json:"userInterface" yaml:"userInterface"`
	MaxExecutionTime time.Duration `json:"maxExecutionTime" yaml:"maxExecutionTime"`
}

// Default returns the deny-by-default permission set: no file system,
// network, or database access, user interface allowed, 30 second execution
// budget.
func Default() PermissionSet {
	return PermissionSet{
		FileSystem:       false,
		Network:          false,
		Database:         false,
		UserInterface:    true,
		MaxExecutionTime: DefaultMaxExecutionTime,
	}
}

// FromCapabilities converts a manifest capability list into a requested
// PermissionSet. Unknown capability names fail with
// ErrInvalidPermissionRequest. The execution budget of the returned set is
// the default; callers that want a different budget set it explicitly.
func FromCapabilities(caps []Capability) (PermissionSet, error) {
	set := Default()
	for _, cap := range caps {
		if !IsValidCapability(cap) {
			return PermissionSet{}, fmt.Errorf("%w: unknown capability %q", ErrInvalidPermissionRequest, cap)
		}
		switch cap {
		case CapabilityFileSystem:
			set.FileSystem = true
		case CapabilityNetwork:
			set.Network = true
		case CapabilityDatabase:
			set.Database = true
		case CapabilityUI:
			set.UserInterface = true
		}
	}
	return set, nil
}

// Grant computes the permissions actually given to a pack: the per-flag
// intersection of what was requested with the platform maximum, with the
// execution budget clamped to the platform ceiling. Grant is pure and has
// no side effects.
func Grant(requested, platformMax PermissionSet) PermissionSet {
	granted := PermissionSet{
		FileSystem:    requested.FileSystem && platformMax.FileSystem,
		Network:       requested.Network && platformMax.Network,
		Database:      requested.Database && platformMax.Database,
		UserInterface: requested.UserInterface && platformMax.UserInterface,
	}

	budget := requested.MaxExecutionTime
	if budget <= 0 {
		budget = DefaultMaxExecutionTime
	}
	if platformMax.MaxExecutionTime > 0 && budget > platformMax.MaxExecutionTime {
		budget = platformMax.MaxExecutionTime
	}
	granted.MaxExecutionTime = budget

	return granted
}

// Capabilities returns the capability names enabled in the set.
func (p PermissionSet) Capabilities() []Capability {
	var caps []Capability
	if p.FileSystem {
		caps = append(caps, CapabilityFileSystem)
	}
	if p.Network {
		caps = append(caps, CapabilityNetwork)
	}
	if p.Database {
		caps = append(caps, CapabilityDatabase)
	}
	if p.UserInterface {
		caps = append(caps, CapabilityUI)
	}
	return caps
}

// Has returns true if the set enables the given capability.
func (p PermissionSet) Has(cap Capability) bool {
	switch cap {
	case CapabilityFileSystem:
		return p.FileSystem
	case CapabilityNetwork:
		return p.Network
	case CapabilityDatabase:
		return p.Database
	case CapabilityUI:
		return p.UserInterface
	default:
		return false
	}
}

// SubsetOf returns true if every flag enabled in p is also enabled in other
// and p's execution budget does not exceed other's.
func (p PermissionSet) SubsetOf(other PermissionSet) bool {
	if p.FileSystem && !other.FileSystem {
		return false
	}
	if p.Network && !other.Network {
		return false
	}
	if p.Database && !other.Database {
		return false
	}
	if p.UserInterface && !other.UserInterface {
		return false
	}
	if other.MaxExecutionTime > 0 && p.MaxExecutionTime > other.MaxExecutionTime {
		return false
	}
	return true
}

// UnmarshalYAML decodes a permission set from a policy file. Flags absent
// from the document keep their current values, and maxExecutionTime accepts
// Go duration strings ("30s", "2m").
func (p *PermissionSet) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		FileSystem       *bool  `yaml:"fileSystem"`
		Network          *bool  `yaml:"network"`
		Database         *bool  `yaml:"database"`
		UserInterface    *bool  `yaml:"userInterface"`
		MaxExecutionTime string `yaml:"maxExecutionTime"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.FileSystem != nil {
		p.FileSystem = *raw.FileSystem
	}
	if raw.Network != nil {
		p.Network = *raw.Network
	}
	if raw.Database != nil {
		p.Database = *raw.Database
	}
	if raw.UserInterface != nil {
		p.UserInterface = *raw.UserInterface
	}
	if raw.MaxExecutionTime != "" {
		d, err := time.ParseDuration(raw.MaxExecutionTime)
		if err != nil {
			return fmt.Errorf("invalid maxExecutionTime: %w", err)
		}
		p.MaxExecutionTime = d
	}
	return nil
}

// PlatformPolicy is the platform-wide ceiling on pack permissions, loaded
// from the policy file shipped with the application.
type PlatformPolicy struct {
	// Maximum is the ceiling applied to every grant.
	Maximum PermissionSet `yaml:"maximum"`

	// Limits are the runtime resource limits applied to sandboxes.
	Limits ResourceLimits `yaml:"limits"`
}

// DefaultPlatformPolicy returns the ceiling used when no policy file is
// configured: all capabilities available, 60 second execution ceiling,
// default resource limits.
func DefaultPlatformPolicy() PlatformPolicy {
	return PlatformPolicy{
		Maximum: PermissionSet{
			FileSystem:       true,
			Network:          true,
			Database:         true,
			UserInterface:    true,
			MaxExecutionTime: 60 * time.Second,
		},
		Limits: DefaultResourceLimits(),
	}
}

// LoadPlatformPolicy reads a platform policy from a YAML file. Fields left
// unset in the file keep their defaults.
func LoadPlatformPolicy(path string) (PlatformPolicy, error) {
	policy := DefaultPlatformPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return PlatformPolicy{}, fmt.Errorf("failed to read platform policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return PlatformPolicy{}, fmt.Errorf("failed to parse platform policy: %w", err)
	}
	return policy, nil
}
