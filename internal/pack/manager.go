package pack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tailordesk/tailordesk/internal/audit"
	plua "github.com/tailordesk/tailordesk/internal/pack/lua"
	"github.com/tailordesk/tailordesk/internal/pack/security"
	"github.com/tailordesk/tailordesk/internal/settings"
)

// managerActor identifies the manager in audit events.
const managerActor = "pack-manager"

// Manager is the public surface of the pack subsystem: secure loading,
// bounded execution, and unloading, with every trust-relevant transition
// recorded in the audit log.
type Manager struct {
	registry  *Registry
	validator *Validator
	store     *settings.Store
	log       *audit.Log
	policy    security.PlatformPolicy
	logger    *slog.Logger
	fetch     func(url string) (string, error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger for pack notifications and warnings.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithFetcher replaces the HTTP fetch backing the sandbox network module.
func WithFetcher(fetch func(url string) (string, error)) ManagerOption {
	return func(m *Manager) {
		if fetch != nil {
			m.fetch = fetch
		}
	}
}

// NewManager creates the pack manager.
func NewManager(reg *Registry, v *Validator, store *settings.Store, log *audit.Log, policy security.PlatformPolicy, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:  reg,
		validator: v,
		store:     store,
		log:       log,
		policy:    policy,
		logger:    slog.Default(),
	}
	m.fetch = m.httpFetch
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultPermissions returns the deny-by-default grant.
func (m *Manager) DefaultPermissions() security.PermissionSet {
	return security.Default()
}

// ValidateSignature reports whether the pack file passes validation.
func (m *Manager) ValidateSignature(path string) bool {
	_, err := m.validator.Validate(path)
	return err == nil
}

// LoadSecurely validates a pack file, grants permissions against the
// platform ceiling, instantiates the sandboxed runtime, and registers the
// handle. The validator's error is returned verbatim on failure.
func (m *Manager) LoadSecurely(ctx context.Context, path string, requested security.PermissionSet) (*Host, error) {
	res, err := m.validator.Validate(path)
	if err != nil {
		return nil, err
	}
	manifest := res.Manifest

	if _, getErr := m.registry.Get(manifest.ID); getErr == nil {
		return nil, fmt.Errorf("pack %q: %w", manifest.ID, ErrAlreadyLoaded)
	} else if errors.Is(getErr, ErrNotInitialized) {
		return nil, getErr
	}

	granted := security.Grant(requested, m.policy.Maximum)

	host, err := NewHost(manifest, granted, m.policy.Limits, m.hooks(manifest.ID, granted))
	if err != nil {
		return nil, err
	}

	if err := host.LoadSource(ctx, res.Source); err != nil {
		host.Unload()
		m.log.Append(audit.NewEvent(audit.EventPackLoad, managerActor, manifest.ID, audit.OutcomeFailure).
			WithMetadata("reason", err.Error()))
		return nil, err
	}

	if err := m.registry.Register(host); err != nil {
		host.Unload()
		return nil, err
	}

	m.log.Append(audit.NewEvent(audit.EventPackLoad, managerActor, manifest.ID, audit.OutcomeSuccess).
		WithMetadata("version", manifest.Version))
	m.logger.Info("pack loaded",
		"pack", manifest.ID,
		"version", manifest.Version,
		"loaded", m.registry.Count())
	return host, nil
}

// Execute runs a pack method under its granted deadline. A PackExecute
// event is emitted with duration and outcome whether or not the call
// succeeds.
func (m *Manager) Execute(ctx context.Context, packID, method string, args []any) (any, error) {
	host, err := m.registry.Get(packID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := host.Execute(ctx, method, args)
	duration := time.Since(start)

	outcome := audit.OutcomeSuccess
	ev := audit.NewEvent(audit.EventPackExecute, managerActor, packID, outcome).
		WithMetadata("method", method).
		WithMetadata("durationMs", strconv.FormatInt(duration.Milliseconds(), 10))
	if err != nil {
		ev.Outcome = audit.OutcomeFailure
		ev = ev.WithMetadata("reason", err.Error())
	}
	m.log.Append(ev)

	return result, err
}

// Unload tears down a pack's runtime and removes it from the registry.
// Unloading an absent id is a no-op.
func (m *Manager) Unload(ctx context.Context, packID string) error {
	host, err := m.registry.Remove(packID)
	if err != nil {
		return err
	}
	if host == nil {
		return nil
	}
	return host.Unload()
}

// Loaded returns all loaded packs, never nil.
func (m *Manager) Loaded() ([]*Host, error) {
	return m.registry.List()
}

// hooks builds the Go callbacks for a pack's sandbox. The sandbox only
// installs the modules the grant allows, but the hooks check the grant
// themselves as well so a handle leaking out of the sandbox still denies.
func (m *Manager) hooks(packID string, granted security.PermissionSet) plua.Hooks {
	dataKey := func(key string) string {
		return "packs.data." + packID + "." + key
	}
	return plua.Hooks{
		Fetch: func(url string) (string, error) {
			if !granted.Network {
				return "", security.NewCapabilityError(security.CapabilityNetwork, "fetch", "not granted")
			}
			return m.fetch(url)
		},
		DBGet: func(key string) (string, bool) {
			if !granted.Database {
				return "", false
			}
			return m.store.GetString(dataKey(key))
		},
		DBSet: func(key, value string) error {
			if !granted.Database {
				return security.NewCapabilityError(security.CapabilityDatabase, "set", "not granted")
			}
			return m.store.SetString(dataKey(key), value)
		},
		Notify: func(msg string) {
			m.logger.Info("pack notification", "pack", packID, "message", msg)
		},
	}
}

// httpFetch is the default network hook, bounded by the platform output
// limit.
func (m *Manager) httpFetch(url string) (string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	limit := m.policy.Limits.MaxOutputBytes
	if limit <= 0 {
		limit = security.DefaultResourceLimits().MaxOutputBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
