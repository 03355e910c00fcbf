// Package settings persists small key/value state for the pack subsystem:
// the marketplace sync point and the enabled/disabled pack lists. Values
// live in a single JSON document accessed by dotted path, so unrelated keys
// written by other subsystems survive untouched.
package settings

import (
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tailordesk/tailordesk/internal/storage"
)

// Well-known keys.
const (
	KeyLastSyncTime  = "sync.lastSyncTime"
	KeyEnabledPacks  = "packs.enabled"
	KeyDisabledPacks = "packs.disabled"
)

// Store reads and writes the settings document through the file system
// gateway. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex
	gw storage.Gateway
}

// NewStore creates a store over the gateway's settings document.
func NewStore(gw storage.Gateway) *Store {
	return &Store{gw: gw}
}

// load returns the current document, or an empty object if none exists.
// Must be called with mu held.
func (s *Store) load() []byte {
	if !s.gw.Exists(s.gw.SettingsPath()) {
		return []byte("{}")
	}
	data, err := s.gw.ReadFile(s.gw.SettingsPath())
	if err != nil || len(data) == 0 {
		return []byte("{}")
	}
	return data
}

// GetString returns the string at key and whether it was present.
func (s *Store) GetString(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := gjson.GetBytes(s.load(), key)
	if !result.Exists() {
		return "", false
	}
	return result.String(), true
}

// SetString writes a string value at key.
func (s *Store) SetString(key, value string) error {
	return s.set(key, value)
}

// GetTime returns the RFC 3339 time at key and whether it was present and
// parseable.
func (s *Store) GetTime(key string) (time.Time, bool) {
	raw, ok := s.GetString(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetTime writes a time value at key in RFC 3339 form.
func (s *Store) SetTime(key string, t time.Time) error {
	return s.set(key, t.UTC().Format(time.RFC3339Nano))
}

// GetStringSlice returns the string array at key; missing keys yield an
// empty (never nil) slice.
func (s *Store) GetStringSlice(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := []string{}
	for _, item := range gjson.GetBytes(s.load(), key).Array() {
		values = append(values, item.String())
	}
	return values
}

// SetStringSlice writes a string array at key.
func (s *Store) SetStringSlice(key string, values []string) error {
	if values == nil {
		values = []string{}
	}
	return s.set(key, values)
}

// set performs a read-modify-write of the document.
func (s *Store) set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := sjson.SetBytes(s.load(), key, value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	if err := s.gw.WriteFile(s.gw.SettingsPath(), updated); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// LastSyncTime returns the persisted marketplace sync point, or the zero
// time when no sync has completed.
func (s *Store) LastSyncTime() time.Time {
	t, _ := s.GetTime(KeyLastSyncTime)
	return t
}

// SetLastSyncTime persists the marketplace sync point.
func (s *Store) SetLastSyncTime(t time.Time) error {
	return s.SetTime(KeyLastSyncTime, t)
}
