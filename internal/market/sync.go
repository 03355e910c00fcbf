package market

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/tailordesk/tailordesk/internal/audit"
	"github.com/tailordesk/tailordesk/internal/pack"
	"github.com/tailordesk/tailordesk/internal/pack/security"
	"github.com/tailordesk/tailordesk/internal/settings"
	"github.com/tailordesk/tailordesk/internal/storage"
)

// syncActor identifies the sync service in audit events.
const syncActor = "market-sync"

// Progress is one progress report: the fraction of delta items processed so
// far, in [0, 1]. An empty delta reports 1.0 exactly once.
type Progress struct {
	Fraction float64
	Item     string
}

// Stats summarizes one sync invocation. Failed counts items that errored
// individually without aborting the rest of the sync.
type Stats struct {
	Added    int
	Updated  int
	Removed  int
	Failed   int
	Duration time.Duration
}

// Syncer reconciles local packs against the marketplace catalog.
type Syncer struct {
	client  Client
	manager *pack.Manager
	store   *settings.Store
	log     *audit.Log
	gw      storage.Gateway
	logger  *slog.Logger
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithLogger sets the logger for sync progress and warnings.
func WithLogger(logger *slog.Logger) SyncerOption {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSyncer creates a sync service applying catalog deltas through the pack
// manager.
func NewSyncer(client Client, manager *pack.Manager, store *settings.Store, log *audit.Log, gw storage.Gateway, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		client:  client,
		manager: manager,
		store:   store,
		log:     log,
		gw:      gw,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync fetches the delta since the last sync point and applies it:
// adds and updates load through the manager, removals unload and delete
// local state. Individual item failures are audited and counted but do not
// abort the remaining items. Cancellation is honored between items, never
// mid-item; on cancellation the sync point is not advanced, so the next run
// re-fetches (idempotent) work.
//
// When progress is non-nil the syncer sends a fraction after every item and
// closes the channel on return.
func (s *Syncer) Sync(ctx context.Context, progress chan<- Progress) (Stats, error) {
	start := time.Now()
	if progress != nil {
		defer close(progress)
	}

	stats := Stats{}
	finish := func(err error) (Stats, error) {
		stats.Duration = time.Since(start)
		return stats, err
	}

	since := s.store.LastSyncTime()
	delta, err := s.client.ChangedSince(ctx, since)
	if err != nil {
		return finish(fmt.Errorf("failed to fetch catalog delta: %w", err))
	}

	total := delta.Total()
	s.logger.Info("sync started",
		"since", since,
		"added", len(delta.Added),
		"updated", len(delta.Updated),
		"removed", len(delta.RemovedIDs))

	if total == 0 {
		s.report(ctx, progress, Progress{Fraction: 1.0})
		if err := s.store.SetLastSyncTime(delta.AsOf); err != nil {
			return finish(err)
		}
		return finish(nil)
	}

	done := 0
	step := func(item string) {
		done++
		s.report(ctx, progress, Progress{
			Fraction: float64(done) / float64(total),
			Item:     item,
		})
	}

	cancelled := false
	for _, m := range delta.Added {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if err := s.applyAdd(ctx, m); err != nil {
			s.itemFailed(m.ID, "add", err)
			stats.Failed++
		} else {
			stats.Added++
		}
		step(m.ID)
	}

	if !cancelled {
		for _, m := range delta.Updated {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			if err := s.applyUpdate(ctx, m); err != nil {
				s.itemFailed(m.ID, "update", err)
				stats.Failed++
			} else {
				stats.Updated++
			}
			step(m.ID)
		}
	}

	if !cancelled {
		for _, id := range delta.RemovedIDs {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			if err := s.applyRemove(ctx, id); err != nil {
				s.itemFailed(id, "remove", err)
				stats.Failed++
			} else {
				stats.Removed++
			}
			step(id)
		}
	}

	if cancelled {
		// The sync point stays put: committed items are idempotent to
		// re-apply, and advancing it would silently drop the rest.
		return finish(ctx.Err())
	}

	if err := s.store.SetLastSyncTime(delta.AsOf); err != nil {
		return finish(err)
	}
	return finish(nil)
}

// applyAdd downloads and loads a new pack, granting permissions from its
// manifest against the current platform policy. A pack already loaded at
// this exact version is a committed item from an interrupted earlier sync
// and is left alone.
func (s *Syncer) applyAdd(ctx context.Context, m *pack.Manifest) error {
	if s.committed(m) {
		return s.markEnabled(m.ID)
	}

	path, err := s.client.Fetch(ctx, m)
	if err != nil {
		return err
	}

	requested, err := security.FromCapabilities(m.Capabilities)
	if err != nil {
		return err
	}
	if _, err := s.manager.LoadSecurely(ctx, path, requested); err != nil {
		return err
	}
	return s.markEnabled(m.ID)
}

// applyUpdate unloads any existing version and loads the new one. The new
// grant is computed against the current policy, not inherited from the
// prior install.
func (s *Syncer) applyUpdate(ctx context.Context, m *pack.Manifest) error {
	if s.committed(m) {
		return s.markEnabled(m.ID)
	}
	if err := s.manager.Unload(ctx, m.ID); err != nil {
		return err
	}
	return s.applyAdd(ctx, m)
}

// committed reports whether the exact pack version is already loaded, as
// happens when a cancelled sync is retried over the same delta.
func (s *Syncer) committed(m *pack.Manifest) bool {
	loaded, err := s.manager.Loaded()
	if err != nil {
		return false
	}
	for _, h := range loaded {
		if h.ID() == m.ID && h.Manifest().Version == m.Version {
			return true
		}
	}
	return false
}

// applyRemove unloads the pack and deletes its local state.
func (s *Syncer) applyRemove(ctx context.Context, id string) error {
	if err := s.manager.Unload(ctx, id); err != nil {
		return err
	}
	if err := s.gw.Remove(filepath.Join(s.gw.PackDir(), id+".tpack")); err != nil {
		return err
	}
	return s.markDisabled(id)
}

// itemFailed records one item failure without aborting the sync.
func (s *Syncer) itemFailed(id, action string, err error) {
	s.logger.Warn("sync item failed", "pack", id, "action", action, "error", err)
	s.log.Append(audit.NewEvent(audit.EventDataAccess, syncActor, id, audit.OutcomeFailure).
		WithMetadata("action", action).
		WithMetadata("reason", err.Error()))
}

// report sends one progress value, giving up if the caller stopped
// listening and the context died.
func (s *Syncer) report(ctx context.Context, progress chan<- Progress, p Progress) {
	if progress == nil {
		return
	}
	select {
	case progress <- p:
	case <-ctx.Done():
	}
}

// markEnabled moves the id onto the enabled pack list.
func (s *Syncer) markEnabled(id string) error {
	if err := s.store.SetStringSlice(settings.KeyDisabledPacks,
		without(s.store.GetStringSlice(settings.KeyDisabledPacks), id)); err != nil {
		return err
	}
	enabled := s.store.GetStringSlice(settings.KeyEnabledPacks)
	for _, existing := range enabled {
		if existing == id {
			return nil
		}
	}
	return s.store.SetStringSlice(settings.KeyEnabledPacks, append(enabled, id))
}

// markDisabled moves the id onto the disabled pack list.
func (s *Syncer) markDisabled(id string) error {
	if err := s.store.SetStringSlice(settings.KeyEnabledPacks,
		without(s.store.GetStringSlice(settings.KeyEnabledPacks), id)); err != nil {
		return err
	}
	disabled := s.store.GetStringSlice(settings.KeyDisabledPacks)
	for _, existing := range disabled {
		if existing == id {
			return nil
		}
	}
	return s.store.SetStringSlice(settings.KeyDisabledPacks, append(disabled, id))
}

// without returns the list with every occurrence of id removed.
func without(list []string, id string) []string {
	kept := list[:0]
	for _, existing := range list {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	return kept
}
