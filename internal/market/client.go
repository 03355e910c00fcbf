// Package market talks to the remote Tailor Pack catalog and reconciles
// local state against it by delta sync: only packs added, updated, or
// removed since the last sync point move over the wire.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/tailordesk/tailordesk/internal/pack"
	"github.com/tailordesk/tailordesk/internal/storage"
)

// Delta is one catalog reconciliation unit: what changed since a sync
// point. It lives only for the duration of the sync call that fetched it.
type Delta struct {
	Added      []*pack.Manifest `json:"added"`
	Updated    []*pack.Manifest `json:"updated"`
	RemovedIDs []string         `json:"removedIds"`
	AsOf       time.Time        `json:"asOf"`
}

// Total returns the number of items in the delta.
func (d *Delta) Total() int {
	return len(d.Added) + len(d.Updated) + len(d.RemovedIDs)
}

// Client is the marketplace contract the sync service consumes.
type Client interface {
	// ChangedSince returns the catalog changes after the given sync point.
	// The zero time means "everything" (first sync).
	ChangedSince(ctx context.Context, since time.Time) (*Delta, error)

	// Fetch downloads the pack file for a manifest into the local pack
	// directory and returns its path.
	Fetch(ctx context.Context, m *pack.Manifest) (string, error)
}

// HTTPClient implements Client over HTTP. The transport is injected, not
// owned: callers control retries, proxies and TLS, and tests substitute a
// stub RoundTripper.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
	gw      storage.Gateway
}

// NewHTTPClient creates a marketplace client for the given catalog URL. A
// nil transport uses http.DefaultTransport.
func NewHTTPClient(baseURL string, transport http.RoundTripper, gw storage.Gateway) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		hc: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		gw: gw,
	}
}

// ChangedSince calls the catalog changes endpoint.
func (c *HTTPClient) ChangedSince(ctx context.Context, since time.Time) (*Delta, error) {
	endpoint := fmt.Sprintf("%s/packs/changes?since=%s", c.baseURL, url.QueryEscape(since.UTC().Format(time.RFC3339)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog changes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %s", resp.Status)
	}

	var delta Delta
	if err := json.NewDecoder(resp.Body).Decode(&delta); err != nil {
		return nil, fmt.Errorf("failed to decode catalog delta: %w", err)
	}
	return &delta, nil
}

// Fetch downloads a pack file into the gateway's pack directory.
func (c *HTTPClient) Fetch(ctx context.Context, m *pack.Manifest) (string, error) {
	endpoint := fmt.Sprintf("%s/packs/%s/%s.tpack", c.baseURL, url.PathEscape(m.ID), url.PathEscape(m.Version))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download pack %s: %w", m.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pack download returned status %s", resp.Status)
	}

	// Downloads are bounded the same way the validator is, so a hostile
	// catalog cannot fill the disk.
	data, err := io.ReadAll(io.LimitReader(resp.Body, pack.MaxPackSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read pack %s: %w", m.ID, err)
	}
	if int64(len(data)) > pack.MaxPackSize {
		return "", fmt.Errorf("pack %s: %w", m.ID, pack.ErrPackTooLarge)
	}

	path := filepath.Join(c.gw.PackDir(), m.ID+".tpack")
	if err := c.gw.WriteFile(path, data); err != nil {
		return "", fmt.Errorf("failed to store pack %s: %w", m.ID, err)
	}
	return path, nil
}
