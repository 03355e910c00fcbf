// Package audit provides the append-only security audit log for the pack
// subsystem. Every trust-relevant transition (validation failure, load,
// execution, sync item failure) produces an Event; the log stores them as
// JSON lines, one file active at a time with rotation and retention.
//
// Logging is best-effort: a failing disk must never take down the subsystem
// it observes, so Append retries a bounded number of times and then drops
// the event with a warning.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	activeLogName = "audit.log"
	rotatedPrefix = "audit-"

	// appendRetries bounds the write attempts per event.
	appendRetries = 3
	retryDelay    = 10 * time.Millisecond

	// DefaultKeepRotated is how many rotated files Rotate retains.
	DefaultKeepRotated = 5

	// DefaultSuspiciousThreshold is the failed-attempt count that flags an
	// actor as suspicious.
	DefaultSuspiciousThreshold = 5
)

// Log is an append-only security event log backed by JSONL files in a
// directory. It is safe for concurrent use.
type Log struct {
	mu sync.Mutex

	dir         string
	keepRotated int
	threshold   int
	logger      *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithKeepRotated sets how many rotated files Rotate retains.
func WithKeepRotated(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.keepRotated = n
		}
	}
}

// WithSuspiciousThreshold sets the failed-attempt count that flags an actor.
func WithSuspiciousThreshold(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.threshold = n
		}
	}
}

// WithLogger sets the logger for internal warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLog creates a log writing into dir, creating it if needed.
func NewLog(dir string, opts ...Option) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Log{
		dir:         dir,
		keepRotated: DefaultKeepRotated,
		threshold:   DefaultSuspiciousThreshold,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append writes an event to the active log file. Missing ID or timestamp
// fields are filled in. Append never returns an error: after bounded
// retries the event is dropped with a warning.
func (l *Log) Append(ev Event) {
	if ev.ID == "" {
		filled := NewEvent(ev.Type, ev.Actor, ev.Resource, ev.Outcome)
		filled.Metadata = ev.Metadata
		if !ev.Timestamp.IsZero() {
			filled.Timestamp = ev.Timestamp
		}
		ev = filled
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("audit: dropping unencodable event", "type", ev.Type, "error", err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		if lastErr = l.appendLine(line); lastErr == nil {
			return
		}
		time.Sleep(retryDelay)
	}
	l.logger.Warn("audit: dropping event after retries", "type", ev.Type, "error", lastErr)
}

// appendLine opens the active file in append mode and writes one line.
// Must be called with mu held.
func (l *Log) appendLine(line []byte) error {
	f, err := os.OpenFile(l.activePath(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Filter selects events from Query. Zero-value fields match everything.
type Filter struct {
	From time.Time
	To   time.Time
	Type EventType
}

// Query returns events matching the filter, oldest first, across rotated
// and active files.
func (l *Log) Query(filter Filter) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := l.allFiles()
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, path := range files {
		evs, err := readEvents(path)
		if err != nil {
			return nil, err
		}
		for _, ev := range evs {
			if matches(ev, filter) {
				events = append(events, ev)
			}
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func matches(ev Event, f Filter) bool {
	if !f.From.IsZero() && ev.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ev.Timestamp.After(f.To) {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	return true
}

// FailedLoginCount counts failed authentication attempts by the actor since
// the given time.
func (l *Log) FailedLoginCount(actor string, since time.Time) (int, error) {
	events, err := l.Query(Filter{From: since, Type: EventAuthAttempt})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, ev := range events {
		if ev.Actor == actor && ev.Outcome == OutcomeFailure {
			count++
		}
	}
	return count, nil
}

// CheckSuspiciousActivity reports whether the actor's failed attempts
// within the window reach the configured threshold.
func (l *Log) CheckSuspiciousActivity(actor string, window time.Duration) (bool, error) {
	count, err := l.FailedLoginCount(actor, time.Now().Add(-window))
	if err != nil {
		return false, err
	}
	return count >= l.threshold, nil
}

// Rotate renames the active file to a timestamped rotated file and prunes
// rotated files beyond the retention count, newest first. Rotating an
// empty or absent active file is a no-op.
func (l *Log) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	active := l.activePath()
	if info, err := os.Stat(active); err != nil || info.Size() == 0 {
		return nil
	}

	rotated := filepath.Join(l.dir, fmt.Sprintf("%s%s.log", rotatedPrefix, time.Now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(active, rotated); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}

	return l.pruneRotated()
}

// pruneRotated removes rotated files beyond keepRotated, oldest first.
// Must be called with mu held.
func (l *Log) pruneRotated() error {
	rotated, err := l.rotatedFiles()
	if err != nil {
		return err
	}
	if len(rotated) <= l.keepRotated {
		return nil
	}

	// Names sort chronologically; drop from the front.
	for _, path := range rotated[:len(rotated)-l.keepRotated] {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}

// Purge removes events older than the retention period from rotated files,
// deleting files left empty. The active log is never touched.
func (l *Log) Purge(retention time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	rotated, err := l.rotatedFiles()
	if err != nil {
		return err
	}

	for _, path := range rotated {
		events, err := readEvents(path)
		if err != nil {
			return err
		}

		var kept []Event
		for _, ev := range events {
			if !ev.Timestamp.Before(cutoff) {
				kept = append(kept, ev)
			}
		}

		if len(kept) == len(events) {
			continue
		}
		if len(kept) == 0 {
			if err := os.Remove(path); err != nil {
				return err
			}
			continue
		}
		if err := writeEvents(path, kept); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) activePath() string {
	return filepath.Join(l.dir, activeLogName)
}

// rotatedFiles returns rotated file paths sorted oldest first.
func (l *Log) rotatedFiles() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, rotatedPrefix) && strings.HasSuffix(name, ".log") {
			files = append(files, filepath.Join(l.dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// allFiles returns rotated files (oldest first) followed by the active file.
func (l *Log) allFiles() ([]string, error) {
	files, err := l.rotatedFiles()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(l.activePath()); err == nil {
		files = append(files, l.activePath())
	}
	return files, nil
}

// readEvents parses a JSONL file, skipping unparseable lines.
func readEvents(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// writeEvents rewrites a JSONL file with the given events.
func writeEvents(path string, events []Event) error {
	var sb strings.Builder
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}
