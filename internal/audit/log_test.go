package audit

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestLog(t *testing.T, opts ...Option) *Log {
	t.Helper()
	l, err := NewLog(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("NewLog() error = %v", err)
	}
	return l
}

func TestAppendAndQuery(t *testing.T) {
	l := newTestLog(t)

	l.Append(NewEvent(EventPackLoad, "system", "pack:measure-helper", OutcomeSuccess))
	l.Append(NewEvent(EventValidationFailure, "system", "pack:bad", OutcomeFailure))

	events, err := l.Query(Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Query() returned %d events, want 2", len(events))
	}
	if events[0].ID == "" {
		t.Error("event ID not assigned")
	}
}

func TestQueryByType(t *testing.T) {
	l := newTestLog(t)

	l.Append(NewEvent(EventPackLoad, "system", "pack:a", OutcomeSuccess))
	l.Append(NewEvent(EventPackExecute, "system", "pack:a", OutcomeSuccess))
	l.Append(NewEvent(EventPackExecute, "system", "pack:b", OutcomeFailure))

	events, err := l.Query(Filter{Type: EventPackExecute})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("Query(type=pack_execute) returned %d, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Type != EventPackExecute {
			t.Errorf("event type = %q, want pack_execute", ev.Type)
		}
	}
}

func TestQueryByTimeRange(t *testing.T) {
	l := newTestLog(t)

	old := NewEvent(EventFileOp, "pack:a", "file", OutcomeSuccess)
	old.Timestamp = time.Now().Add(-2 * time.Hour)
	l.Append(old)
	l.Append(NewEvent(EventFileOp, "pack:a", "file", OutcomeSuccess))

	events, err := l.Query(Filter{From: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("Query(from=-1h) returned %d, want 1", len(events))
	}

	events, err = l.Query(Filter{To: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("Query(to=-1h) returned %d, want 1", len(events))
	}
}

func TestFailedLoginCount(t *testing.T) {
	l := newTestLog(t)

	l.Append(NewEvent(EventAuthAttempt, "mallory", "session", OutcomeFailure))
	l.Append(NewEvent(EventAuthAttempt, "mallory", "session", OutcomeFailure))
	l.Append(NewEvent(EventAuthAttempt, "mallory", "session", OutcomeSuccess))
	l.Append(NewEvent(EventAuthAttempt, "alice", "session", OutcomeFailure))

	count, err := l.FailedLoginCount("mallory", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("FailedLoginCount(mallory) = %d, want 2", count)
	}
}

func TestCheckSuspiciousActivity(t *testing.T) {
	l := newTestLog(t, WithSuspiciousThreshold(3))

	for i := 0; i < 2; i++ {
		l.Append(NewEvent(EventAuthAttempt, "mallory", "session", OutcomeFailure))
	}
	suspicious, err := l.CheckSuspiciousActivity("mallory", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if suspicious {
		t.Error("2 failures below threshold 3 flagged as suspicious")
	}

	l.Append(NewEvent(EventAuthAttempt, "mallory", "session", OutcomeFailure))
	suspicious, err = l.CheckSuspiciousActivity("mallory", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !suspicious {
		t.Error("3 failures at threshold 3 not flagged")
	}
}

func TestRotateKeepsRecent(t *testing.T) {
	l := newTestLog(t, WithKeepRotated(2))

	for i := 0; i < 4; i++ {
		l.Append(NewEvent(EventPackLoad, "system", "pack:x", OutcomeSuccess))
		if err := l.Rotate(); err != nil {
			t.Fatalf("Rotate() error = %v", err)
		}
	}

	rotated, err := l.rotatedFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(rotated) != 2 {
		t.Errorf("rotated files = %d, want 2", len(rotated))
	}
}

func TestRotateEmptyIsNoop(t *testing.T) {
	l := newTestLog(t)

	if err := l.Rotate(); err != nil {
		t.Fatalf("Rotate() on empty log error = %v", err)
	}
	rotated, err := l.rotatedFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(rotated) != 0 {
		t.Errorf("rotated files = %d, want 0", len(rotated))
	}
}

func TestPurgeRemovesOldEventsOnly(t *testing.T) {
	l := newTestLog(t)

	old := NewEvent(EventPackLoad, "system", "pack:old", OutcomeSuccess)
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	l.Append(old)
	l.Append(NewEvent(EventPackLoad, "system", "pack:new", OutcomeSuccess))
	if err := l.Rotate(); err != nil {
		t.Fatal(err)
	}

	// Active log gets a fresh event that Purge must never touch.
	activeOld := NewEvent(EventPackLoad, "system", "pack:active", OutcomeSuccess)
	activeOld.Timestamp = time.Now().Add(-48 * time.Hour)
	l.Append(activeOld)

	if err := l.Purge(24 * time.Hour); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}

	events, err := l.Query(Filter{})
	if err != nil {
		t.Fatal(err)
	}

	var resources []string
	for _, ev := range events {
		resources = append(resources, ev.Resource)
	}
	if len(events) != 2 {
		t.Fatalf("after purge got %d events (%v), want 2", len(events), resources)
	}
	for _, ev := range events {
		if ev.Resource == "pack:old" {
			t.Error("purge kept an expired rotated event")
		}
	}
}

func TestPurgeDeletesEmptyRotatedFile(t *testing.T) {
	l := newTestLog(t)

	old := NewEvent(EventPackLoad, "system", "pack:old", OutcomeSuccess)
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	l.Append(old)
	if err := l.Rotate(); err != nil {
		t.Fatal(err)
	}

	if err := l.Purge(24 * time.Hour); err != nil {
		t.Fatal(err)
	}

	rotated, err := l.rotatedFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(rotated) != 0 {
		t.Errorf("rotated files after purge = %d, want 0", len(rotated))
	}
}

func TestAppendConcurrent(t *testing.T) {
	l := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.Append(NewEvent(EventFileOp, "pack:c", "file", OutcomeSuccess))
			}
		}()
	}
	wg.Wait()

	events, err := l.Query(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 100 {
		t.Errorf("concurrent append lost events: got %d, want 100", len(events))
	}
}

func TestQuerySkipsGarbageLines(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLog(dir)
	if err != nil {
		t.Fatal(err)
	}

	l.Append(NewEvent(EventPackLoad, "system", "pack:a", OutcomeSuccess))

	f, err := os.OpenFile(filepath.Join(dir, activeLogName), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("not json\n")
	f.Close()

	events, err := l.Query(Filter{})
	if err != nil {
		t.Fatalf("Query() with garbage line error = %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Query() returned %d events, want 1", len(events))
	}
}
