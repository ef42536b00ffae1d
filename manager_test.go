package main

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *sessionManager {
	t.Helper()
	store := newSessionStore(100, int64(time.Hour/time.Millisecond))
	runner := newProcessRunner(store, 1<<20, 200*time.Millisecond, 24*time.Hour, nil)
	return &sessionManager{store: store, runner: runner}
}

func TestManagerExecuteAndReadNewBlockingCompletion(t *testing.T) {
	m := newTestManager(t)

	result := m.execute(context.Background(), execRequest{
		Command:     "echo hi",
		InitialWait: 2 * time.Second,
	})
	if result.isBlocked {
		t.Fatalf("expected the echo to complete within the initial wait")
	}
	if !strings.Contains(string(result.output), "hi") {
		t.Errorf("output = %q, want it to contain %q", result.output, "hi")
	}
}

func TestManagerReadNewOnCompletedSessionFormatsBlock(t *testing.T) {
	m := newTestManager(t)

	result := m.execute(context.Background(), execRequest{
		Command:     "echo done",
		InitialWait: 2 * time.Second,
	})
	if result.isBlocked {
		t.Fatalf("expected echo to complete immediately")
	}

	text, ok := m.readNew(result.pid)
	if !ok {
		t.Fatalf("readNew(%d) reported no session", result.pid)
	}
	if !strings.HasPrefix(text, "Process completed with exit code 0") {
		t.Errorf("readNew() = %q, want it to start with the completed block", text)
	}
}

func TestManagerReadNewUnknownPidReturnsFalse(t *testing.T) {
	m := newTestManager(t)
	if _, ok := m.readNew(999999); ok {
		t.Errorf("readNew on an unknown pid should report ok = false")
	}
}

func TestManagerTimeoutThenForceTerminateThenReadNew(t *testing.T) {
	m := newTestManager(t)

	result := m.execute(context.Background(), execRequest{
		Command:     "sleep 5",
		InitialWait: 50 * time.Millisecond,
	})
	if !result.isBlocked {
		t.Fatalf("expected sleep to still be running after the initial wait")
	}

	if !m.terminate(result.pid) {
		t.Fatalf("terminate(%d) should report success for an active session", result.pid)
	}

	deadline := time.Now().Add(2 * time.Second)
	var text string
	for time.Now().Before(deadline) {
		got, ok := m.readNew(result.pid)
		if !ok {
			t.Fatalf("session %d disappeared entirely", result.pid)
		}
		if strings.HasPrefix(got, "Process completed with exit code") {
			text = got
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if text == "" {
		t.Fatalf("session %d never reached a completed state after termination", result.pid)
	}
}

func TestManagerListActiveReportsBlockedSessions(t *testing.T) {
	m := newTestManager(t)

	result := m.execute(context.Background(), execRequest{
		Command:     "sleep 5",
		InitialWait: 50 * time.Millisecond,
	})
	if !result.isBlocked {
		t.Fatalf("expected sleep to still be running")
	}
	defer m.terminate(result.pid)

	active := m.listActive()
	found := false
	for _, s := range active {
		if s.pid == result.pid {
			found = true
			if !s.isBlocked {
				t.Errorf("session %d should be reported as blocked", result.pid)
			}
		}
	}
	if !found {
		t.Fatalf("listActive() did not report pid %d", result.pid)
	}
}

func TestManagerSweepEvictsOldCompletedSessions(t *testing.T) {
	store := newSessionStore(100, 3_600_000)
	runner := newProcessRunner(store, 1<<20, 200*time.Millisecond, 24*time.Hour, nil)
	m := &sessionManager{store: store, runner: runner}

	now := time.Now()
	old := newSession(1, "echo old", "/tmp", 1024)
	store.insertActive(old)
	store.finalize(1, stateCompleted, 0, "", now.Add(-2*time.Hour))

	recent := newSession(2, "echo recent", "/tmp", 1024)
	store.insertActive(recent)
	store.finalize(2, stateCompleted, 0, "", now.Add(-10*time.Second))

	m.sweep()

	if store.withSession(1, func(*session, bool) {}) {
		t.Errorf("old completed session should have been evicted by sweep")
	}
	if !store.withSession(2, func(*session, bool) {}) {
		t.Errorf("recent completed session should remain after sweep")
	}
}
