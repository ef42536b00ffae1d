package main

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestRunner(t *testing.T) (*processRunner, *sessionStore) {
	t.Helper()
	store := newSessionStore(100, int64(time.Hour/time.Millisecond))
	runner := newProcessRunner(store, 1<<20, 200*time.Millisecond, 24*time.Hour, nil)
	return runner, store
}

func TestSpawnChildExitsBeforeInitialWait(t *testing.T) {
	runner, _ := newTestRunner(t)

	result, spawnErr := runner.spawn(context.Background(), execRequest{
		Command:     "echo hello",
		InitialWait: 2 * time.Second,
	})
	if spawnErr != nil {
		t.Fatalf("spawn returned error: %v", spawnErr)
	}
	if result.isBlocked {
		t.Errorf("isBlocked = true, want false for a command that exits immediately")
	}
	if !strings.Contains(string(result.output), "hello") {
		t.Errorf("output = %q, want it to contain %q", result.output, "hello")
	}
	if result.pid <= 0 {
		t.Errorf("pid = %d, want a positive pid", result.pid)
	}
}

func TestSpawnInitialWaitElapsesFirst(t *testing.T) {
	runner, store := newTestRunner(t)

	result, spawnErr := runner.spawn(context.Background(), execRequest{
		Command:     "sleep 2",
		InitialWait: 50 * time.Millisecond,
	})
	if spawnErr != nil {
		t.Fatalf("spawn returned error: %v", spawnErr)
	}
	if !result.isBlocked {
		t.Fatalf("isBlocked = false, want true for a command that outlives the initial wait")
	}

	sess, ok := store.lookupActive(result.pid)
	if !ok {
		t.Fatalf("session %d should still be active", result.pid)
	}
	if sess.state != stateBlocked {
		t.Errorf("state = %v, want Blocked", sess.state)
	}

	runner.terminate(result.pid)
	time.Sleep(500 * time.Millisecond)

	if _, stillActive := store.lookupActive(result.pid); stillActive {
		t.Errorf("session %d should have been terminated", result.pid)
	}
}

func TestSpawnMissingExecutableReturnsNegativeOnePid(t *testing.T) {
	runner, _ := newTestRunner(t)

	result, spawnErr := runner.spawn(context.Background(), execRequest{
		Binary:      "definitely-not-a-real-binary-xyz",
		InitialWait: time.Second,
	})
	if spawnErr == nil {
		t.Fatalf("expected a spawnError for a missing executable")
	}
	if result.pid != -1 {
		t.Errorf("pid = %d, want -1", result.pid)
	}
}

func TestTerminateUnknownPidReturnsFalse(t *testing.T) {
	runner, _ := newTestRunner(t)
	if runner.terminate(999999) {
		t.Errorf("terminate on an unknown pid should return false")
	}
}

func TestSweepForceTerminatesHardAgedSessions(t *testing.T) {
	store := newSessionStore(100, int64(time.Hour/time.Millisecond))
	runner := newProcessRunner(store, 1<<20, 200*time.Millisecond, 10*time.Millisecond, nil)

	result, spawnErr := runner.spawn(context.Background(), execRequest{
		Command:     "sleep 5",
		InitialWait: 20 * time.Millisecond,
	})
	if spawnErr != nil {
		t.Fatalf("spawn returned error: %v", spawnErr)
	}

	time.Sleep(50 * time.Millisecond)
	runner.sweep(time.Now())
	time.Sleep(500 * time.Millisecond)

	if _, stillActive := store.lookupActive(result.pid); stillActive {
		t.Errorf("session %d should have been force-terminated by sweep", result.pid)
	}
}
