package main

import (
	"context"
	"fmt"
	"time"
)

// activeSessionInfo is the shape returned by listActive.
type activeSessionInfo struct {
	pid       int
	isBlocked bool
	runtimeMs int64
}

// sessionManager is the public facade combining the bounded buffer, the
// store and the process runner: execute, readNew, terminate, listActive
// and sweep. Every method is safe to call concurrently.
type sessionManager struct {
	store  *sessionStore
	runner *processRunner
	log    *diagLogger
}

func newSessionManager(cfg *Config, log *diagLogger) *sessionManager {
	store := newSessionStore(cfg.MaxCompleted, cfg.MaxAgeMs)
	runner := newProcessRunner(store, cfg.MaxBuf, cfg.SigtermGrace(), hardActiveAge, log)
	return &sessionManager{store: store, runner: runner, log: log}
}

// hardActiveAge is the 24-hour ceiling from spec.md §3 invariant 7. It
// is not configurable — the spec fixes it as a constant, unlike the
// other tunables in the configuration table.
const hardActiveAge = 24 * time.Hour

// execute spawns command/args and either blocks for up to initialWait
// or returns a blocked handle, per spec.md §4.3/§4.4. Spawn failures
// are encoded with pid == -1 and never surface a Go error — the caller
// reads the failure from the returned output text.
func (m *sessionManager) execute(ctx context.Context, req execRequest) *spawnResult {
	result, spawnErr := m.runner.spawn(ctx, req)
	if spawnErr != nil {
		if m.log != nil {
			m.log.Debugf("execute: spawn failed: %v", spawnErr)
		}
	}
	return result
}

// readNew implements spec.md §4.4's readNew contract: drains an active
// session's buffer, formats a terminal summary for a completed session,
// or reports absence via ok == false.
func (m *sessionManager) readNew(pid int) (text string, ok bool) {
	now := time.Now()
	found := m.store.withSession(pid, func(sess *session, active bool) {
		if active {
			drained := sess.buffer.drain()
			if len(drained) == 0 {
				text = "No new output available"
				return
			}
			text = string(drained)
			return
		}
		text = formatCompletedBlock(sess, now)
	})
	return text, found
}

func formatCompletedBlock(sess *session, now time.Time) string {
	seconds := float64(sess.runtime(now)) / float64(time.Second)
	return fmt.Sprintf(
		"Process completed with exit code %d\nRuntime: %.1fs\nFinal output:\n%s",
		sess.exitCode, seconds, string(sess.fullOutput.data),
	)
}

// terminate delegates to the process runner's termination protocol.
func (m *sessionManager) terminate(pid int) bool {
	return m.runner.terminate(pid)
}

// listActive renders the active-session snapshot used by list_sessions.
func (m *sessionManager) listActive() []activeSessionInfo {
	now := time.Now()
	sessions := m.store.listActive()
	out := make([]activeSessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, activeSessionInfo{
			pid:       sess.pid,
			isBlocked: sess.state == stateBlocked,
			runtimeMs: sess.runtime(now).Milliseconds(),
		})
	}
	return out
}

// sweep runs the periodic garbage-collection pass described in
// spec.md §4.2/§4.3: evicts aged completed sessions and force-terminates
// active sessions that exceeded the hard active-age ceiling.
func (m *sessionManager) sweep() {
	m.runner.sweep(time.Now())
}
