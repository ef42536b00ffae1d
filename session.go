package main

import (
	"os/exec"
	"sync"
	"time"
)

// sessionState is the tagged variant driving a session's lifecycle:
// Running -> Blocked -> (Completed | Failed). Mutations flow through
// sessionStore methods only, which enforce the allowed edges.
type sessionState int

const (
	stateRunning sessionState = iota
	stateBlocked
	stateCompleted
	stateFailed
)

func (s sessionState) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateBlocked:
		return "blocked"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// session is one tracked child process execution, keyed by OS pid.
type session struct {
	pid int

	buffer     *outputBuffer
	fullOutput *outputBuffer

	startTime time.Time
	endTime   time.Time

	state        sessionState
	exitCode     int
	failedReason string

	command string
	cwd     string

	process *exec.Cmd
}

func newSession(pid int, command, cwd string, maxBuf int) *session {
	return &session{
		pid:        pid,
		buffer:     newOutputBuffer(maxBuf),
		fullOutput: newOutputBuffer(maxBuf),
		startTime:  time.Now(),
		state:      stateRunning,
		command:    command,
		cwd:        cwd,
	}
}

// appendOutput feeds newly observed bytes into both the drainable buffer
// and the full-output record. Callers must hold the store's lock.
func (s *session) appendOutput(data []byte) {
	s.buffer.append(data)
	s.fullOutput.append(data)
}

func (s *session) runtime(now time.Time) time.Duration {
	if !s.endTime.IsZero() {
		return s.endTime.Sub(s.startTime)
	}
	return now.Sub(s.startTime)
}

func (s *session) isTerminal() bool {
	return s.state == stateCompleted || s.state == stateFailed
}

// sessionStore is the in-memory registry of active and completed
// sessions. All mutations and all session state transitions are
// serialized by mu, matching the single-critical-section requirement.
type sessionStore struct {
	mu        sync.Mutex
	active    map[int]*session
	completed map[int]*session
	// completedOrder preserves FIFO-by-completion order for eviction.
	completedOrder []int

	maxCompleted int
	maxAgeMs     int64
}

func newSessionStore(maxCompleted int, maxAgeMs int64) *sessionStore {
	return &sessionStore{
		active:       make(map[int]*session),
		completed:    make(map[int]*session),
		maxCompleted: maxCompleted,
		maxAgeMs:     maxAgeMs,
	}
}

// insertActive adds a freshly spawned session to the active partition.
func (s *sessionStore) insertActive(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[sess.pid] = sess
}

// withSession runs fn while holding the store lock if a session with
// pid exists in either partition, passing whether it is active.
func (s *sessionStore) withSession(pid int, fn func(sess *session, active bool)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.active[pid]; ok {
		fn(sess, true)
		return true
	}
	if sess, ok := s.completed[pid]; ok {
		fn(sess, false)
		return true
	}
	return false
}

// appendOutput feeds newly observed bytes into an active session's
// buffers. A pid that is no longer active (already finalized) is
// silently ignored — its readers have already moved on.
func (s *sessionStore) appendOutput(pid int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.active[pid]; ok {
		sess.appendOutput(data)
	}
}

// finalize moves a session from active to completed, enforcing the
// FIFO count cap immediately. A pid already absent from active (e.g.
// force-terminated and swept) is a no-op, matching spec.md's
// "simply dropped" finalization rule.
func (s *sessionStore) finalize(pid int, state sessionState, exitCode int, failedReason string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.active[pid]
	if !ok {
		return
	}
	delete(s.active, pid)

	sess.fullOutput.bound()
	sess.endTime = now
	sess.state = state
	sess.exitCode = exitCode
	sess.failedReason = failedReason

	s.completed[pid] = sess
	s.completedOrder = append(s.completedOrder, pid)
	s.evictOldestCompletedLocked()
}

func (s *sessionStore) evictOldestCompletedLocked() {
	for len(s.completedOrder) > s.maxCompleted {
		oldest := s.completedOrder[0]
		s.completedOrder = s.completedOrder[1:]
		delete(s.completed, oldest)
	}
}

// terminateActive removes and returns a still-active session for
// termination, leaving it up to the caller (the process runner) to
// signal the underlying process. Returns false if pid isn't active.
func (s *sessionStore) lookupActive(pid int) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.active[pid]
	return sess, ok
}

// listActive returns a snapshot of active sessions for listActive().
func (s *sessionStore) listActive() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.active))
	for _, sess := range s.active {
		out = append(out, sess)
	}
	return out
}

// sweepCompleted removes completed sessions older than maxAgeMs relative
// to now, returning nothing (pure GC). Safe to call concurrently with
// other store operations; it takes the lock itself.
func (s *sessionStore) sweepCompleted(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.completedOrder[:0:0]
	for _, pid := range s.completedOrder {
		sess := s.completed[pid]
		if sess == nil {
			continue
		}
		if now.Sub(sess.endTime) > time.Duration(s.maxAgeMs)*time.Millisecond {
			delete(s.completed, pid)
			continue
		}
		kept = append(kept, pid)
	}
	s.completedOrder = kept
}

// staleActive returns active sessions older than maxAge, for sweep's
// hard-age eviction.
func (s *sessionStore) staleActive(now time.Time, maxAge time.Duration) []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*session
	for _, sess := range s.active {
		if now.Sub(sess.startTime) > maxAge {
			out = append(out, sess)
		}
	}
	return out
}

func (s *sessionStore) completedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed)
}
