package main

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// execRequest describes a single spawn. Either Command (interpreted by a
// shell, used by the raw-command tool) or Binary+Args (an explicit argv,
// used by the assistant tool) must be set.
type execRequest struct {
	Command     string
	Binary      string
	Args        []string
	Cwd         string
	Env         []string // nil = inherit process environment
	Shell       string   // overrides the default shell for Command form
	InitialWait time.Duration
}

// spawnError carries the structured detail spec.md's scenario 2 requires:
// the underlying error, the attempted path, and any stderr accumulated
// before the process could be confirmed started.
type spawnError struct {
	Err     error
	Path    string
	Stderr  string
}

func (e *spawnError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Path, e.Err)
}

// spawnResult is the synchronous return of spawn/execute.
type spawnResult struct {
	pid       int
	output    []byte
	isBlocked bool
}

// processRunner spawns child processes, streams their combined output
// into a session's buffers, and implements cooperative-then-forceful
// termination. It holds no state of its own beyond the store and the
// tunables it needs; sessions live entirely in the store.
type processRunner struct {
	store         *sessionStore
	maxBuf        int
	sigtermGrace  time.Duration
	hardActiveAge time.Duration
	log           *diagLogger
}

func newProcessRunner(store *sessionStore, maxBuf int, sigtermGrace, hardActiveAge time.Duration, log *diagLogger) *processRunner {
	return &processRunner{
		store:         store,
		maxBuf:        maxBuf,
		sigtermGrace:  sigtermGrace,
		hardActiveAge: hardActiveAge,
		log:           log,
	}
}

// displayCommand renders req for session.command, used by list_sessions
// and diagnostics; it has no bearing on what is actually executed.
func displayCommand(req execRequest) string {
	if req.Command != "" {
		return req.Command
	}
	return strings.TrimSpace(req.Binary + " " + strings.Join(req.Args, " "))
}

func (r *processRunner) buildCmd(req execRequest) *exec.Cmd {
	var cmd *exec.Cmd
	if req.Command != "" {
		shell := req.Shell
		if shell == "" {
			shell = defaultShell()
		}
		bin, args := shellInvocation(shell, req.Command)
		cmd = exec.Command(bin, args...)
	} else {
		cmd = exec.Command(req.Binary, req.Args...)
	}
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}
	if req.Env != nil {
		cmd.Env = req.Env
	}
	configureProcessGroup(cmd)
	return cmd
}

// spawn implements the three-event race described in spec.md §4.3:
// the child exiting first, a synchronous spawn failure, or the
// initial-wait timer elapsing first. Go's os/exec reports a missing
// executable synchronously from Start() before any pid is assigned, so
// that case is handled as a pre-race branch rather than a race
// participant — see DESIGN.md for this Open Question resolution.
func (r *processRunner) spawn(ctx context.Context, req execRequest) (*spawnResult, *spawnError) {
	cmd := r.buildCmd(req)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &spawnResult{pid: -1, output: []byte(err.Error())}, &spawnError{Err: err, Path: cmd.Path}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &spawnResult{pid: -1, output: []byte(err.Error())}, &spawnError{Err: err, Path: cmd.Path}
	}
	// stdin is closed to the child: leaving cmd.Stdin nil connects it to
	// an already-at-EOF source on every supported platform.

	if err := cmd.Start(); err != nil {
		return &spawnResult{pid: -1, output: []byte(err.Error())}, &spawnError{Err: err, Path: cmd.Path}
	}

	pid := cmd.Process.Pid
	sess := newSession(pid, displayCommand(req), req.Cwd, r.maxBuf)
	sess.process = cmd
	r.store.insertActive(sess)

	pumpDone := make(chan struct{}, 2)
	go r.pump(sess, stdout, pumpDone)
	go r.pump(sess, stderr, pumpDone)

	exitCh := make(chan error, 1)
	go func() {
		<-pumpDone
		<-pumpDone
		exitCh <- cmd.Wait()
	}()

	timer := time.NewTimer(req.InitialWait)
	defer timer.Stop()

	select {
	case waitErr := <-exitCh:
		r.finalize(sess, waitErr)
		return &spawnResult{pid: pid, output: sess.buffer.drain(), isBlocked: false}, nil
	case <-timer.C:
		r.markBlocked(pid)
		out := sess.buffer.drain()
		go r.awaitExit(sess, exitCh)
		return &spawnResult{pid: pid, output: out, isBlocked: true}, nil
	}
}

func (r *processRunner) markBlocked(pid int) {
	r.store.withSession(pid, func(sess *session, active bool) {
		if active && sess.state == stateRunning {
			sess.state = stateBlocked
		}
	})
}

// awaitExit is the async continuation started when the initial wait
// elapses before the child: it owns the rest of the child's lifetime.
func (r *processRunner) awaitExit(sess *session, exitCh chan error) {
	waitErr := <-exitCh
	r.finalize(sess, waitErr)
}

// pump copies one stream into the session's buffers, preserving arrival
// order, until the stream is closed, then signals done.
func (r *processRunner) pump(sess *session, pipe io.Reader, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	buf := make([]byte, 32*1024)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.store.appendOutput(sess.pid, chunk)
		}
		if err != nil {
			return
		}
	}
}

// finalize records exit status and moves the session to completed.
func (r *processRunner) finalize(sess *session, waitErr error) {
	exitCode := 0
	state := stateCompleted
	reason := ""

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			state = stateFailed
			reason = waitErr.Error()
		}
	}

	r.store.finalize(sess.pid, state, exitCode, reason, time.Now())
}

// terminate implements the cooperative-then-forceful protocol: it sends
// a cooperative stop signal immediately and returns true, then arms a
// grace timer that force-kills the process group if it is still active
// once the grace period elapses.
func (r *processRunner) terminate(pid int) bool {
	sess, ok := r.store.lookupActive(pid)
	if !ok {
		return false
	}
	if sess.process == nil || sess.process.Process == nil {
		return false
	}

	if err := terminateProcessGroup(sess.process.Process.Pid); err != nil {
		_ = sess.process.Process.Kill()
	}

	go func() {
		time.Sleep(r.sigtermGrace)
		if _, stillActive := r.store.lookupActive(pid); stillActive {
			if err := forceKillProcessGroup(sess.process.Process.Pid); err != nil {
				_ = sess.process.Process.Kill()
			}
		}
	}()

	return true
}

// sweep performs both halves of spec.md's sweep contract: evict aged
// completed sessions, and force-terminate active sessions that have
// outlived hardActiveAge.
func (r *processRunner) sweep(now time.Time) {
	r.store.sweepCompleted(now)
	for _, sess := range r.store.staleActive(now, r.hardActiveAge) {
		if r.log != nil {
			r.log.Warnf("sweep: force-terminating pid %d after exceeding hard active age", sess.pid)
		}
		r.terminate(sess.pid)
	}
}
