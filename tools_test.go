package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

func newToolDepsForTest() *toolDeps {
	store := newSessionStore(100, int64(time.Hour/time.Millisecond))
	runner := newProcessRunner(store, 1<<20, 200*time.Millisecond, 24*time.Hour, nil)
	manager := &sessionManager{store: store, runner: runner}
	cfg := &Config{
		DefaultCmdTimeoutMs: 2000,
		AllowedPrefixes:     []string{"echo"},
	}
	return &toolDeps{manager: manager, cfg: cfg, log: newDiagLogger(cfg)}
}

func newCallToolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func TestHandleExecuteCommandRejectsDisallowedCommand(t *testing.T) {
	deps := newToolDepsForTest()
	req := newCallToolRequest(map[string]any{"command": "rm -rf /"})

	result := handleExecuteCommand(context.Background(), req, deps)
	if !result.isError {
		t.Fatalf("expected disallowed command to be rejected")
	}
	if !strings.Contains(result.text, "Command not allowed") {
		t.Errorf("error text = %q, want it to contain %q", result.text, "Command not allowed")
	}
}

func TestHandleExecuteCommandAllowsPrefixedCommand(t *testing.T) {
	deps := newToolDepsForTest()
	req := newCallToolRequest(map[string]any{"command": "echo hi"})

	result := handleExecuteCommand(context.Background(), req, deps)
	if result.isError {
		t.Fatalf("expected allowed command to succeed, got error %q", result.text)
	}
	if !strings.Contains(result.text, "hi") {
		t.Errorf("result text = %q, want it to contain %q", result.text, "hi")
	}
}

func TestHandleExecuteCommandMissingCommandArgument(t *testing.T) {
	deps := newToolDepsForTest()
	req := newCallToolRequest(map[string]any{})

	result := handleExecuteCommand(context.Background(), req, deps)
	if !result.isError {
		t.Fatalf("expected missing 'command' to be rejected")
	}
}

func TestHandleReadOutputUnknownPid(t *testing.T) {
	deps := newToolDepsForTest()
	req := newCallToolRequest(map[string]any{"pid": float64(999999)})

	result := handleReadOutput(context.Background(), req, deps)
	if !result.isError {
		t.Fatalf("expected read_output on an unknown pid to report isError")
	}
}

func TestHandleForceTerminateUnknownPid(t *testing.T) {
	deps := newToolDepsForTest()
	req := newCallToolRequest(map[string]any{"pid": float64(999999)})

	result := handleForceTerminate(context.Background(), req, deps)
	if !result.isError {
		t.Fatalf("expected force_terminate on an unknown pid to report isError")
	}
}

func TestHandleListSessionsEmpty(t *testing.T) {
	deps := newToolDepsForTest()
	result := handleListSessions(context.Background(), newCallToolRequest(nil), deps)
	if result.text != "No active sessions" {
		t.Errorf("result text = %q, want %q", result.text, "No active sessions")
	}
}

func TestHandleListSessionsReportsActiveSession(t *testing.T) {
	deps := newToolDepsForTest()
	spawned := deps.manager.execute(context.Background(), execRequest{
		Command:     "sleep 5",
		InitialWait: 50 * time.Millisecond,
	})
	defer deps.manager.terminate(spawned.pid)

	result := handleListSessions(context.Background(), newCallToolRequest(nil), deps)
	if !strings.Contains(result.text, "running") && !strings.Contains(result.text, "pid=") {
		t.Errorf("result text = %q, want it to mention the active session", result.text)
	}
}
