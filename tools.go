package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// toolResult is the transport-agnostic reply shape every handler in
// this file builds before it is bridged to mcp.CallToolResult at
// registration time. Keeping it independent of mcp-go's types lets the
// handlers themselves be tested without a running MCP server.
type toolResult struct {
	text     string
	isError  bool
	metadata map[string]any
}

func textResult(text string) toolResult {
	return toolResult{text: text}
}

func errorResult(text string) toolResult {
	return toolResult{text: text, isError: true}
}

func (t toolResult) withMetadata(key string, value any) toolResult {
	if t.metadata == nil {
		t.metadata = make(map[string]any)
	}
	t.metadata[key] = value
	return t
}

// toMCP bridges a toolResult to the mcp-go reply type. metadata, when
// present, is appended to the text body as a fenced block — mcp-go's
// CallToolResult carries no first-class structured-metadata field, so
// this keeps the {content, metadata} contract from spec.md §4.6/§6
// observable to any client that reads the text.
func (t toolResult) toMCP() *mcp.CallToolResult {
	if t.isError {
		return mcp.NewToolResultError(t.render())
	}
	return mcp.NewToolResultText(t.render())
}

func (t toolResult) render() string {
	if len(t.metadata) == 0 {
		return t.text
	}
	var b strings.Builder
	b.WriteString(t.text)
	b.WriteString("\n")
	for _, key := range []string{"pid", "isRunning", "runtime", "startTime", "exitCode"} {
		v, ok := t.metadata[key]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s: %v\n", key, v)
	}
	return b.String()
}

// toolDeps bundles everything a handler needs: the session manager,
// the allowlist-carrying config, and the diagnostics logger.
type toolDeps struct {
	manager *sessionManager
	cfg     *Config
	log     *diagLogger
}

// registerTools wires the five tools from spec.md §4.6 onto s.
func registerTools(s *server.MCPServer, deps *toolDeps) {
	assistantTool := mcp.NewTool(
		"assistant",
		mcp.WithDescription("Run a prompt through the external CLI assistant and return its output"),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Prompt to send to the assistant"),
		),
		mcp.WithString("workFolder",
			mcp.Description("Working directory for the assistant invocation"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Block until the assistant finishes (default: true)"),
		),
	)
	s.AddTool(assistantTool, wrapHandler(deps, handleAssistant))

	executeCommandTool := mcp.NewTool(
		"execute_command",
		mcp.WithDescription("Run a raw shell command, subject to the command allowlist"),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("Shell command to execute"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Initial wait before returning a blocked handle"),
		),
		mcp.WithString("shell",
			mcp.Description("Shell to interpret the command with (default: platform shell)"),
		),
		mcp.WithString("cwd",
			mcp.Description("Working directory for the command"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Block until completion (default: true)"),
		),
	)
	s.AddTool(executeCommandTool, wrapHandler(deps, handleExecuteCommand))

	readOutputTool := mcp.NewTool(
		"read_output",
		mcp.WithDescription("Read new output from a tracked session by pid"),
		mcp.WithNumber("pid",
			mcp.Required(),
			mcp.Description("Process id returned by execute_command or assistant"),
		),
	)
	s.AddTool(readOutputTool, wrapHandler(deps, handleReadOutput))

	forceTerminateTool := mcp.NewTool(
		"force_terminate",
		mcp.WithDescription("Terminate a tracked session by pid"),
		mcp.WithNumber("pid",
			mcp.Required(),
			mcp.Description("Process id to terminate"),
		),
	)
	s.AddTool(forceTerminateTool, wrapHandler(deps, handleForceTerminate))

	listSessionsTool := mcp.NewTool(
		"list_sessions",
		mcp.WithDescription("List all active tracked sessions"),
	)
	s.AddTool(listSessionsTool, wrapHandler(deps, handleListSessions))
}

// toolHandlerFunc is the signature every handler in this package
// implements; wrapHandler closes over deps and bridges to mcp-go.
type toolHandlerFunc func(ctx context.Context, req mcp.CallToolRequest, deps *toolDeps) toolResult

// argsMap returns req's arguments as a map, or nil if absent/malformed.
func argsMap(req mcp.CallToolRequest) map[string]any {
	m, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return nil
	}
	return m
}

func argFloat(req mcp.CallToolRequest, key string, fallback float64) float64 {
	if m := argsMap(req); m != nil {
		if v, ok := m[key]; ok {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return fallback
}

func argString(req mcp.CallToolRequest, key, fallback string) string {
	if m := argsMap(req); m != nil {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return fallback
}

func argBool(req mcp.CallToolRequest, key string, fallback bool) bool {
	if m := argsMap(req); m != nil {
		if v, ok := m[key]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
	}
	return fallback
}

// requireFloat reads a required numeric argument, mirroring the error
// shape RequireString produces for required string arguments.
func requireFloat(req mcp.CallToolRequest, key string) (float64, error) {
	m := argsMap(req)
	if m == nil {
		return 0, fmt.Errorf("missing arguments")
	}
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing %q", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%q is not a number", key)
	}
	return f, nil
}

func wrapHandler(deps *toolDeps, fn toolHandlerFunc) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return fn(ctx, req, deps).toMCP(), nil
	}
}

func handleExecuteCommand(ctx context.Context, req mcp.CallToolRequest, deps *toolDeps) toolResult {
	command, err := req.RequireString("command")
	if err != nil {
		return errorResult("Missing or invalid 'command' argument")
	}

	if !isAllowed(command, deps.cfg) {
		return errorResult(fmt.Sprintf("Command not allowed: %q does not match any entry in the allowlist", command))
	}

	timeoutMs := deps.cfg.DefaultCmdTimeoutMs
	if v := argFloat(req, "timeout_ms", 0); v > 0 {
		timeoutMs = int64(v)
	}
	shell := argString(req, "shell", "")
	cwd := argString(req, "cwd", "")

	result := deps.manager.execute(ctx, execRequest{
		Command:     command,
		Cwd:         cwd,
		Shell:       shell,
		InitialWait: time.Duration(timeoutMs) * time.Millisecond,
	})

	if result.pid == -1 {
		return errorResult(fmt.Sprintf("Command started with PID -1: %s", string(result.output)))
	}

	if !result.isBlocked {
		return textResult(string(result.output))
	}

	return textResult(fmt.Sprintf("Command started with PID %d\n%s", result.pid, string(result.output))).
		withMetadata("pid", result.pid).
		withMetadata("isRunning", true)
}

func handleReadOutput(ctx context.Context, req mcp.CallToolRequest, deps *toolDeps) toolResult {
	pidFloat, err := requireFloat(req, "pid")
	if err != nil {
		return errorResult("Missing or invalid 'pid' argument")
	}
	pid := int(pidFloat)

	text, ok := deps.manager.readNew(pid)
	if !ok {
		return errorResult(fmt.Sprintf("No session found for pid %d", pid))
	}

	result := textResult(text)
	if sess, active := deps.manager.store.lookupActive(pid); active {
		result = result.withMetadata("isRunning", true)
		result = result.withMetadata("runtime", int64(sess.runtime(time.Now()).Seconds()))
	} else {
		result = result.withMetadata("isRunning", false)
	}
	return result
}

func handleForceTerminate(ctx context.Context, req mcp.CallToolRequest, deps *toolDeps) toolResult {
	pidFloat, err := requireFloat(req, "pid")
	if err != nil {
		return errorResult("Missing or invalid 'pid' argument")
	}
	pid := int(pidFloat)

	if deps.manager.terminate(pid) {
		return textResult(fmt.Sprintf("Termination signal sent to process %d", pid)).
			withMetadata("isRunning", false)
	}
	return errorResult(fmt.Sprintf("No active session found for pid %d", pid)).
		withMetadata("isRunning", false)
}

func handleListSessions(ctx context.Context, req mcp.CallToolRequest, deps *toolDeps) toolResult {
	sessions := deps.manager.listActive()
	if len(sessions) == 0 {
		return textResult("No active sessions")
	}
	var b strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&b, "pid=%d blocked=%t runtimeMs=%d\n", s.pid, s.isBlocked, s.runtimeMs)
	}
	return textResult(strings.TrimRight(b.String(), "\n"))
}
