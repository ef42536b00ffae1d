package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// assistantPreamble is prepended to the prompt when ORCHESTRATOR_MODE
// is set. Its exact wording is a cosmetic concern of orchestrator mode
// and carries no effect on the session manager's algorithms.
const assistantPreamble = "You are operating as a sub-agent invoked by an orchestrating process. Respond only to the task below.\n\n"

// orchestratorEnvKeys are stripped from the child's environment in
// orchestrator mode so a nested assistant invocation does not itself
// believe it is running under an orchestrator.
var orchestratorEnvKeys = []string{"ORCHESTRATOR_MODE", "DEBUG"}

var (
	assistantBannerOnce sync.Once
)

// emitAssistantBanner writes the first-use identification line to
// stderr exactly once per process, per spec.md §4.7.
func emitAssistantBanner(log *diagLogger, startup time.Time) {
	assistantBannerOnce.Do(func() {
		log.Infof("sessionbridge assistant tool ready (version %s, started %s)", serverVersion, startup.Format(time.RFC3339))
	})
}

// resolveWorkFolder implements spec.md §4.7 step 1: use workFolder if
// it exists, otherwise fall back to the user's home directory, warning
// to stderr whenever the caller's choice isn't honored verbatim.
func resolveWorkFolder(workFolder string, log *diagLogger) string {
	if workFolder != "" {
		if info, err := os.Stat(workFolder); err == nil && info.IsDir() {
			log.Warnf("assistant: using workFolder %s", workFolder)
			return workFolder
		}
		log.Warnf("assistant: workFolder %q does not exist, falling back to home directory", workFolder)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		log.Warnf("assistant: could not resolve home directory: %v", err)
		return "."
	}
	return home
}

// shapePrompt implements spec.md §4.7 step 2.
func shapePrompt(prompt string, cfg *Config) string {
	if cfg.OrchestratorMode {
		return assistantPreamble + prompt
	}
	return prompt
}

// assistantArgv implements spec.md §4.7 step 3: exactly three
// positional arguments, grounded on the CLI backends in the pack that
// build a "-p" + prompt argv for one-shot invocations.
func assistantArgv(shapedPrompt string) []string {
	return []string{"--dangerously-skip-permissions", "-p", shapedPrompt}
}

// assistantEnv implements spec.md §4.7 step 4: starts from the
// server's own environment and, in orchestrator mode, scrubs the keys
// that would otherwise signal orchestrator mode to a nested child and
// force-disables its debug logging.
func assistantEnv(cfg *Config) []string {
	base := os.Environ()
	if !cfg.OrchestratorMode {
		return base
	}
	out := make([]string, 0, len(base))
	for _, kv := range base {
		key := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			key = kv[:idx]
		}
		skip := false
		for _, blocked := range orchestratorEnvKeys {
			if key == blocked {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, kv)
		}
	}
	out = append(out, "DEBUG=false")
	return out
}

const detachedInitialWait = 5 * time.Second

const completedSentinel = "Process completed with exit code"

func handleAssistant(ctx context.Context, req mcp.CallToolRequest, deps *toolDeps) toolResult {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return errorResult("Missing or invalid 'prompt' argument")
	}
	workFolder := argString(req, "workFolder", "")
	wait := argBool(req, "wait", true)

	emitAssistantBanner(deps.log, serverStartup)

	cwd := resolveWorkFolder(workFolder, deps.log)
	shaped := shapePrompt(prompt, deps.cfg)
	argv := assistantArgv(shaped)
	env := assistantEnv(deps.cfg)

	if wait {
		return runAssistantBlocking(ctx, deps, argv, env, cwd)
	}
	return runAssistantDetached(ctx, deps, argv, env, cwd)
}

func runAssistantBlocking(ctx context.Context, deps *toolDeps, argv, env []string, cwd string) toolResult {
	result := deps.manager.execute(ctx, execRequest{
		Binary:      deps.cfg.AssistantBinary,
		Args:        argv,
		Cwd:         cwd,
		Env:         env,
		InitialWait: deps.cfg.DefaultAssistantTimeout(),
	})

	if result.pid == -1 {
		return errorResult(fmt.Sprintf("assistant invocation failed: %s", string(result.output)))
	}

	if !result.isBlocked {
		return textResult(string(result.output))
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errorResult(fmt.Sprintf("assistant invocation timed out after %ds", int(deps.cfg.DefaultAssistantTimeout().Seconds())))
		case <-ticker.C:
			text, ok := deps.manager.readNew(result.pid)
			if !ok {
				return textResult("")
			}
			if strings.Contains(text, completedSentinel) {
				return textResult(text)
			}
			if _, active := deps.manager.store.lookupActive(result.pid); !active {
				return textResult(text)
			}
		}
	}
}

func runAssistantDetached(ctx context.Context, deps *toolDeps, argv, env []string, cwd string) toolResult {
	result := deps.manager.execute(ctx, execRequest{
		Binary:      deps.cfg.AssistantBinary,
		Args:        argv,
		Cwd:         cwd,
		Env:         env,
		InitialWait: detachedInitialWait,
	})

	if result.pid == -1 {
		return errorResult(fmt.Sprintf("assistant invocation failed: %s", string(result.output)))
	}

	return textResult(fmt.Sprintf(
		"Claude Code task started with PID %d\n%s\nUse read_output to fetch further output.",
		result.pid, string(result.output),
	)).
		withMetadata("pid", result.pid).
		withMetadata("isRunning", result.isBlocked).
		withMetadata("startTime", time.Now().Format(time.RFC3339))
}
