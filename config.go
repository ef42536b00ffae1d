package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
)

// defaultAssistantBinary is the bare executable name looked up on PATH
// when ASSISTANT_BINARY_NAME is left unset.
const defaultAssistantBinary = "claude"

// defaultAllowedPrefixes is the built-in command allowlist used when
// ALLOWED_COMMANDS is unset and no override file is present. It is
// intentionally small and conservative — spec.md §4.5 documents the
// allowlist as a hint, not a sandbox.
var defaultAllowedPrefixes = []string{
	"ls", "cat", "pwd", "echo", "git status", "git diff", "git log",
	"go test", "go build", "go vet", "npm test", "npm run",
}

// Config is the immutable, process-wide configuration table from
// spec.md §3, assembled once at startup by LoadConfig and then passed
// by reference to every constructor — no mutable config singleton.
type Config struct {
	DefaultCmdTimeoutMs       int64
	DefaultAssistantTimeoutMs int64
	MaxCompleted              int
	MaxAgeMs                  int64
	SigtermGraceMs            int64
	SweepIntervalMs           int64
	MaxBuf                    int

	AllowedPrefixes []string
	AllowAny        bool

	AssistantBinary string

	OrchestratorMode bool
	Debug            bool
	LogFormat        string
}

func (c *Config) SigtermGrace() time.Duration {
	return time.Duration(c.SigtermGraceMs) * time.Millisecond
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

func (c *Config) DefaultCmdTimeout() time.Duration {
	return time.Duration(c.DefaultCmdTimeoutMs) * time.Millisecond
}

func (c *Config) DefaultAssistantTimeout() time.Duration {
	return time.Duration(c.DefaultAssistantTimeoutMs) * time.Millisecond
}

// configDefaults are spec.md §3's defaults, bound into viper before any
// environment variable or file override is consulted.
func configDefaults(v *viper.Viper) {
	v.SetDefault("default_cmd_timeout_ms", int64(30_000))
	v.SetDefault("default_assistant_timeout_ms", int64(1_800_000))
	v.SetDefault("max_completed", 100)
	v.SetDefault("max_age_ms", int64(3_600_000))
	v.SetDefault("sigterm_grace_ms", int64(1_000))
	v.SetDefault("sweep_interval_ms", int64(600_000))
	v.SetDefault("max_buf", 1_048_576)
	v.SetDefault("allow_any_commands", false)
	v.SetDefault("orchestrator_mode", false)
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "text")
}

// bindEnv wires every spec.md §3/§6 environment variable onto its
// viper key. Named explicitly (rather than AutomaticEnv) so the
// external variable names can differ from the internal key names.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"default_cmd_timeout_ms":       "DEFAULT_CMD_TIMEOUT_MS",
		"default_assistant_timeout_ms": "DEFAULT_ASSISTANT_TIMEOUT_MS",
		"max_completed":                "MAX_COMPLETED",
		"max_age_ms":                   "MAX_AGE_MS",
		"sigterm_grace_ms":             "SIGTERM_GRACE_MS",
		"sweep_interval_ms":            "SWEEP_INTERVAL_MS",
		"max_buf":                      "MAX_BUF",
		"allowed_commands":             "ALLOWED_COMMANDS",
		"allow_any_commands":           "ALLOW_ALL_COMMANDS",
		"assistant_binary":             "ASSISTANT_BINARY_NAME",
		"orchestrator_mode":            "ORCHESTRATOR_MODE",
		"debug":                        "DEBUG",
		"log_format":                   "LOG_FORMAT",
		"config_file":                  "CONFIG_FILE",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

// LoadConfig assembles the process-wide Config exactly once. configPath
// is the explicit --config flag value, if any; CONFIG_FILE is consulted
// as a fallback. File values override built-in defaults; environment
// variables override the file.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	configDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	path := configPath
	if path == "" {
		path = v.GetString("config_file")
	}
	if path == "" {
		for _, candidate := range []string{"sessionbridge.jsonc", "sessionbridge.json"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := mergeConfigFile(v, path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		DefaultCmdTimeoutMs:       v.GetInt64("default_cmd_timeout_ms"),
		DefaultAssistantTimeoutMs: v.GetInt64("default_assistant_timeout_ms"),
		MaxCompleted:              v.GetInt("max_completed"),
		MaxAgeMs:                  v.GetInt64("max_age_ms"),
		SigtermGraceMs:            v.GetInt64("sigterm_grace_ms"),
		SweepIntervalMs:           v.GetInt64("sweep_interval_ms"),
		MaxBuf:                    v.GetInt("max_buf"),
		AllowAny:                  v.GetBool("allow_any_commands"),
		AssistantBinary:           v.GetString("assistant_binary"),
		OrchestratorMode:          v.GetBool("orchestrator_mode"),
		Debug:                     v.GetBool("debug"),
		LogFormat:                 v.GetString("log_format"),
	}

	cfg.AllowedPrefixes = resolveAllowedPrefixes(v)

	if err := validateAssistantBinary(cfg.AssistantBinary); err != nil {
		return nil, err
	}
	if cfg.AssistantBinary == "" {
		resolved, err := resolveAssistantBinary()
		if err != nil {
			return nil, err
		}
		cfg.AssistantBinary = resolved
	}

	return cfg, nil
}

// mergeConfigFile reads path, pre-processing it through jsonc when it
// carries comments, and merges it into v.
func mergeConfigFile(v *viper.Viper, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".jsonc") {
		raw = jsonc.ToJSON(raw)
	}
	v.SetConfigType("json")
	if err := v.MergeConfig(strings.NewReader(string(raw))); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// resolveAllowedPrefixes implements spec.md §4.5/§3: a comma-separated
// ALLOWED_COMMANDS env var (or config key) overrides the built-in list
// wholesale; no override means the built-in defaults apply.
func resolveAllowedPrefixes(v *viper.Viper) []string {
	raw := v.GetString("allowed_commands")
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultAllowedPrefixes...)
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, p)
	}
	return out
}

// resolveAssistantBinary looks up the default assistant binary on PATH
// so startup fails fast, before any RPC arrives, if it is missing.
func resolveAssistantBinary() (string, error) {
	path, err := exec.LookPath(defaultAssistantBinary)
	if err != nil {
		return "", fmt.Errorf("assistant binary %q not found on PATH: %w", defaultAssistantBinary, err)
	}
	return path, nil
}

// validateAssistantBinary enforces spec.md §6: ASSISTANT_BINARY_NAME
// must be a bare name (no path separators) or an absolute path; a
// relative path is a fatal startup error.
func validateAssistantBinary(name string) error {
	if name == "" {
		return nil
	}
	if filepath.IsAbs(name) {
		return nil
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("ASSISTANT_BINARY_NAME must be a bare name or an absolute path, got relative path %q", name)
	}
	return nil
}
