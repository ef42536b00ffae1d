package main

import "strings"

// isAllowed implements spec.md §4.5: ALLOW_ANY bypasses the check
// entirely; otherwise the raw command string (untokenised, including
// any pipe or redirection tokens) must start with one of the allowed
// prefixes, byte-exact and case-sensitive. This is a conservative hint,
// not a sandbox — it is evaluated against the string the shell will
// receive, not against a parsed argv.
func isAllowed(command string, cfg *Config) bool {
	if cfg.AllowAny {
		return true
	}
	trimmed := strings.TrimLeft(command, " \t")
	for _, prefix := range cfg.AllowedPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}
