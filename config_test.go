package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAssistantBinaryRejectsRelativePath(t *testing.T) {
	require.Error(t, validateAssistantBinary("./bin/claude"))
}

func TestValidateAssistantBinaryAcceptsBareNameAndAbsolutePath(t *testing.T) {
	assert.NoError(t, validateAssistantBinary("claude"))
	assert.NoError(t, validateAssistantBinary("/usr/local/bin/claude"))
	assert.NoError(t, validateAssistantBinary(""))
}

func TestConfigDurationHelpers(t *testing.T) {
	cfg := &Config{
		SigtermGraceMs:            1000,
		SweepIntervalMs:           600_000,
		DefaultCmdTimeoutMs:       30_000,
		DefaultAssistantTimeoutMs: 1_800_000,
	}

	assert.Equal(t, 1000*time.Millisecond, cfg.SigtermGrace())
	assert.Equal(t, 600*time.Second, cfg.SweepInterval())
	assert.Equal(t, 30*time.Second, cfg.DefaultCmdTimeout())
	assert.Equal(t, 1800*time.Second, cfg.DefaultAssistantTimeout())
}

func TestResolveAllowedPrefixesDefaultsWhenUnset(t *testing.T) {
	v := viper.New()
	configDefaults(v)
	prefixes := resolveAllowedPrefixes(v)
	assert.NotEmpty(t, prefixes)
	assert.Contains(t, prefixes, "ls")
}

func TestResolveAllowedPrefixesHonorsOverride(t *testing.T) {
	v := viper.New()
	configDefaults(v)
	v.Set("allowed_commands", "foo,bar baz")
	prefixes := resolveAllowedPrefixes(v)
	assert.Equal(t, []string{"foo", "bar baz"}, prefixes)
}
