package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("popcatalogctl", Options{Level: "info", Out: &buf})
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	logger.Info().Str("species", "PanTro").Msg("loaded")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "loaded")
	require.Contains(t, out, "species=PanTro")
	require.Contains(t, out, "app=popcatalogctl")
	require.NotContains(t, out, "\x1b[", "non-terminal output is not coloured")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("x", Options{Level: "chatty"})
	require.Error(t, err)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv(EnvLevel, "debug")
	t.Setenv(EnvNoColor, "true")
	t.Setenv(EnvTimestamp, "1")

	opts := FromEnv(Runtime())
	require.Equal(t, "debug", opts.Level)
	require.True(t, opts.NoColor)
	require.True(t, opts.Timestamp)
}

func TestFromEnvIgnoresMalformedBooleans(t *testing.T) {
	t.Setenv(EnvNoColor, "sometimes")

	opts := FromEnv(Options{Level: "warn", NoColor: false})
	require.False(t, opts.NoColor)
	require.Equal(t, "warn", opts.Level)
}
