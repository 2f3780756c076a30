package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	l := LoggingConfig{Level: "warn", Format: "json", Output: path}

	logger, err := l.Logger()
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept", "session_id", "abc")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "abc", entry["session_id"])
}

func TestLoggerRejectsBadSettings(t *testing.T) {
	_, err := (&LoggingConfig{Level: "loud", Format: "text", Output: "stdout"}).Logger()
	assert.Error(t, err)

	_, err = (&LoggingConfig{Level: "info", Format: "text", Output: filepath.Join(t.TempDir(), "missing", "x.log")}).Logger()
	assert.Error(t, err)
}

func TestDefaultLogger(t *testing.T) {
	logger, err := Default().Logging.Logger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
