package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(LogConfig{Level: "DEBUG", Format: "json", Console: &buf}, "codelynx", "test")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.Level)

	l.WithComponent("engine").Info("Scan started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Scan started", entry["message"])
	assert.Equal(t, "info", entry["severity"])
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "codelynx", entry["service"])
	assert.Equal(t, "test", entry["version"])
	assert.Contains(t, entry, "caller")
}

func TestNewLoggerFileSink(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "codelynx.log")

	l, err := NewLogger(LogConfig{
		Level:         "info",
		FileLocation:  path,
		EnableConsole: true,
		Console:       &console,
	}, "codelynx", "test")
	require.NoError(t, err)

	l.Info("Tool finished")
	l.Debug("Not written")
	require.NoError(t, l.Rotate())
	require.NoError(t, l.Close())

	assert.Contains(t, console.String(), "Tool finished")
	assert.NotContains(t, console.String(), "Not written")

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "codelynx*.log"))
	require.NoError(t, err)
	var all []byte
	for _, m := range matches {
		b, err := os.ReadFile(m)
		require.NoError(t, err)
		all = append(all, b...)
	}
	assert.Contains(t, string(all), "Tool finished")
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(LogConfig{Level: "loud", Console: &buf}, "codelynx", "test")
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, l.Level)
}
