package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesToRotatingFile(t *testing.T) {
	original := Logger
	t.Cleanup(func() { Logger = original })

	logFile := filepath.Join(t.TempDir(), "logs", "reminderd.log")
	require.NoError(t, Init(Config{Debug: true, File: logFile}))
	assert.Equal(t, log.DebugLevel, Logger.GetLevel())

	Info("dispatch run finished", "sent", 3)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dispatch run finished")
	assert.Contains(t, string(data), "sent=3")
}

func TestInit_DefaultLevelIsInfo(t *testing.T) {
	original := Logger
	t.Cleanup(func() { Logger = original })

	require.NoError(t, Init(Config{}))
	assert.Equal(t, log.InfoLevel, Logger.GetLevel())
}
