package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesToFileWhenQuiet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tradewatch.log")

	require.NoError(t, Init(Config{Level: "debug", OutputFile: path, Quiet: true}))
	assert.Equal(t, path, CurrentLogFile())
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())

	WithField("component", "test").Info("hello file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "hello file"))
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(Config{Level: "chatty", Quiet: true}))
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
	assert.Empty(t, CurrentLogFile())
}
