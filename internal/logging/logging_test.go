package logging

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/productdevbook/lsprobe/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(config.Log{Level: "warn"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	logger.Info("hidden")
	logger.WithField("port", 8000).Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "port=8000")
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "lsprobe.log")
	logger, closer, err := New(config.Log{File: path}, nil)
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestNewDiscard(t *testing.T) {
	logger, _, err := New(config.Log{}, nil)
	require.NoError(t, err)
	assert.Equal(t, io.Discard, logger.Out)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestNewBadLevel(t *testing.T) {
	_, _, err := New(config.Log{Level: "loud"}, nil)
	assert.Error(t, err)
}

func TestValOr(t *testing.T) {
	assert.Equal(t, 5, valOr(5, 10))
	assert.Equal(t, 10, valOr(0, 10))
	assert.Equal(t, 10, valOr(-1, 10))
}
