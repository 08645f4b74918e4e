package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureConsole(t *testing.T) {
	l := logrus.New()
	var buf bytes.Buffer
	closer, err := configure(l, Config{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	l.Info("hidden")
	l.WithField("leg", "L1").Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"leg":"L1"`)
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestConfigureFile(t *testing.T) {
	l := logrus.New()
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	var buf bytes.Buffer
	closer, err := configure(l, Config{Level: "bogus", File: path, MaxSizeMB: 1}, &buf)
	require.NoError(t, err)

	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	l.Info("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}
