// File: pkg/utils/logger_test.go
package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() { InitLogger("error", "text", "stdout", "") })

	require.NoError(t, InitLogger("debug", "json", "stderr", ""))
	assert.Equal(t, logrus.DebugLevel, GetLogger().GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, GetLogger().Formatter)
	assert.Equal(t, os.Stderr, GetLogger().Out)

	path := filepath.Join(t.TempDir(), "relayer.log")
	require.NoError(t, InitLogger("info", "text", "file", path))
	GetLogger().Info("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")

	assert.Error(t, InitLogger("loud", "json", "stdout", ""))
	assert.Error(t, InitLogger("info", "yaml", "stdout", ""))
	assert.Equal(t, logrus.InfoLevel, GetLogger().GetLevel(), "a rejected config keeps the previous logger")
}
