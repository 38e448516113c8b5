package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	SetLevel(LevelWarn)
	defer SetLevel(LevelInfo)

	Debugf("debug %d", 1)
	Infof("info %d", 2)
	Warnf("warn %d", 3)
	Errorf("error %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "debug 1")
	assert.NotContains(t, out, "info 2")
	assert.Contains(t, out, "[WARN] warn 3")
	assert.Contains(t, out, "[ERROR] error 4")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"":        LevelInfo,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestInitFile(t *testing.T) {
	require.NoError(t, Close())
	mu.Lock()
	isInitialized = false
	mu.Unlock()

	path := filepath.Join(t.TempDir(), "nested", "tiercache.log")
	require.NoError(t, Init(path))
	Infof("hello %s", "file")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INFO] hello file")
}
