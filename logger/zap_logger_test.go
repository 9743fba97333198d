package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/giro-sync/types"
)

func TestNewLogger_FileOutput(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "logs", "giro-sync.log")

	l, err := NewLogger(&types.LoggerConfig{
		Level:  "warn",
		Config: map[string]interface{}{"format": "json", "output": "file", "file": file},
	})
	require.NoError(t, err)

	l.Info("hidden below level")
	l.Warn("cache flush slow", zap.Int("entries", 12))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"cache flush slow"`)
	assert.Contains(t, string(data), `"entries":12`)
	assert.NotContains(t, string(data), "hidden below level")
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewLogger(&types.LoggerConfig{Config: map[string]interface{}{"format": "xml"}})
	assert.ErrorIs(t, err, types.ErrLoggerTypeUnknown)

	_, err = NewLogger(&types.LoggerConfig{Config: map[string]interface{}{"format": "json", "output": "file"}})
	assert.ErrorIs(t, err, types.ErrLogFileIsEmpty)

	_, err = NewLogger(&types.LoggerConfig{Config: map[string]interface{}{"format": "json", "output": "file", "file": "app.log"}})
	assert.ErrorIs(t, err, types.ErrLogFileWrongFormat)
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel(""))
}

func TestZapWrapper_ErrorWithErrStack(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapWrapper(zap.New(core))

	cause := errors.New("connection refused")
	l.ErrorWithErrStack("Persist failed", types.WrapError(errors.Wrap(cause, "redis replace"), "flush"),
		zap.String("backend", "redis"))
	l.ErrorWithErrStack("Nothing attached", nil)

	entries := logs.All()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "flush: redis replace: connection refused", fields["error"])
	assert.Equal(t, "redis", fields["backend"])
	assert.Contains(t, fields["stack"], "TestZapWrapper_ErrorWithErrStack")

	assert.Equal(t, "Nothing attached", entries[1].Message)
	assert.NotContains(t, entries[1].ContextMap(), "error")
}
