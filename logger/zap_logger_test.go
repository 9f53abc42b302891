package logger

import (
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-player-cache/types"
)

func newObservedWrapper(t *testing.T) (*ZapWrapper, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	wrapper, ok := NewZapWrapper(zap.New(core)).(*ZapWrapper)
	require.True(t, ok)

	return wrapper, logs
}

func TestZapWrapper_ErrorWithCause(t *testing.T) {
	t.Run("root cause surfaces as its own field", func(t *testing.T) {
		wrapper, logs := newObservedWrapper(t)

		root := pkgerrors.New("disk full")
		err := pkgerrors.Wrap(pkgerrors.Wrap(root, "write failed"), "primary store degraded")

		wrapper.ErrorWithCause("Primary write-through failed", err, zap.String("tier", "primary"))

		entries := logs.All()
		require.Len(t, entries, 1)
		assert.Equal(t, "Primary write-through failed", entries[0].Message)

		fields := entries[0].ContextMap()
		assert.Equal(t, "disk full", fields["cause"])
		assert.Equal(t, "primary", fields["tier"])
	})

	t.Run("nil error logs without a cause", func(t *testing.T) {
		wrapper, logs := newObservedWrapper(t)

		wrapper.ErrorWithCause("no cause here", nil)

		entries := logs.All()
		require.Len(t, entries, 1)
		_, hasCause := entries[0].ContextMap()["cause"]
		assert.False(t, hasCause)
	})
}

func TestNewDefaultLogger(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		log, err := NewDefaultLogger(nil)
		require.NoError(t, err)
		assert.NotNil(t, log)
	})

	t.Run("level from config", func(t *testing.T) {
		log, err := NewDefaultLogger(&types.LoggerConfig{Level: "error"})
		require.NoError(t, err)
		assert.NotNil(t, log)
	})
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("WARNING"))
	assert.Equal(t, zapcore.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("not a level"))
}
