package log

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	entries []recordedEntry
}

type recordedEntry struct {
	level  Level
	msg    string
	fields []Field
}

func (l *recordingLogger) Log(_ context.Context, level Level, msg string, fields ...Field) {
	l.entries = append(l.entries, recordedEntry{level: level, msg: msg, fields: fields})
}

func (l *recordingLogger) With(...Field) Logger       { return l }
func (l *recordingLogger) WithGroup(string) Logger    { return l }
func (l *recordingLogger) Enabled(Level) bool         { return true }
func (l *recordingLogger) Sync(context.Context) error { return nil }

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
	}

	for raw, want := range cases {
		got, err := ParseLevel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestLevelString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "debug", LevelDebug.String())
	assert.Equal(t, "warn", LevelWarn.String())
	assert.Equal(t, "unknown", Level(42).String())
}

func TestSafeError(t *testing.T) {
	t.Parallel()

	logger := &recordingLogger{}
	err := errors.New("dial tcp postgres://user:secret@db:5432")

	SafeError(logger, context.Background(), "open store", err, true)
	require.Len(t, logger.entries, 1)
	assert.Equal(t, "error_type", logger.entries[0].fields[0].Key)
	assert.Equal(t, "*errors.errorString", logger.entries[0].fields[0].Value)

	SafeError(logger, context.Background(), "open store", err, false)
	require.Len(t, logger.entries, 2)
	assert.Equal(t, err, logger.entries[1].fields[0].Value)

	SafeError(logger, context.Background(), "ignored", nil, false)
	SafeError(nil, context.Background(), "ignored", err, false)
	assert.Len(t, logger.entries, 2)
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	logger := NewNop()
	logger.Log(context.Background(), LevelError, "dropped")

	assert.False(t, logger.Enabled(LevelError))
	assert.Same(t, logger, logger.With(String("k", "v")))
	assert.NoError(t, logger.Sync(context.Background()))
}
