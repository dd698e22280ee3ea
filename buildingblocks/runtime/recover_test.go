package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct {
	log.NopLogger
	mu       sync.Mutex
	messages []string
	fields   [][]log.Field
}

func (l *testLogger) Log(_ context.Context, _ log.Level, msg string, fields ...log.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
	l.fields = append(l.fields, fields)
}

func (l *testLogger) panicLogged() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, msg := range l.messages {
		if msg == "panic recovered" {
			return true
		}
	}

	return false
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	t.Parallel()

	logger := &testLogger{}
	done := make(chan struct{})

	SafeGo(logger, "boom", func() {
		defer close(done)
		panic("boom")
	})

	<-done
	require.Eventually(t, logger.panicLogged, time.Second, 5*time.Millisecond)
}

func TestSafeGoWithContext_PassesContext(t *testing.T) {
	t.Parallel()

	type key struct{}

	ctx := context.WithValue(context.Background(), key{}, "value")
	got := make(chan any, 1)

	SafeGoWithContext(ctx, nil, "test", "ctx", func(ctx context.Context) {
		got <- ctx.Value(key{})
	})

	select {
	case v := <-got:
		assert.Equal(t, "value", v)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestRecoverAndLogWithContext_LabelsEntry(t *testing.T) {
	t.Parallel()

	logger := &testLogger{}

	func() {
		defer RecoverAndLogWithContext(context.Background(), logger, "outbox", "dispatcher")
		panic(42)
	}()

	require.True(t, logger.panicLogged())

	values := map[string]any{}
	for _, f := range logger.fields[0] {
		values[f.Key] = f.Value
	}

	assert.Equal(t, "outbox", values["component"])
	assert.Equal(t, "dispatcher", values["goroutine"])
	assert.Equal(t, "42", values["panic"])
}

func TestRecoverAndLog_NilLogger(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		defer RecoverAndLog(nil, "nil-logger")
		panic("no logger")
	})
}

func TestSafeGo_NilFunc(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		SafeGo(nil, "nil", nil)
		SafeGoWithContext(context.Background(), nil, "c", "nil", nil)
	})
}
