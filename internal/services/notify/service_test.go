package notify

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type mockExecutor struct {
	executeFunc  func(ctx context.Context, name string, args ...string) ([]byte, error)
	capturedName string
	capturedArgs []string
	calls        int
}

func (m *mockExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.calls++
	m.capturedName = name
	m.capturedArgs = args
	if m.executeFunc != nil {
		return m.executeFunc(ctx, name, args...)
	}
	return nil, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestSend_Linux(t *testing.T) {
	executor := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), executor, "linux")

	svc.Send(context.Background(), "Backup is stale", "No successful backup for 7 days")

	assert.Equal(t, "notify-send", executor.capturedName)
	assert.Contains(t, executor.capturedArgs, "Backup is stale")
}

func TestSend_Darwin(t *testing.T) {
	executor := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), executor, "darwin")

	svc.Send(context.Background(), "title", "body")

	assert.Equal(t, "osascript", executor.capturedName)
}

func TestSend_FailureIsSwallowed(t *testing.T) {
	executor := &mockExecutor{executeFunc: func(context.Context, string, ...string) ([]byte, error) {
		return []byte("no display"), errors.New("exit status 1")
	}}
	svc := NewWithExecutor(testLogger(), executor, "linux")

	// Must not panic or propagate.
	svc.Send(context.Background(), "title", "body")

	assert.Equal(t, 1, executor.calls)
}

func TestSend_UnsupportedPlatform(t *testing.T) {
	executor := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), executor, "plan9")

	svc.Send(context.Background(), "title", "body")

	assert.Zero(t, executor.calls)
}
