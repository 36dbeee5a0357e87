package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_RunsHooksInOrder(t *testing.T) {
	sm := NewShutdownManager(NewLogger(ErrorLevel, io.Discard), nil, time.Second)

	var order []string
	sm.Register("workers", func(context.Context) error {
		order = append(order, "workers")
		return nil
	})
	sm.Register("nil", nil)
	sm.Register("database", func(context.Context) error {
		order = append(order, "database")
		return nil
	})

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"workers", "database"}, order)
}

func TestShutdownManager_JoinsErrors(t *testing.T) {
	sm := NewShutdownManager(NewLogger(ErrorLevel, io.Discard), nil, 0)
	boom := errors.New("boom")
	ran := false
	sm.Register("first", func(context.Context) error { return boom })
	sm.Register("second", func(context.Context) error {
		ran = true
		return nil
	})

	err := sm.Shutdown(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran, "later hooks still run after a failure")
}

func TestShutdownManager_RunStopsOnContext(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(NewLogger(ErrorLevel, io.Discard), server, time.Second)

	closed := make(chan struct{})
	sm.Register("marker", func(context.Context) error {
		close(closed)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.Run(ctx, server.ListenAndServe) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	<-closed
}
