package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/glare/internal/negotiation"
	"github.com/1ureka/glare/internal/transport"
)

// scriptedEndpoint is a signal channel whose Watch returns a fixed error,
// or blocks until ctx is cancelled when watchErr is nil.
type scriptedEndpoint struct {
	watchErr error

	closeOnce sync.Once
	done      chan struct{}
}

func newScriptedEndpoint(watchErr error) *scriptedEndpoint {
	return &scriptedEndpoint{watchErr: watchErr, done: make(chan struct{})}
}

func (e *scriptedEndpoint) IsOpen() bool                       { return true }
func (e *scriptedEndpoint) Send(context.Context, []byte) error { return nil }
func (e *scriptedEndpoint) OnMessage(func([]byte))             {}
func (e *scriptedEndpoint) Done() <-chan struct{}              { return e.done }

func (e *scriptedEndpoint) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	return nil
}

func (e *scriptedEndpoint) Watch(ctx context.Context) error {
	if e.watchErr != nil {
		return e.watchErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func newScriptedPeer(t *testing.T, ctx context.Context, ch *scriptedEndpoint) *peer {
	t.Helper()
	p, err := newPeer(ctx, "test", ch, transport.Options{}, negotiation.Config{Role: negotiation.Polite})
	require.NoError(t, err)
	t.Cleanup(p.close)
	return p
}

func TestPeerRunReportsSignalFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reset := errors.New("ws read: connection reset")
	p := newScriptedPeer(t, ctx, newScriptedEndpoint(reset))

	err := p.run(ctx)
	require.ErrorIs(t, err, reset)

	err = sessionEnded(err)
	assert.ErrorIs(t, err, reset)
	assert.Contains(t, err.Error(), "signal channel failed")
}

func TestPeerRunCancelledIsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newScriptedPeer(t, ctx, newScriptedEndpoint(nil))

	done := make(chan error, 1)
	go func() { done <- p.run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
