package signaling

import (
	"bytes"
	"context"
	"sync"
	"time"
)

const pipeBufferSize = 256

type timedMessage struct {
	raw       []byte
	deliverAt time.Time
}

// pipeState is shared by both ends; closing either end closes the pipe.
type pipeState struct {
	done chan struct{}
	once sync.Once
}

func (p *pipeState) close() { p.once.Do(func() { close(p.done) }) }

// MemoryChannel is one end of an in-process pipe. Messages arrive in send
// order after a fixed delay.
type MemoryChannel struct {
	state   *pipeState
	latency time.Duration
	inbox   chan timedMessage
	peer    *MemoryChannel

	mu      sync.Mutex
	handler func([]byte)
}

// Pipe returns two connected channels. Each message is delivered latency
// after it was sent; a zero latency delivers as soon as the receiver's Watch
// picks it up.
func Pipe(latency time.Duration) (*MemoryChannel, *MemoryChannel) {
	state := &pipeState{done: make(chan struct{})}
	a := &MemoryChannel{state: state, latency: latency, inbox: make(chan timedMessage, pipeBufferSize)}
	b := &MemoryChannel{state: state, latency: latency, inbox: make(chan timedMessage, pipeBufferSize)}
	a.peer, b.peer = b, a
	return a, b
}

func (m *MemoryChannel) IsOpen() bool {
	select {
	case <-m.state.done:
		return false
	default:
		return true
	}
}

func (m *MemoryChannel) Done() <-chan struct{} { return m.state.done }

func (m *MemoryChannel) OnMessage(fn func([]byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// Send queues raw for the peer. It blocks while the peer's inbox is full.
func (m *MemoryChannel) Send(ctx context.Context, raw []byte) error {
	if !m.IsOpen() {
		return ErrClosed
	}
	msg := timedMessage{raw: bytes.Clone(raw), deliverAt: time.Now().Add(m.latency)}
	select {
	case m.peer.inbox <- msg:
		return nil
	case <-m.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watch delivers inbound messages to the handler until the pipe is closed
// (returns nil) or ctx is cancelled.
func (m *MemoryChannel) Watch(ctx context.Context) error {
	for {
		select {
		case msg := <-m.inbox:
			if wait := time.Until(msg.deliverAt); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-m.state.done:
					timer.Stop()
					return nil
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				}
			}

			m.mu.Lock()
			fn := m.handler
			m.mu.Unlock()
			if fn != nil {
				fn(msg.raw)
			}

		case <-m.state.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes both ends.
func (m *MemoryChannel) Close() error {
	m.state.close()
	return nil
}
