package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/glare/internal/protocol"
)

// fakeTransport is an in-memory offer/answer state machine with the
// contract of transport.Transport: a local offer is held until its answer
// arrives, so Rollback discards it and a remote offer replaces it. Remote
// rollback is refused, as pion refuses it.
type fakeTransport struct {
	name string

	mu             sync.Mutex
	signaling      SignalingState
	local          *protocol.Description
	remote         *protocol.Description
	pendingLocal   *protocol.Description
	pendingRemote  *protocol.Description
	negotiated     string // offer body of the last completed exchange
	offers         int
	rollbacks       int
	candidates      []protocol.Candidate
	refuseOverwrite bool // reject a remote offer while a local one is held

	failCreateOffer error
	failCandidate   error

	// block, when non-nil, is received from inside CreateOffer.
	block   chan struct{}
	entered chan struct{}

	onNeeded func()
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{name: name, signaling: SignalingStateStable}
}

func (f *fakeTransport) SignalingState() SignalingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaling
}

func (f *fakeTransport) LocalDescription() *protocol.Description {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingLocal != nil {
		d := *f.pendingLocal
		return &d
	}
	if f.local != nil {
		d := *f.local
		return &d
	}
	return nil
}

func (f *fakeTransport) CreateOffer(ctx context.Context, _ OfferOptions) (protocol.Description, error) {
	f.mu.Lock()
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return protocol.Description{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateOffer != nil {
		return protocol.Description{}, f.failCreateOffer
	}
	f.offers++
	return protocol.Description{Type: protocol.TypeOffer, Body: fmt.Sprintf("%s-offer-%d", f.name, f.offers)}, nil
}

func (f *fakeTransport) CreateAnswer(context.Context) (protocol.Description, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaling != SignalingStateHaveRemoteOffer {
		return protocol.Description{}, fmt.Errorf("create answer in %s", f.signaling)
	}
	return protocol.Description{Type: protocol.TypeAnswer, Body: f.name + "-answer-to-" + f.pendingRemote.Body}, nil
}

func (f *fakeTransport) SetLocalDescription(_ context.Context, desc protocol.Description) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch desc.Type {
	case protocol.TypeOffer:
		if f.signaling != SignalingStateStable && f.signaling != SignalingStateHaveLocalOffer {
			return fmt.Errorf("set local offer in %s", f.signaling)
		}
		f.pendingLocal = &desc
		f.signaling = SignalingStateHaveLocalOffer
	case protocol.TypeAnswer:
		if f.signaling != SignalingStateHaveRemoteOffer {
			return fmt.Errorf("set local answer in %s", f.signaling)
		}
		f.negotiated = f.pendingRemote.Body
		f.remote, f.local = f.pendingRemote, &desc
		f.pendingRemote = nil
		f.signaling = SignalingStateStable
	default:
		return fmt.Errorf("unsupported local %s", desc.Type)
	}
	return nil
}

func (f *fakeTransport) SetRemoteDescription(_ context.Context, desc protocol.Description) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch desc.Type {
	case protocol.TypeOffer:
		switch f.signaling {
		case SignalingStateStable:
		case SignalingStateHaveLocalOffer:
			if f.refuseOverwrite {
				return errors.New("remote offer in have-local-offer")
			}
			f.pendingLocal = nil
		default:
			return fmt.Errorf("remote offer in %s", f.signaling)
		}
		f.pendingRemote = &desc
		f.signaling = SignalingStateHaveRemoteOffer
	case protocol.TypeAnswer:
		if f.signaling != SignalingStateHaveLocalOffer {
			return fmt.Errorf("remote answer in %s", f.signaling)
		}
		f.negotiated = f.pendingLocal.Body
		f.local, f.remote = f.pendingLocal, &desc
		f.pendingLocal = nil
		f.signaling = SignalingStateStable
	default:
		return fmt.Errorf("unsupported remote %s", desc.Type)
	}
	f.candidates = nil
	return nil
}

func (f *fakeTransport) Rollback(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaling != SignalingStateHaveLocalOffer {
		return fmt.Errorf("rollback in %s", f.signaling)
	}
	f.rollbacks++
	f.pendingLocal = nil
	f.signaling = SignalingStateStable
	return nil
}

func (f *fakeTransport) AddRemoteCandidate(_ context.Context, candidate protocol.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCandidate != nil {
		return f.failCandidate
	}
	if f.remote == nil && f.pendingRemote == nil {
		return errors.New("no remote description")
	}
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakeTransport) OnNegotiationNeeded(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onNeeded = fn
}

func (f *fakeTransport) fireNegotiationNeeded() {
	f.mu.Lock()
	fn := f.onNeeded
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeTransport) snapshot() (SignalingState, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaling, f.negotiated
}

// fakeChannel records sent messages and can be toggled closed.
type fakeChannel struct {
	mu      sync.Mutex
	closed  bool
	sendErr error
	sent    [][]byte
	handler func([]byte)
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeChannel) Send(_ context.Context, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), raw...))
	return nil
}

func (c *fakeChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

func (c *fakeChannel) setClosed(closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = closed
}

// drain returns and forgets everything sent so far.
func (c *fakeChannel) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.sent
	c.sent = nil
	return out
}

func (c *fakeChannel) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, 0, len(c.sent))
	for _, raw := range c.sent {
		msg, err := protocol.Decode(raw)
		if err == nil {
			out = append(out, msg)
		}
	}
	return out
}
