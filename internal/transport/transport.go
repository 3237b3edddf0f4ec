// Package transport adapts a pion PeerConnection to the negotiation
// coordinator's Transport and CandidateSource interfaces, and exposes the
// session's data channels as Streams.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/glare/internal/negotiation"
	"github.com/1ureka/glare/internal/protocol"
	"github.com/1ureka/glare/internal/util"
)

var (
	_ negotiation.Transport       = (*Transport)(nil)
	_ negotiation.CandidateSource = (*Transport)(nil)
)

// Transport wraps a single PeerConnection and the data channels opened on it.
//
// Its lifecycle is governed by the context passed at construction time and
// the PeerConnection state: a failed or closed connection ends it.
type Transport struct {
	pc    *webrtc.PeerConnection
	offer offerHold
	log   util.Scope

	readySignal chan struct{}
	readyOnce   sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	pcState     webrtc.PeerConnectionState
	candidateFn func(protocol.Candidate)
	streamFn    func(*Stream)
	streams     []*Stream
}

// New creates a Transport backed by a new PeerConnection. No data channel
// is opened; call OpenDataChannel to start negotiation.
func New(ctx context.Context, opts Options) (*Transport, error) {
	pc, err := newPeerConnection(opts)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = "transport"
	}

	tCtx, tCancel := context.WithCancel(ctx)
	t := &Transport{
		pc:          pc,
		offer:       offerHold{pc: pc},
		log:         util.Scoped(name),
		readySignal: make(chan struct{}),
		ctx:         tCtx,
		cancel:      tCancel,
		pcState:     webrtc.PeerConnectionStateNew,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.log.Info("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()

		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			tCancel()
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering; trickle needs no marker.
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			t.log.Warn("encode local candidate: %v", err)
			return
		}

		t.mu.RLock()
		fn := t.candidateFn
		t.mu.RUnlock()
		if fn != nil {
			fn(protocol.Candidate(data))
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.log.Debug("remote opened data channel %q", dc.Label())
		s := t.track(dc)

		t.mu.RLock()
		fn := t.streamFn
		t.mu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the first data channel opens.
func (t *Transport) Ready() <-chan struct{} {
	return t.readySignal
}

// Done returns a channel that is closed when the Transport is shut down
// (connection failed or closed, or parent context cancelled).
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the PeerConnection and every data channel on it.
func (t *Transport) Close() error {
	t.cancel()
	return t.pc.Close()
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// ---------------------------------------------------------------------------
// Data channels
// ---------------------------------------------------------------------------

// OpenDataChannel creates a data channel. On a stable connection this fires
// negotiation-needed.
func (t *Transport) OpenDataChannel(label string) (*Stream, error) {
	dc, err := t.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel %q: %w", label, err)
	}
	return t.track(dc), nil
}

// OnStream registers a callback for data channels opened by the remote peer.
func (t *Transport) OnStream(fn func(*Stream)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streamFn = fn
}

// Streams returns every data channel seen so far, local and remote.
func (t *Transport) Streams() []*Stream {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Stream(nil), t.streams...)
}

func (t *Transport) track(dc *webrtc.DataChannel) *Stream {
	s := newStream(t.ctx, dc, t.log, func(*Stream) {
		t.readyOnce.Do(func() { close(t.readySignal) })
	})

	t.mu.Lock()
	t.streams = append(t.streams, s)
	t.mu.Unlock()
	return s
}

// ---------------------------------------------------------------------------
// negotiation.Transport
// ---------------------------------------------------------------------------

// SignalingState maps pion's signaling state. A held local offer counts as
// have-local-offer.
func (t *Transport) SignalingState() negotiation.SignalingState {
	return mapSignalingState(t.offer.signalingState())
}

// LocalDescription returns the held offer, or else the pending or current
// local description including candidates gathered so far.
func (t *Transport) LocalDescription() *protocol.Description {
	sd := t.offer.localDescription()
	if sd == nil {
		return nil
	}
	desc := fromSessionDescription(*sd)
	return &desc
}

// RemoteDescription returns the pending or current remote description.
func (t *Transport) RemoteDescription() *protocol.Description {
	sd := t.pc.RemoteDescription()
	if sd == nil {
		return nil
	}
	desc := fromSessionDescription(*sd)
	return &desc
}

func (t *Transport) CreateOffer(_ context.Context, opts negotiation.OfferOptions) (protocol.Description, error) {
	var pionOpts *webrtc.OfferOptions
	if opts.ICERestart {
		pionOpts = &webrtc.OfferOptions{ICERestart: true}
	}
	sd, err := t.pc.CreateOffer(pionOpts)
	if err != nil {
		return protocol.Description{}, err
	}
	return fromSessionDescription(sd), nil
}

func (t *Transport) CreateAnswer(context.Context) (protocol.Description, error) {
	sd, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.Description{}, err
	}
	return fromSessionDescription(sd), nil
}

// SetLocalDescription applies desc. A local offer is held until its answer
// arrives; see offerHold.
func (t *Transport) SetLocalDescription(_ context.Context, desc protocol.Description) error {
	sd, err := toSessionDescription(desc)
	if err != nil {
		return err
	}
	return t.offer.setLocal(sd)
}

// SetRemoteDescription applies desc. An answer first applies the held
// offer; an offer discards it. Remote rollback is refused.
func (t *Transport) SetRemoteDescription(_ context.Context, desc protocol.Description) error {
	sd, err := toSessionDescription(desc)
	if err != nil {
		return err
	}
	return t.offer.setRemote(sd)
}

// Rollback discards the held local offer.
func (t *Transport) Rollback(context.Context) error {
	return t.offer.rollback()
}

func (t *Transport) AddRemoteCandidate(_ context.Context, candidate protocol.Candidate) error {
	init, err := decodeCandidate(candidate)
	if err != nil {
		return err
	}
	return t.pc.AddICECandidate(init)
}

// OnNegotiationNeeded runs fn on pion's operations goroutine; fn must not block.
func (t *Transport) OnNegotiationNeeded(fn func()) {
	t.pc.OnNegotiationNeeded(fn)
}

// OnLocalCandidate registers the trickle callback.
func (t *Transport) OnLocalCandidate(fn func(protocol.Candidate)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidateFn = fn
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

func mapSignalingState(s webrtc.SignalingState) negotiation.SignalingState {
	switch s {
	case webrtc.SignalingStateStable:
		return negotiation.SignalingStateStable
	case webrtc.SignalingStateHaveLocalOffer:
		return negotiation.SignalingStateHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer:
		return negotiation.SignalingStateHaveRemoteOffer
	case webrtc.SignalingStateHaveLocalPranswer:
		return negotiation.SignalingStateHaveLocalPranswer
	case webrtc.SignalingStateHaveRemotePranswer:
		return negotiation.SignalingStateHaveRemotePranswer
	case webrtc.SignalingStateClosed:
		return negotiation.SignalingStateClosed
	default:
		return negotiation.SignalingStateUnknown
	}
}

func fromSessionDescription(sd webrtc.SessionDescription) protocol.Description {
	return protocol.Description{Type: protocol.DescriptionType(sd.Type.String()), Body: sd.SDP}
}

func toSessionDescription(desc protocol.Description) (webrtc.SessionDescription, error) {
	typ := webrtc.NewSDPType(string(desc.Type))
	if typ == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported description type %q", desc.Type)
	}
	return webrtc.SessionDescription{Type: typ, SDP: desc.Body}, nil
}

// decodeCandidate accepts either an ICECandidateInit object or a bare
// candidate string.
func decodeCandidate(c protocol.Candidate) (webrtc.ICECandidateInit, error) {
	var init webrtc.ICECandidateInit

	raw := bytes.TrimSpace(c)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &init.Candidate); err != nil {
			return init, fmt.Errorf("decode candidate: %w", err)
		}
		return init, nil
	}

	if err := json.Unmarshal(raw, &init); err != nil {
		return init, fmt.Errorf("decode candidate: %w", err)
	}
	return init, nil
}
