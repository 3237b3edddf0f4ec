package negotiation

import (
	"context"

	"github.com/1ureka/glare/internal/protocol"
)

// OfferOptions tune local offer creation.
type OfferOptions struct {
	ICERestart bool
}

// Transport is the session-description engine driven by the coordinator.
// Every operation may fail; the coordinator never inspects description bodies.
type Transport interface {
	SignalingState() SignalingState
	// LocalDescription returns the currently applied local description, or nil.
	LocalDescription() *protocol.Description

	CreateOffer(ctx context.Context, opts OfferOptions) (protocol.Description, error)
	CreateAnswer(ctx context.Context) (protocol.Description, error)
	SetLocalDescription(ctx context.Context, desc protocol.Description) error
	SetRemoteDescription(ctx context.Context, desc protocol.Description) error
	// Rollback reverts a local offer that the remote has not answered.
	Rollback(ctx context.Context) error
	AddRemoteCandidate(ctx context.Context, candidate protocol.Candidate) error

	// OnNegotiationNeeded registers the renegotiation notification.
	OnNegotiationNeeded(fn func())
}

// CandidateSource is implemented by transports that trickle local ICE
// candidates which must be forwarded to the remote peer.
type CandidateSource interface {
	OnLocalCandidate(fn func(protocol.Candidate))
}

// SignalChannel is the opaque message pipe between the two peers. Ordering
// and reliability are the channel's responsibility.
type SignalChannel interface {
	IsOpen() bool
	Send(ctx context.Context, raw []byte) error
	OnMessage(fn func(raw []byte))
}
