package negotiation

import "fmt"

// State is the coordinator's logical negotiation state, layered on top of the
// transport's signaling state.
type State int32

const (
	StateIdle State = iota
	// StateOfferInFlight: a local offer is being created and sent.
	StateOfferInFlight
	// StateCollisionPending: a remote offer collided and is being resolved.
	StateCollisionPending
	// StateResolved: a description was applied (and answered if required).
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateOfferInFlight:
		return "OFFER_IN_FLIGHT"
	case StateCollisionPending:
		return "COLLISION_PENDING"
	case StateResolved:
		return "RESOLVED"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

// SignalingState mirrors the transport's offer/answer state. The coordinator
// only reads it.
type SignalingState int

const (
	SignalingStateUnknown SignalingState = iota
	SignalingStateStable
	SignalingStateHaveLocalOffer
	SignalingStateHaveRemoteOffer
	SignalingStateHaveLocalPranswer
	SignalingStateHaveRemotePranswer
	SignalingStateClosed
)

func (s SignalingState) String() string {
	switch s {
	case SignalingStateStable:
		return "stable"
	case SignalingStateHaveLocalOffer:
		return "have-local-offer"
	case SignalingStateHaveRemoteOffer:
		return "have-remote-offer"
	case SignalingStateHaveLocalPranswer:
		return "have-local-pranswer"
	case SignalingStateHaveRemotePranswer:
		return "have-remote-pranswer"
	case SignalingStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
