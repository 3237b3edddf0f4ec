package negotiation

import (
	"errors"
	"fmt"

	"github.com/1ureka/glare/internal/protocol"
)

// Error kinds. Failures returned in a Report wrap exactly one of these together
// with the underlying cause, so both can be matched with errors.Is.
var (
	ErrChannelNotReady  = errors.New("signal channel not ready")
	ErrDescriptionApply = errors.New("description apply failed")
	ErrCandidateApply   = errors.New("candidate apply failed")
	ErrMalformedMessage = errors.New("malformed signal message")
)

// failure builds an error of the given kind for a named step.
func failure(kind error, step string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", step, kind)
	}
	return fmt.Errorf("%s: %w: %w", step, kind, cause)
}

// Op identifies the coordinator operation a Report belongs to.
type Op uint8

const (
	OpOffer         Op = iota + 1 // local offer initiation
	OpDescription                 // inbound description
	OpCandidate                   // inbound candidate
	OpLocalCandidate              // outbound candidate
	OpReceive                     // inbound raw message before classification
)

func (o Op) String() string {
	switch o {
	case OpOffer:
		return "offer"
	case OpDescription:
		return "description"
	case OpCandidate:
		return "candidate"
	case OpLocalCandidate:
		return "local-candidate"
	case OpReceive:
		return "receive"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Outcome is the result of a single coordinator operation.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	// OutcomeSent: a local offer or candidate went out on the signal channel.
	OutcomeSent
	// OutcomeSkipped: the signal channel was closed; nothing was done.
	OutcomeSkipped
	// OutcomeSuperseded: a local offer was abandoned because the polite side yielded.
	OutcomeSuperseded
	// OutcomeApplied: a remote answer or rollback was applied.
	OutcomeApplied
	// OutcomeAnswered: a remote offer was applied and answered.
	OutcomeAnswered
	// OutcomeDeferred: polite side accepted a colliding remote offer and answered it.
	OutcomeDeferred
	// OutcomeIgnored: impolite side dropped a colliding offer (or its candidates).
	OutcomeIgnored
	// OutcomeAdded: a remote candidate was handed to the transport.
	OutcomeAdded
	// OutcomeDuplicate: a remote candidate was already added this round.
	OutcomeDuplicate
	// OutcomeRejected: the message was malformed.
	OutcomeRejected
	// OutcomeFailed: the transport or channel rejected the operation.
	OutcomeFailed
)

var outcomeNames = map[Outcome]string{
	OutcomeNone:       "none",
	OutcomeSent:       "sent",
	OutcomeSkipped:    "skipped",
	OutcomeSuperseded: "superseded",
	OutcomeApplied:    "applied",
	OutcomeAnswered:   "answered",
	OutcomeDeferred:   "deferred",
	OutcomeIgnored:    "ignored",
	OutcomeAdded:      "added",
	OutcomeDuplicate:  "duplicate",
	OutcomeRejected:   "rejected",
	OutcomeFailed:     "failed",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// Report describes what a coordinator operation did. Err is set for
// OutcomeSkipped, OutcomeRejected and OutcomeFailed.
type Report struct {
	Op      Op
	Outcome Outcome
	Type    protocol.DescriptionType // description type involved, if any
	Err     error
}

func (r Report) String() string {
	s := r.Op.String() + " " + r.Outcome.String()
	if r.Type != "" {
		s += " (" + string(r.Type) + ")"
	}
	if r.Err != nil {
		s += ": " + r.Err.Error()
	}
	return s
}
