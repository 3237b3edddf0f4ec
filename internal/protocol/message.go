// Package protocol defines the signaling wire format exchanged between peers.
package protocol

import (
	"bytes"
	"encoding/json"
)

// DescriptionType is the type field of a session description.
type DescriptionType string

const (
	TypeOffer    DescriptionType = "offer"
	TypeAnswer   DescriptionType = "answer"
	TypeRollback DescriptionType = "rollback"
)

// Valid reports whether t is one of the types allowed on the wire.
func (t DescriptionType) Valid() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeRollback:
		return true
	}
	return false
}

// Description is a session description. Body is opaque SDP text; only Type
// is ever inspected by the negotiation logic.
type Description struct {
	Type DescriptionType `json:"type"`
	Body string          `json:"body"`
}

// Candidate is an opaque ICE candidate payload, kept as raw JSON so it can be
// forwarded without interpretation.
type Candidate json.RawMessage

// Equal reports whether two candidates carry byte-identical payloads.
func (c Candidate) Equal(other Candidate) bool {
	return bytes.Equal(c, other)
}

// Kind identifies which variant of a Message is populated.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindDescription
	KindCandidate
)

func (k Kind) String() string {
	switch k {
	case KindDescription:
		return "description"
	case KindCandidate:
		return "candidate"
	default:
		return "invalid"
	}
}

// Message is a single signaling event. Exactly one of Description or
// Candidate is set on a valid message.
type Message struct {
	Description *Description
	Candidate   Candidate
}

// DescriptionMessage wraps a session description.
func DescriptionMessage(desc Description) Message {
	return Message{Description: &desc}
}

// CandidateMessage wraps an ICE candidate.
func CandidateMessage(c Candidate) Message {
	return Message{Candidate: c}
}

// Kind returns the populated variant, or KindInvalid if zero or both are set.
func (m Message) Kind() Kind {
	hasDesc := m.Description != nil
	hasCand := len(m.Candidate) > 0
	switch {
	case hasDesc && !hasCand:
		return KindDescription
	case hasCand && !hasDesc:
		return KindCandidate
	default:
		return KindInvalid
	}
}
