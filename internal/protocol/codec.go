package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage     = errors.New("message carries neither description nor candidate")
	ErrAmbiguousMessage = errors.New("message carries both description and candidate")
	ErrUnknownType      = errors.New("unknown description type")
	ErrMissingBody      = errors.New("description has no body")
)

// wireMessage is the JSON envelope sent over the signal channel.
type wireMessage struct {
	Description json.RawMessage `json:"description,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
}

// wireDescription accepts both "body" and the browser's "sdp" field name.
type wireDescription struct {
	Type DescriptionType `json:"type"`
	Body *string         `json:"body"`
	SDP  *string         `json:"sdp"`
}

// Encode serializes a Message into its JSON envelope.
func Encode(msg Message) ([]byte, error) {
	var w wireMessage

	switch msg.Kind() {
	case KindDescription:
		if !msg.Description.Type.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Description.Type)
		}
		data, err := json.Marshal(msg.Description)
		if err != nil {
			return nil, err
		}
		w.Description = data

	case KindCandidate:
		if !json.Valid(msg.Candidate) {
			return nil, errors.New("candidate is not valid JSON")
		}
		w.Candidate = json.RawMessage(msg.Candidate)

	default:
		if msg.Description != nil {
			return nil, ErrAmbiguousMessage
		}
		return nil, ErrEmptyMessage
	}

	return json.Marshal(w)
}

// Decode parses a JSON envelope into a Message. Anything other than exactly
// one populated variant is rejected.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("invalid signal message: %w", err)
	}

	hasDesc := present(w.Description)
	hasCand := present(w.Candidate)

	switch {
	case hasDesc && hasCand:
		return Message{}, ErrAmbiguousMessage
	case hasCand:
		return CandidateMessage(Candidate(bytes.Clone(w.Candidate))), nil
	case !hasDesc:
		return Message{}, ErrEmptyMessage
	}

	var wd wireDescription
	if err := json.Unmarshal(w.Description, &wd); err != nil {
		return Message{}, fmt.Errorf("invalid description: %w", err)
	}
	if !wd.Type.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, wd.Type)
	}

	desc := Description{Type: wd.Type}
	switch {
	case wd.Body != nil:
		desc.Body = *wd.Body
	case wd.SDP != nil:
		desc.Body = *wd.SDP
	}

	// A rollback carries no SDP.
	if desc.Body == "" && desc.Type != TypeRollback {
		return Message{}, fmt.Errorf("%w (type %s)", ErrMissingBody, desc.Type)
	}

	return DescriptionMessage(desc), nil
}

// present reports whether a raw field was sent with a non-null value.
func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
