package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

var (
	errNoHeldOffer    = errors.New("no local offer to roll back")
	errRemoteRollback = errors.New("remote rollback is not supported")
)

// describer is the part of *webrtc.PeerConnection that offer/answer
// exchange goes through.
type describer interface {
	SignalingState() webrtc.SignalingState
	LocalDescription() *webrtc.SessionDescription
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
}

// offerHold keeps a local offer out of the PeerConnection until its answer
// arrives.
//
// pion v4 has no rollback: once an offer is applied the connection stays
// in have-local-offer until an answer is applied, and refuses a remote
// offer meanwhile. Holding the offer keeps pion in stable, so rolling back
// drops the held SDP and a remote offer can replace it. The held offer is
// applied right before its answer, which is also when ICE gathering starts.
type offerHold struct {
	pc describer

	mu   sync.Mutex
	held *webrtc.SessionDescription
}

// signalingState reports have-local-offer while an offer is held.
func (h *offerHold) signalingState() webrtc.SignalingState {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held != nil {
		return webrtc.SignalingStateHaveLocalOffer
	}
	return h.pc.SignalingState()
}

// localDescription returns the held offer, else pion's local description.
func (h *offerHold) localDescription() *webrtc.SessionDescription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held != nil {
		sd := *h.held
		return &sd
	}
	return h.pc.LocalDescription()
}

func (h *offerHold) setLocal(sd webrtc.SessionDescription) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sd.Type != webrtc.SDPTypeOffer {
		return h.pc.SetLocalDescription(sd)
	}
	if state := h.pc.SignalingState(); state != webrtc.SignalingStateStable {
		return fmt.Errorf("set local offer in %s", state)
	}
	// A newer offer replaces a held one.
	h.held = &sd
	return nil
}

func (h *offerHold) setRemote(sd webrtc.SessionDescription) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch sd.Type {
	case webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer:
		if h.held != nil {
			offer := *h.held
			h.held = nil
			if err := h.pc.SetLocalDescription(offer); err != nil {
				return fmt.Errorf("apply held offer: %w", err)
			}
		}
	case webrtc.SDPTypeOffer:
		// The remote offer wins over an unanswered local one.
		h.held = nil
	case webrtc.SDPTypeRollback:
		return errRemoteRollback
	}
	return h.pc.SetRemoteDescription(sd)
}

// rollback discards the held offer.
func (h *offerHold) rollback() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held == nil {
		return errNoHeldOffer
	}
	h.held = nil
	return nil
}
