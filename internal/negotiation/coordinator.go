// Package negotiation implements the perfect-negotiation coordinator. It
// decides when to emit a local offer, classifies every inbound signaling
// message as a plain update or an offer collision ("glare"), and resolves
// collisions with a fixed polite/impolite tie-break so both peers converge
// on the impolite peer's description.
//
// The coordinator only drives a Transport and a SignalChannel through their
// interfaces; it never touches SDP or ICE itself.
package negotiation

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/1ureka/glare/internal/protocol"
	"github.com/1ureka/glare/internal/util"
)

// Tuning constants.
const (
	inboxBufferSize     = 64 // inbound messages waiting for classification
	candidateBufferSize = 64 // local candidates waiting to be sent
)

// Config holds the per-peer coordinator settings.
type Config struct {
	Role         Role
	Policy       CollisionPolicy
	OfferOptions OfferOptions

	// Name tags log lines. Defaults to the role name.
	Name string

	// OnReport receives every Report the coordinator produces. It may be
	// invoked with internal locks held and must not call back into the
	// Coordinator other than its read-only accessors.
	OnReport func(Report)

	// OnStateChange observes state transitions under the same constraints
	// as OnReport.
	OnStateChange func(from, to State)
}

// Coordinator runs perfect negotiation for one Transport/SignalChannel pair.
//
// Locking: offerMu serializes offer initiation and inMu serializes inbound
// classification. mu guards the in-flight flag, its ticket and the state,
// and is held across every description-mutating transport call together
// with the send that follows it. offerMu and inMu are always taken before
// mu. Offer creation itself runs outside mu, which is where an inbound
// offer can observe an offer in flight.
type Coordinator struct {
	tr  Transport
	ch  SignalChannel
	cfg Config
	log util.Scope

	offerMu sync.Mutex
	inMu    sync.Mutex
	mu      sync.Mutex

	makingOffer atomic.Bool
	ticket      uint64 // guarded by mu; identifies the offer attempt owning makingOffer
	state       atomic.Int32

	// Guarded by inMu.
	ignoringOffer bool
	seen          []protocol.Candidate // remote candidates added since the last remote description

	needCh    chan struct{}
	inbox     chan []byte
	outbox    chan protocol.Candidate
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a coordinator and subscribes it to the transport's
// negotiation-needed notification, the channel's inbound messages and, when
// the transport is a CandidateSource, its local candidates. Events queue up
// until Run is called.
func New(tr Transport, ch SignalChannel, cfg Config) *Coordinator {
	name := cfg.Name
	if name == "" {
		name = cfg.Role.String()
	}

	c := &Coordinator{
		tr:     tr,
		ch:     ch,
		cfg:    cfg,
		log:    util.Scoped(name),
		needCh: make(chan struct{}, 1),
		inbox:  make(chan []byte, inboxBufferSize),
		outbox: make(chan protocol.Candidate, candidateBufferSize),
		closed: make(chan struct{}),
	}

	tr.OnNegotiationNeeded(c.NotifyNegotiationNeeded)
	ch.OnMessage(c.Deliver)
	if src, ok := tr.(CandidateSource); ok {
		src.OnLocalCandidate(c.queueCandidate)
	}

	return c
}

// Role returns the fixed tie-break role.
func (c *Coordinator) Role() Role { return c.cfg.Role }

// State returns the current logical negotiation state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// NegotiationInFlight reports whether a local offer is being created and sent.
func (c *Coordinator) NegotiationInFlight() bool { return c.makingOffer.Load() }

// ---------------------------------------------------------------------------
// Event entry points
// ---------------------------------------------------------------------------

// NotifyNegotiationNeeded schedules an offer. Repeated notifications before
// the offer loop picks one up collapse into a single offer. Never blocks.
func (c *Coordinator) NotifyNegotiationNeeded() {
	select {
	case c.needCh <- struct{}{}:
	default:
	}
}

// Deliver queues an inbound raw message for classification. It blocks while
// the inbox is full and returns immediately once Run has exited.
func (c *Coordinator) Deliver(raw []byte) {
	select {
	case c.inbox <- bytes.Clone(raw):
	case <-c.closed:
	}
}

// queueCandidate is the transport's local-candidate callback. It must not
// block the transport, so an overflowing queue drops the candidate.
func (c *Coordinator) queueCandidate(candidate protocol.Candidate) {
	select {
	case c.outbox <- candidate:
	default:
		c.log.Warn("local candidate queue full, dropping candidate")
	}
}

// Run processes queued negotiation-needed events, inbound messages and local
// candidates until ctx is cancelled. It must be called at most once.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.closeOnce.Do(func() { close(c.closed) })

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-c.needCh:
				c.InitiateOffer(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case raw := <-c.inbox:
				c.HandleIncoming(ctx, raw)
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case candidate := <-c.outbox:
				c.SendCandidate(ctx, candidate)
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	return nil
}

// ---------------------------------------------------------------------------
// Offer initiation
// ---------------------------------------------------------------------------

// InitiateOffer creates a local offer, applies it and sends it to the remote
// peer. A closed channel makes it a no-op. On every return path the
// in-flight flag has been released.
func (c *Coordinator) InitiateOffer(ctx context.Context) Report {
	if !c.ch.IsOpen() {
		return c.report(Report{
			Op:      OpOffer,
			Outcome: OutcomeSkipped,
			Type:    protocol.TypeOffer,
			Err:     failure(ErrChannelNotReady, "initiate offer", nil),
		})
	}

	c.offerMu.Lock()
	defer c.offerMu.Unlock()

	ticket := c.acquireOffer()
	defer c.releaseOffer(ticket)

	offer, err := c.tr.CreateOffer(ctx, c.cfg.OfferOptions)
	if err != nil {
		return c.report(Report{
			Op:      OpOffer,
			Outcome: OutcomeFailed,
			Type:    protocol.TypeOffer,
			Err:     failure(ErrDescriptionApply, "create offer", err),
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The polite side may have yielded to a remote offer while this one was
	// being created; applying it now would clobber the accepted remote offer.
	if !c.ownsOffer(ticket) {
		return c.report(Report{Op: OpOffer, Outcome: OutcomeSuperseded, Type: protocol.TypeOffer})
	}

	if err := c.tr.SetLocalDescription(ctx, offer); err != nil {
		return c.report(Report{
			Op:      OpOffer,
			Outcome: OutcomeFailed,
			Type:    protocol.TypeOffer,
			Err:     failure(ErrDescriptionApply, "apply local offer", err),
		})
	}

	if err := c.sendLocalDescription(ctx, offer); err != nil {
		return c.report(Report{Op: OpOffer, Outcome: OutcomeFailed, Type: protocol.TypeOffer, Err: err})
	}

	c.log.Debug("offer sent sdp=%s", util.Fingerprint(offer.Body))
	return c.report(Report{Op: OpOffer, Outcome: OutcomeSent, Type: protocol.TypeOffer})
}

// acquireOffer raises the in-flight flag and returns the ticket that owns it.
func (c *Coordinator) acquireOffer() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ticket++
	c.makingOffer.Store(true)
	c.transition(StateOfferInFlight)
	return c.ticket
}

// releaseOffer lowers the flag if ticket still owns it. A ticket invalidated
// by yieldOffer must not clear a newer attempt's flag.
func (c *Coordinator) releaseOffer(ticket uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ownsOffer(ticket) {
		return
	}
	c.makingOffer.Store(false)
	c.settle()
}

// ownsOffer reports whether ticket holds the flag. Caller holds mu.
func (c *Coordinator) ownsOffer(ticket uint64) bool {
	return c.ticket == ticket && c.makingOffer.Load()
}

// yieldOffer forces the flag down and invalidates the outstanding ticket.
// Caller holds mu.
func (c *Coordinator) yieldOffer() {
	if c.makingOffer.Load() {
		c.ticket++
		c.makingOffer.Store(false)
	}
}

// ---------------------------------------------------------------------------
// Inbound classification
// ---------------------------------------------------------------------------

// HandleIncoming decodes a raw signaling message and handles it. Malformed
// messages are rejected and otherwise ignored.
func (c *Coordinator) HandleIncoming(ctx context.Context, raw []byte) Report {
	msg, err := protocol.Decode(raw)
	if err != nil {
		return c.report(Report{
			Op:      OpReceive,
			Outcome: OutcomeRejected,
			Err:     failure(ErrMalformedMessage, "decode", err),
		})
	}
	return c.HandleMessage(ctx, msg)
}

// HandleMessage classifies and handles one signaling message. Calls are
// serialized: a message is never classified while another one, including a
// collision resolution, is still being handled.
func (c *Coordinator) HandleMessage(ctx context.Context, msg protocol.Message) Report {
	c.inMu.Lock()
	defer c.inMu.Unlock()

	switch msg.Kind() {
	case protocol.KindDescription:
		return c.handleDescription(ctx, *msg.Description)
	case protocol.KindCandidate:
		return c.handleCandidate(ctx, msg.Candidate)
	}

	cause := protocol.ErrEmptyMessage
	if msg.Description != nil {
		cause = protocol.ErrAmbiguousMessage
	}
	return c.report(Report{Op: OpReceive, Outcome: OutcomeRejected, Err: failure(ErrMalformedMessage, "classify", cause)})
}

// handleDescription applies a remote description, detecting and resolving
// offer collisions. Caller holds inMu.
func (c *Coordinator) handleDescription(ctx context.Context, desc protocol.Description) Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	signaling := c.tr.SignalingState()
	collision := desc.Type == protocol.TypeOffer &&
		(c.makingOffer.Load() || signaling != SignalingStateStable)

	c.log.Debug("received %s sdp=%s (signaling=%s, offer in flight=%t)",
		desc.Type, util.Fingerprint(desc.Body), signaling, c.makingOffer.Load())

	c.ignoringOffer = collision && c.cfg.Role == Impolite

	if collision {
		c.transition(StateCollisionPending)
		if c.cfg.Role == Impolite {
			c.settle()
			return c.report(Report{Op: OpDescription, Outcome: OutcomeIgnored, Type: desc.Type})
		}
		return c.deferToRemote(ctx, desc)
	}

	if err := c.tr.SetRemoteDescription(ctx, desc); err != nil {
		c.settle()
		return c.report(Report{
			Op:      OpDescription,
			Outcome: OutcomeFailed,
			Type:    desc.Type,
			Err:     failure(ErrDescriptionApply, "apply remote "+string(desc.Type), err),
		})
	}
	c.seen = nil

	if desc.Type != protocol.TypeOffer {
		c.resolve()
		return c.report(Report{Op: OpDescription, Outcome: OutcomeApplied, Type: desc.Type})
	}

	if err := c.answer(ctx); err != nil {
		c.settle()
		return c.report(Report{Op: OpDescription, Outcome: OutcomeFailed, Type: desc.Type, Err: err})
	}
	c.resolve()
	return c.report(Report{Op: OpDescription, Outcome: OutcomeAnswered, Type: desc.Type})
}

// deferToRemote is the polite side of a collision: drop the local offer,
// accept the remote one and answer it. Caller holds mu.
func (c *Coordinator) deferToRemote(ctx context.Context, desc protocol.Description) Report {
	c.yieldOffer()

	fail := func(err error) Report {
		c.settle()
		return c.report(Report{Op: OpDescription, Outcome: OutcomeFailed, Type: desc.Type, Err: err})
	}

	if c.cfg.Policy == PolicyRollback && c.tr.SignalingState() == SignalingStateHaveLocalOffer {
		if err := c.tr.Rollback(ctx); err != nil {
			return fail(failure(ErrDescriptionApply, "rollback local offer", err))
		}
	}

	if err := c.tr.SetRemoteDescription(ctx, desc); err != nil {
		return fail(failure(ErrDescriptionApply, "apply colliding offer", err))
	}
	c.seen = nil

	if err := c.answer(ctx); err != nil {
		return fail(err)
	}

	c.resolve()
	return c.report(Report{Op: OpDescription, Outcome: OutcomeDeferred, Type: desc.Type})
}

// answer creates, applies and sends a local answer. Caller holds mu.
func (c *Coordinator) answer(ctx context.Context) error {
	answer, err := c.tr.CreateAnswer(ctx)
	if err != nil {
		return failure(ErrDescriptionApply, "create answer", err)
	}
	if err := c.tr.SetLocalDescription(ctx, answer); err != nil {
		return failure(ErrDescriptionApply, "apply local answer", err)
	}
	if err := c.sendLocalDescription(ctx, answer); err != nil {
		return err
	}
	c.log.Debug("answer sent sdp=%s", util.Fingerprint(answer.Body))
	return nil
}

// handleCandidate forwards a remote candidate to the transport. Failures never
// abort negotiation. Caller holds inMu.
func (c *Coordinator) handleCandidate(ctx context.Context, candidate protocol.Candidate) Report {
	for _, prev := range c.seen {
		if prev.Equal(candidate) {
			return c.report(Report{Op: OpCandidate, Outcome: OutcomeDuplicate})
		}
	}

	if err := c.tr.AddRemoteCandidate(ctx, candidate); err != nil {
		// Candidates belonging to an offer we chose to ignore are expected to fail.
		if c.ignoringOffer {
			return c.report(Report{Op: OpCandidate, Outcome: OutcomeIgnored})
		}
		return c.report(Report{
			Op:      OpCandidate,
			Outcome: OutcomeFailed,
			Err:     failure(ErrCandidateApply, "add remote candidate", err),
		})
	}

	c.seen = append(c.seen, candidate)
	return c.report(Report{Op: OpCandidate, Outcome: OutcomeAdded})
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// SendCandidate forwards a local candidate to the remote peer. It holds the
// description lock so a candidate never overtakes its description.
func (c *Coordinator) SendCandidate(ctx context.Context, candidate protocol.Candidate) Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ch.IsOpen() {
		return c.report(Report{
			Op:      OpLocalCandidate,
			Outcome: OutcomeSkipped,
			Err:     failure(ErrChannelNotReady, "send candidate", nil),
		})
	}

	raw, err := protocol.Encode(protocol.CandidateMessage(candidate))
	if err != nil {
		return c.report(Report{
			Op:      OpLocalCandidate,
			Outcome: OutcomeFailed,
			Err:     failure(ErrMalformedMessage, "encode candidate", err),
		})
	}

	if err := c.ch.Send(ctx, raw); err != nil {
		return c.report(Report{
			Op:      OpLocalCandidate,
			Outcome: OutcomeFailed,
			Err:     failure(ErrChannelNotReady, "send candidate", err),
		})
	}
	return c.report(Report{Op: OpLocalCandidate, Outcome: OutcomeSent})
}

// sendLocalDescription sends the transport's current local description,
// falling back to applied when the transport reports none. Caller holds mu.
func (c *Coordinator) sendLocalDescription(ctx context.Context, applied protocol.Description) error {
	desc := applied
	if local := c.tr.LocalDescription(); local != nil {
		desc = *local
	}

	step := "send " + string(desc.Type)

	raw, err := protocol.Encode(protocol.DescriptionMessage(desc))
	if err != nil {
		return failure(ErrDescriptionApply, "encode "+string(desc.Type), err)
	}
	if !c.ch.IsOpen() {
		return failure(ErrChannelNotReady, step, nil)
	}
	if err := c.ch.Send(ctx, raw); err != nil {
		return failure(ErrChannelNotReady, step, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// State & reporting
// ---------------------------------------------------------------------------

// transition moves to state to. Caller holds mu.
func (c *Coordinator) transition(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	c.log.Debug("state %s → %s", from, to)
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(from, to)
	}
}

// resolve marks the round as resolved and returns to the resting state.
func (c *Coordinator) resolve() {
	c.transition(StateResolved)
	c.settle()
}

// settle returns to OfferInFlight if an offer still owns the flag, else Idle.
func (c *Coordinator) settle() {
	if c.makingOffer.Load() {
		c.transition(StateOfferInFlight)
		return
	}
	c.transition(StateIdle)
}

// report logs r, updates the stats counters and notifies the observer.
func (c *Coordinator) report(r Report) Report {
	switch r.Outcome {
	case OutcomeFailed:
		util.Stats.Failures.Add(1)
		c.log.Error("%s", r)
	case OutcomeSkipped, OutcomeRejected:
		c.log.Warn("%s", r)
	case OutcomeDeferred:
		util.Stats.CollisionsDeferred.Add(1)
		util.Stats.AnswersSent.Add(1)
		c.log.Info("offer collision: polite peer yields and answers the remote offer")
	case OutcomeIgnored:
		if r.Op == OpDescription {
			util.Stats.CollisionsIgnored.Add(1)
			c.log.Info("offer collision: impolite peer ignores the remote offer")
		} else {
			c.log.Debug("%s", r)
		}
	case OutcomeSuperseded:
		util.Stats.OffersSuperseded.Add(1)
		c.log.Info("local offer superseded by the accepted remote offer")
	default:
		c.count(r)
		c.log.Debug("%s", r)
	}

	if c.cfg.OnReport != nil {
		c.cfg.OnReport(r)
	}
	return r
}

// count updates the counters for routine outcomes.
func (c *Coordinator) count(r Report) {
	switch {
	case r.Outcome == OutcomeSent && r.Op == OpOffer:
		util.Stats.OffersSent.Add(1)
	case r.Outcome == OutcomeSent && r.Op == OpLocalCandidate:
		util.Stats.CandidatesSent.Add(1)
	case r.Outcome == OutcomeAnswered:
		util.Stats.AnswersSent.Add(1)
	case r.Outcome == OutcomeAdded:
		util.Stats.CandidatesAdded.Add(1)
	}
}
