package negotiation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type peer struct {
	c  *Coordinator
	tr *fakeTransport
	ch *fakeChannel
}

func newPeer(name string, role Role) *peer {
	tr := newFakeTransport(name)
	ch := &fakeChannel{}
	return &peer{c: New(tr, ch, Config{Role: role, Name: name}), tr: tr, ch: ch}
}

// pump delivers everything sent by from so far to the other peer, in order.
func pump(t *testing.T, from, to *peer) []Report {
	t.Helper()
	var out []Report
	for _, raw := range from.ch.drain() {
		out = append(out, to.c.HandleIncoming(context.Background(), raw))
	}
	return out
}

func requireConverged(t *testing.T, a, b *peer, body string) {
	t.Helper()
	sa, na := a.tr.snapshot()
	sb, nb := b.tr.snapshot()
	assert.Equal(t, SignalingStateStable, sa)
	assert.Equal(t, SignalingStateStable, sb)
	assert.Equal(t, body, na)
	assert.Equal(t, body, nb)
	assert.False(t, a.c.NegotiationInFlight())
	assert.False(t, b.c.NegotiationInFlight())
}

func TestSimultaneousOffersConvergeOnImpolite(t *testing.T) {
	tests := []struct {
		name          string
		impoliteFirst bool // whose offer is delivered first
	}{
		{"impolite offer delivered first", true},
		{"polite offer delivered first", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			a := newPeer("a", Impolite)
			b := newPeer("b", Polite)

			require.Equal(t, OutcomeSent, a.c.InitiateOffer(ctx).Outcome)
			require.Equal(t, OutcomeSent, b.c.InitiateOffer(ctx).Outcome)

			if tt.impoliteFirst {
				assert.Equal(t, []Outcome{OutcomeDeferred}, outcomes(pump(t, a, b)))
				// b's outbox now holds its stale offer followed by the answer.
				assert.Equal(t, []Outcome{OutcomeIgnored, OutcomeApplied}, outcomes(pump(t, b, a)))
			} else {
				assert.Equal(t, []Outcome{OutcomeIgnored}, outcomes(pump(t, b, a)))
				assert.Equal(t, []Outcome{OutcomeDeferred}, outcomes(pump(t, a, b)))
				assert.Equal(t, []Outcome{OutcomeApplied}, outcomes(pump(t, b, a)))
			}

			requireConverged(t, a, b, "a-offer-1")
			assert.Equal(t, 1, b.tr.rollbacks)
			assert.Zero(t, a.tr.rollbacks)
		})
	}
}

func TestMirroredRolesConvergeOnImpolite(t *testing.T) {
	ctx := context.Background()
	a := newPeer("a", Polite)
	b := newPeer("b", Impolite)

	require.Equal(t, OutcomeSent, a.c.InitiateOffer(ctx).Outcome)
	require.Equal(t, OutcomeSent, b.c.InitiateOffer(ctx).Outcome)

	assert.Equal(t, []Outcome{OutcomeIgnored}, outcomes(pump(t, a, b)))
	assert.Equal(t, []Outcome{OutcomeDeferred}, outcomes(pump(t, b, a)))
	assert.Equal(t, []Outcome{OutcomeApplied}, outcomes(pump(t, a, b)))

	requireConverged(t, a, b, "b-offer-1")
}

func TestRenegotiationAfterGlare(t *testing.T) {
	ctx := context.Background()
	a := newPeer("a", Impolite)
	b := newPeer("b", Polite)

	a.c.InitiateOffer(ctx)
	b.c.InitiateOffer(ctx)
	pump(t, a, b)
	pump(t, b, a)
	requireConverged(t, a, b, "a-offer-1")

	// The polite side gets its turn once both are stable.
	require.Equal(t, OutcomeSent, b.c.InitiateOffer(ctx).Outcome)
	assert.Equal(t, []Outcome{OutcomeAnswered}, outcomes(pump(t, b, a)))
	assert.Equal(t, []Outcome{OutcomeApplied}, outcomes(pump(t, a, b)))
	requireConverged(t, a, b, "b-offer-2")
}

func outcomes(reports []Report) []Outcome {
	out := make([]Outcome, len(reports))
	for i, r := range reports {
		out[i] = r.Outcome
	}
	return out
}

// linkedChannel delivers sent messages to the peer's handler asynchronously
// and in order.
type linkedChannel struct {
	queue chan []byte

	mu      sync.Mutex
	handler func([]byte)
}

func newLinkedPair(ctx context.Context) (*linkedChannel, *linkedChannel) {
	a := &linkedChannel{queue: make(chan []byte, 256)}
	b := &linkedChannel{queue: make(chan []byte, 256)}
	go a.forward(ctx, b)
	go b.forward(ctx, a)
	return a, b
}

func (l *linkedChannel) forward(ctx context.Context, to *linkedChannel) {
	for {
		select {
		case raw := <-l.queue:
			// Small latency so the offers cross on the wire.
			time.Sleep(time.Millisecond)
			to.mu.Lock()
			fn := to.handler
			to.mu.Unlock()
			if fn != nil {
				fn(raw)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (l *linkedChannel) IsOpen() bool { return true }

func (l *linkedChannel) Send(ctx context.Context, raw []byte) error {
	select {
	case l.queue <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *linkedChannel) OnMessage(fn func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = fn
}

func TestConcurrentGlareConverges(t *testing.T) {
	for i := range 20 {
		ctx, cancel := context.WithCancel(context.Background())

		chA, chB := newLinkedPair(ctx)
		trA, trB := newFakeTransport("a"), newFakeTransport("b")
		a := New(trA, chA, Config{Role: Impolite, Name: "a"})
		b := New(trB, chB, Config{Role: Polite, Name: "b"})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _ = a.Run(ctx) }()
		go func() { defer wg.Done(); _ = b.Run(ctx) }()

		trA.fireNegotiationNeeded()
		trB.fireNegotiationNeeded()

		ok := assert.Eventually(t, func() bool {
			sa, na := trA.snapshot()
			sb, nb := trB.snapshot()
			return sa == SignalingStateStable && sb == SignalingStateStable &&
				na != "" && na == nb &&
				!a.NegotiationInFlight() && !b.NegotiationInFlight()
		}, 2*time.Second, 5*time.Millisecond, "round %d", i)

		cancel()
		wg.Wait()
		if !ok {
			return
		}
	}
}
