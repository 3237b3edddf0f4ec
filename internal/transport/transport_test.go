package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/glare/internal/negotiation"
	"github.com/1ureka/glare/internal/protocol"
	"github.com/1ureka/glare/internal/signaling"
)

func TestMapSignalingState(t *testing.T) {
	tests := []struct {
		in   webrtc.SignalingState
		want negotiation.SignalingState
	}{
		{webrtc.SignalingStateStable, negotiation.SignalingStateStable},
		{webrtc.SignalingStateHaveLocalOffer, negotiation.SignalingStateHaveLocalOffer},
		{webrtc.SignalingStateHaveRemoteOffer, negotiation.SignalingStateHaveRemoteOffer},
		{webrtc.SignalingStateHaveLocalPranswer, negotiation.SignalingStateHaveLocalPranswer},
		{webrtc.SignalingStateHaveRemotePranswer, negotiation.SignalingStateHaveRemotePranswer},
		{webrtc.SignalingStateClosed, negotiation.SignalingStateClosed},
		{webrtc.SignalingStateUnknown, negotiation.SignalingStateUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapSignalingState(tt.in), tt.in.String())
	}
}

func TestDescriptionConversion(t *testing.T) {
	sd, err := toSessionDescription(protocol.Description{Type: protocol.TypeOffer, Body: "v=0"})
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, sd.Type)
	assert.Equal(t, "v=0", sd.SDP)

	back := fromSessionDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	assert.Equal(t, protocol.Description{Type: protocol.TypeAnswer, Body: "v=0"}, back)

	_, err = toSessionDescription(protocol.Description{Type: "bogus", Body: "v=0"})
	assert.Error(t, err)
}

func TestDecodeCandidate(t *testing.T) {
	const line = "candidate:1 1 udp 2130706431 192.168.1.2 5000 typ host"

	init, err := decodeCandidate(protocol.Candidate(`{"candidate":"` + line + `","sdpMid":"0","sdpMLineIndex":0}`))
	require.NoError(t, err)
	assert.Equal(t, line, init.Candidate)
	require.NotNil(t, init.SDPMid)
	assert.Equal(t, "0", *init.SDPMid)
	require.NotNil(t, init.SDPMLineIndex)
	assert.Equal(t, uint16(0), *init.SDPMLineIndex)

	init, err = decodeCandidate(protocol.Candidate(` "` + line + `"`))
	require.NoError(t, err)
	assert.Equal(t, line, init.Candidate)
	assert.Nil(t, init.SDPMid)

	_, err = decodeCandidate(protocol.Candidate(`[1,2]`))
	assert.Error(t, err)
}

func TestSettingEngineOptions(t *testing.T) {
	pc, err := newPeerConnection(Options{IncludeLoopback: true, DisableMDNS: true})
	require.NoError(t, err)
	defer pc.Close()
	assert.Equal(t, webrtc.SignalingStateStable, pc.SignalingState())
}

// testPeer is one in-process endpoint of a real pion session.
type testPeer struct {
	tr *Transport
	c  *negotiation.Coordinator
	ch *signaling.MemoryChannel
}

func newTestPeer(t *testing.T, ctx context.Context, name string, role negotiation.Role, ch *signaling.MemoryChannel) *testPeer {
	t.Helper()
	tr, err := New(ctx, Options{
		IncludeLoopback: true,
		DisableMDNS:     true,
		NetworkTypes:    []webrtc.NetworkType{webrtc.NetworkTypeUDP4},
		Name:            name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	c := negotiation.New(tr, ch, negotiation.Config{Role: role, Name: name})
	return &testPeer{tr: tr, c: c, ch: ch}
}

func TestRealPeersSurviveGlare(t *testing.T) {
	if testing.Short() {
		t.Skip("starts two pion peer connections")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	chA, chB := signaling.Pipe(5 * time.Millisecond)
	a := newTestPeer(t, ctx, "a", negotiation.Impolite, chA)
	b := newTestPeer(t, ctx, "b", negotiation.Polite, chB)

	var wg sync.WaitGroup
	for _, p := range []*testPeer{a, b} {
		wg.Add(2)
		go func() { defer wg.Done(); _ = p.ch.Watch(ctx) }()
		go func() { defer wg.Done(); _ = p.c.Run(ctx) }()
	}

	got := make(chan string, 4)
	for _, p := range []*testPeer{a, b} {
		p.tr.OnStream(func(s *Stream) {
			s.OnMessage(func(data []byte) { got <- s.Label() + ":" + string(data) })
		})
	}

	// Both sides open a channel at once, so both fire negotiation-needed.
	streamA, err := a.tr.OpenDataChannel("from-a")
	require.NoError(t, err)
	streamB, err := b.tr.OpenDataChannel("from-b")
	require.NoError(t, err)

	for _, p := range []*testPeer{a, b} {
		select {
		case <-p.tr.Ready():
		case <-ctx.Done():
			t.Fatal("data channel never opened")
		}
	}

	require.Eventually(t, func() bool {
		return a.tr.SignalingState() == negotiation.SignalingStateStable &&
			b.tr.SignalingState() == negotiation.SignalingStateStable &&
			len(a.tr.Streams()) == 2 && len(b.tr.Streams()) == 2
	}, 15*time.Second, 20*time.Millisecond, "both channels negotiated")

	<-streamA.Open()
	<-streamB.Open()
	require.NoError(t, streamA.Send(ctx, []byte("hello")))
	require.NoError(t, streamB.Send(ctx, []byte("hi")))

	var msgs []string
	for len(msgs) < 2 {
		select {
		case m := <-got:
			msgs = append(msgs, m)
		case <-ctx.Done():
			t.Fatalf("messages not delivered, got %v", msgs)
		}
	}
	assert.ElementsMatch(t, []string{"from-a:hello", "from-b:hi"}, msgs)

	cancel()
	wg.Wait()
}
