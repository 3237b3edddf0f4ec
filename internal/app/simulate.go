package app

import (
	"context"
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/1ureka/glare/internal/config"
	"github.com/1ureka/glare/internal/negotiation"
	"github.com/1ureka/glare/internal/signaling"
	"github.com/1ureka/glare/internal/transport"
	"github.com/1ureka/glare/internal/util"
)

const simulateTimeout = 20 * time.Second

// Simulate runs two in-process pion peers over a memory pipe. Both open a
// data channel at the same moment, so the first round always collides. It
// prints both sides' description fingerprints once they converge, and keeps
// renegotiating on cfg.Renegotiate if set.
func Simulate(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chA, chB := signaling.Pipe(cfg.Latency)
	opts := transport.Options{
		IncludeLoopback: true,
		DisableMDNS:     true,
		NetworkTypes:    []webrtc.NetworkType{webrtc.NetworkTypeUDP4},
	}
	policy := cfg.CollisionPolicy()

	alpha, err := newPeer(ctx, "alpha", chA, opts, negotiation.Config{Role: negotiation.Impolite, Policy: policy})
	if err != nil {
		return err
	}
	defer alpha.close()

	beta, err := newPeer(ctx, "beta", chB, opts, negotiation.Config{Role: negotiation.Polite, Policy: policy})
	if err != nil {
		return err
	}
	defer beta.close()

	peers := []*peer{alpha, beta}
	for _, p := range peers {
		go func() { _ = p.run(ctx) }()
	}
	for _, p := range peers {
		if err := p.openGreeting(ctx); err != nil {
			return err
		}
	}

	if err := waitConverged(ctx, peers); err != nil {
		return err
	}
	util.LogSuccess("both peers converged")
	printFingerprints(peers)

	if cfg.Renegotiate <= 0 {
		return nil
	}

	util.StartStatsReporter(ctx)
	for _, p := range peers {
		go renegotiate(ctx, p, cfg.Renegotiate)
	}
	<-ctx.Done()
	printFingerprints(peers)
	return nil
}

// waitConverged blocks until every peer has an open data channel, a stable
// signaling state and no offer in flight.
func waitConverged(ctx context.Context, peers []*peer) error {
	ctx, cancel := context.WithTimeout(ctx, simulateTimeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		done := true
		for _, p := range peers {
			select {
			case <-p.tr.Ready():
			default:
				done = false
			}
			if p.tr.SignalingState() != negotiation.SignalingStateStable || p.coord.NegotiationInFlight() {
				done = false
			}
		}
		if done {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return errors.New("peers did not converge in time")
		}
	}
}

func printFingerprints(peers []*peer) {
	data := pterm.TableData{{"Peer", "Role", "State", "Local SDP", "Remote SDP", "Connection"}}
	for _, p := range peers {
		local, remote := p.fingerprints()
		data = append(data, []string{
			p.name,
			p.coord.Role().String(),
			p.coord.State().String(),
			local,
			remote,
			p.tr.ConnectionState().String(),
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
