package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/glare/internal/config"
	"github.com/1ureka/glare/internal/negotiation"
	"github.com/1ureka/glare/internal/signaling"
	"github.com/1ureka/glare/internal/transport"
	"github.com/1ureka/glare/internal/util"
)

// Run orchestrates a full session for cfg.Role:
//  1. Open the signal channel (WS server/dial or MQTT room)
//  2. Create the transport and coordinator
//  3. Open a data channel right away; the remote does the same, so the
//     first round is a real offer collision
//  4. Wait for a data channel to open
//  5. Optionally renegotiate on an interval
//  6. Run until Ctrl+C or the remote goes away
func Run(ctx context.Context, cfg *config.Config) error {
	if cfg.Role == config.RoleSimulate {
		return Simulate(ctx, cfg)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ── 1. Signal channel ──────────────────────────────────────────────
	ch, err := openSignal(ctx, cfg)
	if err != nil {
		return err
	}

	// ── 2. Transport & coordinator ─────────────────────────────────────
	role := cfg.NegotiationRole()
	p, err := newPeer(ctx, cfg.Side(), ch, transport.Options{ICEServers: cfg.STUN}, negotiation.Config{
		Role:   role,
		Policy: cfg.CollisionPolicy(),
	})
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to create transport: %w", err)
	}
	defer p.close()

	util.LogInfo("negotiating as %s peer (collision policy: %s)", role, cfg.CollisionPolicy())

	runErr := make(chan error, 1)
	go func() { runErr <- p.run(ctx) }()

	// ── 3. First data channel ──────────────────────────────────────────
	if err := p.openGreeting(ctx); err != nil {
		return err
	}

	// ── 4. Wait for the session ────────────────────────────────────────
	select {
	case <-p.tr.Ready():
		util.LogSuccess("P2P session established")
	case err := <-runErr:
		return sessionEnded(err)
	case <-p.tr.Done():
		return errors.New("peer connection failed before a data channel opened")
	case <-ctx.Done():
		return nil
	}

	util.StartStatsReporter(ctx)

	// ── 5. Renegotiation ticker ────────────────────────────────────────
	if cfg.Renegotiate > 0 {
		go renegotiate(ctx, p, cfg.Renegotiate)
	}

	// ── 6. Block until shutdown ────────────────────────────────────────
	select {
	case err := <-runErr:
		return sessionEnded(err)
	case <-p.tr.Done():
		util.LogWarning("peer connection closed")
		return nil
	case <-ctx.Done():
		return nil
	}
}

// openSignal connects the signal channel selected by cfg.
func openSignal(ctx context.Context, cfg *config.Config) (signaling.Endpoint, error) {
	if cfg.Signal == config.SignalMQTT {
		if cfg.MQTT.Room == "" {
			cfg.MQTT.Room = config.NewRoomName()
			util.LogInfo("no room configured, created %q (join with --signal mqtt --room %s)", cfg.MQTT.Room, cfg.MQTT.Room)
		}
		ch, err := signaling.DialMQTT(ctx, signaling.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			Room:     cfg.MQTT.Room,
			Side:     cfg.Side(),
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			return nil, err
		}
		return ch, nil
	}

	if cfg.Role == config.RoleClient {
		ch, err := signaling.EstablishAsClient(ctx, cfg.WS.URL)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}

	ch, err := signaling.EstablishAsHost(ctx, cfg.WS.Listen)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// renegotiate requests a fresh offer every interval. Both sides usually run
// the same interval, so these rounds collide on purpose.
func renegotiate(ctx context.Context, p *peer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.log.Debug("renegotiating (state %s)", p.coord.State())
			p.coord.NotifyNegotiationNeeded()
		case <-ctx.Done():
			return
		}
	}
}

func sessionEnded(err error) error {
	if err != nil {
		return fmt.Errorf("signal channel failed: %w", err)
	}
	util.LogWarning("remote peer left the signal channel")
	return nil
}
