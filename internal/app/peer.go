// Package app contains the top-level orchestration for the host, client and
// simulate roles.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/1ureka/glare/internal/negotiation"
	"github.com/1ureka/glare/internal/signaling"
	"github.com/1ureka/glare/internal/transport"
	"github.com/1ureka/glare/internal/util"
)

// peer bundles one side of a session: the pion transport, its coordinator
// and the signal channel between them and the remote side.
type peer struct {
	name  string
	tr    *transport.Transport
	coord *negotiation.Coordinator
	ch    signaling.Endpoint
	log   util.Scope
}

func newPeer(ctx context.Context, name string, ch signaling.Endpoint, opts transport.Options, ncfg negotiation.Config) (*peer, error) {
	opts.Name = name + "/pc"
	tr, err := transport.New(ctx, opts)
	if err != nil {
		return nil, err
	}

	ncfg.Name = name
	p := &peer{
		name:  name,
		tr:    tr,
		coord: negotiation.New(tr, ch, ncfg),
		ch:    ch,
		log:   util.Scoped(name),
	}

	tr.OnStream(func(s *transport.Stream) {
		s.OnMessage(func(data []byte) {
			p.log.Info("%q says: %s", s.Label(), data)
		})
	})

	return p, nil
}

// run drives the signal channel and the coordinator until ctx is cancelled
// or the signal channel goes away. It returns the channel's error, if any.
func (p *peer) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var watchErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		watchErr = p.ch.Watch(runCtx)
	}()
	go func() {
		defer wg.Done()
		_ = p.coord.Run(runCtx)
	}()

	wg.Wait()
	// A Watch error caused by the caller's cancellation is not a failure.
	if watchErr != nil && ctx.Err() == nil {
		return watchErr
	}
	return nil
}

// openGreeting opens this side's data channel, which triggers the first
// negotiation, and greets the remote peer once it is open.
func (p *peer) openGreeting(ctx context.Context) error {
	stream, err := p.tr.OpenDataChannel("glare-" + p.name)
	if err != nil {
		return err
	}

	go func() {
		select {
		case <-stream.Open():
		case <-stream.Done():
			return
		}
		msg := fmt.Sprintf("hello from the %s peer", p.coord.Role())
		if err := stream.Send(ctx, []byte(msg)); err != nil {
			p.log.Warn("greeting not sent: %v", err)
		}
	}()
	return nil
}

// fingerprints returns the local and remote description fingerprints.
func (p *peer) fingerprints() (local, remote string) {
	local, remote = "-", "-"
	if d := p.tr.LocalDescription(); d != nil {
		local = util.Fingerprint(d.Body)
	}
	if d := p.tr.RemoteDescription(); d != nil {
		remote = util.Fingerprint(d.Body)
	}
	return local, remote
}

func (p *peer) close() {
	_ = p.tr.Close()
	_ = p.ch.Close()
}
