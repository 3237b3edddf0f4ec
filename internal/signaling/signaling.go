// Package signaling provides the message pipes that carry negotiation
// messages between two peers: a PIN-gated WebSocket, an MQTT room and an
// in-memory pipe. All of them stay open for the whole session so either
// side can renegotiate at any time.
package signaling

import (
	"context"
	"fmt"

	"github.com/1ureka/glare/internal/util"
)

// Endpoint is a signal channel that can be watched and closed.
type Endpoint interface {
	IsOpen() bool
	Send(ctx context.Context, raw []byte) error
	OnMessage(fn func(raw []byte))
	Watch(ctx context.Context) error
	Close() error
	Done() <-chan struct{}
}

var (
	_ Endpoint = (*Channel)(nil)
	_ Endpoint = (*MemoryChannel)(nil)
	_ Endpoint = (*MQTTChannel)(nil)
)

// EstablishAsHost starts a WS server on addr, prints the connection banner
// and waits for the client. The listener is closed once the client is in.
func EstablishAsHost(ctx context.Context, addr string) (*Channel, error) {
	srv := NewServer(generatePIN(4))
	port, err := srv.Start(addr)
	if err != nil {
		return nil, err
	}
	defer srv.Close()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║        WebSocket Signaling Server        ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Port : %-32d ║\n", port)
	fmt.Printf("║  PIN  : %-32s ║\n", srv.PIN())
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Println("║  Client URL: ws://<host>:<port>/ws?pin=  ║")
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Println("Waiting for client...")

	ch, err := srv.WaitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	util.LogSuccess("client connected")
	return ch, nil
}

// EstablishAsClient dials the host's WS server.
func EstablishAsClient(ctx context.Context, url string) (*Channel, error) {
	fmt.Println("Connecting to Host...")
	ch, err := Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	util.LogSuccess("WS connected: %s", url)
	return ch, nil
}
