package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// ErrInvalidPIN is returned by Connect when the server refuses the PIN.
var ErrInvalidPIN = errors.New("signaling server rejected the PIN")

// Connect dials the given WebSocket URL and returns the channel.
// The URL should include the PIN as a query parameter, e.g.:
//
//	wss://example.devtunnels.ms/ws?pin=1234
func Connect(ctx context.Context, url string) (*Channel, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrInvalidPIN
		}
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return newChannel(conn), nil
}
