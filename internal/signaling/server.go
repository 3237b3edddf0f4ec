package signaling

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/glare/internal/util"
)

const readHeaderTimeout = 5 * time.Second

// Server accepts the remote peer's signal channel on /ws. A client must
// present the server's PIN as ?pin=, and only the first one is admitted;
// later clients are closed with a policy-violation frame.
type Server struct {
	pin      string
	upgrader websocket.Upgrader
	http     *http.Server
	connCh   chan *websocket.Conn
}

// NewServer creates a server gated by pin. Call Start to listen.
func NewServer(pin string) *Server {
	s := &Server{
		pin: pin,
		upgrader: websocket.Upgrader{
			// Peers connect through tunnels and CLIs, never from a page.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		connCh: make(chan *websocket.Conn, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.admit)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	return s
}

// PIN returns the PIN clients must present.
func (s *Server) PIN() string { return s.pin }

// Start binds addr (":0" for any free port) and serves in the background.
// It returns the bound port.
func (s *Server) Start(addr string) (int, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("signaling server listen on %s: %w", addr, err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogWarning("signaling server stopped: %v", err)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, nil
}

func (s *Server) admit(w http.ResponseWriter, r *http.Request) {
	if !s.pinMatches(r.URL.Query().Get("pin")) {
		util.LogWarning("signaling client %s rejected: invalid PIN", r.RemoteAddr)
		http.Error(w, "invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		util.LogWarning("signaling client %s: upgrade failed: %v", r.RemoteAddr, err)
		return
	}

	select {
	case s.connCh <- conn:
		util.LogDebug("signaling client %s admitted", r.RemoteAddr)
	default:
		util.LogWarning("signaling client %s rejected: a peer is already connected", r.RemoteAddr)
		turnAway(conn, "already connected")
	}
}

func (s *Server) pinMatches(pin string) bool {
	return subtle.ConstantTimeCompare([]byte(pin), []byte(s.pin)) == 1
}

// turnAway closes conn with a policy-violation close frame.
func turnAway(conn *websocket.Conn, reason string) {
	frame := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second))
	_ = conn.Close()
}

// WaitForClient blocks until a client is admitted or ctx is cancelled.
func (s *Server) WaitForClient(ctx context.Context) (*Channel, error) {
	select {
	case conn := <-s.connCh:
		return newChannel(conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the listener. Channels already handed out are unaffected,
// since hijacked connections are no longer tracked by the HTTP server.
func (s *Server) Close() {
	_ = s.http.Close()
}

// generatePIN returns n random decimal digits.
func generatePIN(n int) string {
	var b strings.Builder
	b.Grow(n)
	ten := big.NewInt(10)
	for range n {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			panic(fmt.Sprintf("crypto/rand: %v", err))
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String()
}
