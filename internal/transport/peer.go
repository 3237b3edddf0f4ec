package transport

import (
	"github.com/pion/ice/v4"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServers are used when no ICE servers are configured. No TURN:
// the tool targets direct P2P connectivity.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Options configures the underlying PeerConnection.
type Options struct {
	// ICEServers lists STUN/TURN URLs. Empty means host candidates only.
	ICEServers []string

	// IncludeLoopback gathers 127.0.0.1 candidates (in-process peers).
	IncludeLoopback bool

	// DisableMDNS stops pion from obfuscating host candidates behind .local names.
	DisableMDNS bool

	// NetworkTypes restricts candidate gathering, e.g. udp4 only.
	NetworkTypes []webrtc.NetworkType

	// LoggerFactory receives pion's internal logs. Nil bridges them into util.
	LoggerFactory logging.LoggerFactory

	// Name tags log lines.
	Name string
}

// newSettingEngine translates Options into a pion SettingEngine.
func newSettingEngine(opts Options) webrtc.SettingEngine {
	se := webrtc.SettingEngine{}

	se.LoggerFactory = opts.LoggerFactory
	if se.LoggerFactory == nil {
		se.LoggerFactory = newLoggerFactory()
	}

	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)
	if opts.DisableMDNS {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}
	if len(opts.NetworkTypes) > 0 {
		se.SetNetworkTypes(opts.NetworkTypes)
	}

	return se
}

// newPeerConnection creates a PeerConnection from opts.
func newPeerConnection(opts Options) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: opts.ICEServers},
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(newSettingEngine(opts)))
	return api.NewPeerConnection(config)
}
