// Package config holds the CLI configuration: defaults, an optional YAML
// file and command-line flags, applied in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/1ureka/glare/internal/negotiation"
	"github.com/1ureka/glare/internal/transport"
)

// Role represents the process role.
type Role string

const (
	RoleHost     Role = "host"
	RoleClient   Role = "client"
	RoleSimulate Role = "simulate" // two in-process peers
)

// Politeness selects the negotiation tie-break role.
type Politeness string

const (
	PolitenessAuto     Politeness = "auto" // host impolite, client polite
	PolitenessPolite   Politeness = "polite"
	PolitenessImpolite Politeness = "impolite"
)

// Signal selects the signal channel.
type Signal string

const (
	SignalWS   Signal = "ws"
	SignalMQTT Signal = "mqtt"
)

// Config stores every runtime parameter.
type Config struct {
	Role       Role       `yaml:"role"`
	Politeness Politeness `yaml:"politeness"`

	// Policy is the polite side's collision policy: rollback or overwrite.
	Policy string `yaml:"policy"`

	Signal Signal     `yaml:"signal"`
	WS     WSConfig   `yaml:"ws"`
	MQTT   MQTTConfig `yaml:"mqtt"`

	// STUN lists the ICE server URLs. Empty gathers host candidates only.
	STUN []string `yaml:"stun"`

	// Renegotiate requests a fresh offer on this interval. Zero disables.
	Renegotiate time.Duration `yaml:"renegotiate"`

	// Latency is the simulated signaling delay in simulate mode.
	Latency time.Duration `yaml:"latency"`

	Debug bool `yaml:"debug"`
}

// WSConfig configures the WebSocket signal channel.
type WSConfig struct {
	// Listen is the host's listen address. ":0" picks a random port.
	Listen string `yaml:"listen"`

	// URL is the client's dial URL including ?pin=.
	URL string `yaml:"url"`
}

// MQTTConfig configures the MQTT signal channel.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Room     string `yaml:"room"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns the configuration used when neither a file nor flags
// override a field.
func Default() *Config {
	return &Config{
		Role:       RoleHost,
		Politeness: PolitenessAuto,
		Policy:     negotiation.PolicyRollback.String(),
		Signal:     SignalWS,
		WS:         WSConfig{Listen: ":0"},
		MQTT:       MQTTConfig{Broker: "tcp://broker.emqx.io:1883"},
		STUN:       append([]string(nil), transport.DefaultSTUNServers...),
		Latency:    20 * time.Millisecond,
	}
}

// LoadFile merges a YAML file over the defaults. ${VAR} references in the
// MQTT credentials are expanded from the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.MQTT.Username = os.ExpandEnv(cfg.MQTT.Username)
	cfg.MQTT.Password = os.ExpandEnv(cfg.MQTT.Password)
	return cfg, nil
}

// AddFlags binds every field to a flag, using the current values as flag
// defaults so flags override whatever was loaded before.
func (c *Config) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar((*string)(&c.Role), "role", string(c.Role), "host, client or simulate")
	flagSet.StringVar((*string)(&c.Politeness), "politeness", string(c.Politeness), "auto, polite or impolite")
	flagSet.StringVar(&c.Policy, "policy", c.Policy, "collision policy of the polite side: rollback or overwrite")
	flagSet.StringVar((*string)(&c.Signal), "signal", string(c.Signal), "signal channel: ws or mqtt")
	flagSet.StringVar(&c.WS.Listen, "listen", c.WS.Listen, "host: WebSocket listen address")
	flagSet.StringVar(&c.WS.URL, "url", c.WS.URL, "client: WebSocket URL including ?pin=")
	flagSet.StringVar(&c.MQTT.Broker, "mqtt-broker", c.MQTT.Broker, "MQTT broker URL")
	flagSet.StringVar(&c.MQTT.Room, "room", c.MQTT.Room, "MQTT room shared by both peers")
	flagSet.StringSliceVar(&c.STUN, "stun", c.STUN, "STUN server URLs (empty for host candidates only)")
	flagSet.DurationVar(&c.Renegotiate, "renegotiate", c.Renegotiate, "request a fresh offer on this interval (0 disables)")
	flagSet.DurationVar(&c.Latency, "latency", c.Latency, "simulate: signaling delay")
	flagSet.BoolVar(&c.Debug, "debug", c.Debug, "enable debug logging")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleHost, RoleClient, RoleSimulate:
	default:
		errs = append(errs, fmt.Errorf("invalid role: %q", c.Role))
	}

	switch c.Politeness {
	case PolitenessAuto, PolitenessPolite, PolitenessImpolite:
	default:
		errs = append(errs, fmt.Errorf("invalid politeness: %q", c.Politeness))
	}

	if _, err := negotiation.ParsePolicy(c.Policy); err != nil {
		errs = append(errs, err)
	}

	if c.Role != RoleSimulate {
		switch c.Signal {
		case SignalWS:
			if c.Role == RoleClient && c.WS.URL == "" {
				errs = append(errs, errors.New("ws.url is required for the client"))
			}
		case SignalMQTT:
			if c.MQTT.Broker == "" {
				errs = append(errs, errors.New("mqtt.broker is required"))
			}
			if c.Role == RoleClient && c.MQTT.Room == "" {
				errs = append(errs, errors.New("mqtt.room is required for the client"))
			}
		default:
			errs = append(errs, fmt.Errorf("invalid signal: %q", c.Signal))
		}
	}

	if c.Renegotiate < 0 {
		errs = append(errs, errors.New("renegotiate must not be negative"))
	}
	if c.Latency < 0 {
		errs = append(errs, errors.New("latency must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// NegotiationRole resolves the tie-break role. With auto, the host is
// impolite and the client polite, so the two sides always differ.
func (c *Config) NegotiationRole() negotiation.Role {
	switch c.Politeness {
	case PolitenessPolite:
		return negotiation.Polite
	case PolitenessImpolite:
		return negotiation.Impolite
	}
	if c.Role == RoleClient {
		return negotiation.Polite
	}
	return negotiation.Impolite
}

// CollisionPolicy returns the parsed policy. Call Validate first.
func (c *Config) CollisionPolicy() negotiation.CollisionPolicy {
	policy, _ := negotiation.ParsePolicy(c.Policy)
	return policy
}

// Side names this process in a shared MQTT room.
func (c *Config) Side() string {
	if c.Role == RoleClient {
		return "client"
	}
	return "host"
}

// NewRoomName returns a random, human-readable MQTT room name such as
// "brave-quiet-otter". The host uses it when no room is configured.
func NewRoomName() string {
	return petname.Generate(3, "-")
}
