package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/1ureka/glare/internal/util"
)

const (
	mqttQoS            = 1
	mqttInboxSize      = 64
	mqttDisconnectMs   = 250
	mqttDefaultTimeout = 10 * time.Second
)

// MQTTOptions selects the broker and the room both peers join.
type MQTTOptions struct {
	Broker   string // e.g. tcp://broker.emqx.io:1883
	Room     string
	Side     string // "host" or "client"
	Username string
	Password string
	Timeout  time.Duration // connect/subscribe/publish timeout
}

// MQTTChannel relays signal messages through an MQTT broker. Each side
// subscribes to its own topic and publishes to the other side's.
type MQTTChannel struct {
	client  mqtt.Client
	pub     string
	sub     string
	timeout time.Duration

	inbox chan []byte

	mu      sync.Mutex
	handler func([]byte)

	done      chan struct{}
	closeOnce sync.Once
}

// topic returns the topic a side listens on.
func topic(room, side string) string {
	return "glare/" + room + "/" + side
}

// otherSide returns the peer's side name.
func otherSide(side string) string {
	if side == "host" {
		return "client"
	}
	return "host"
}

// DialMQTT connects to the broker and subscribes to this side's topic.
func DialMQTT(ctx context.Context, opts MQTTOptions) (*MQTTChannel, error) {
	if opts.Broker == "" || opts.Room == "" {
		return nil, errors.New("mqtt: broker and room are required")
	}
	if opts.Side != "host" && opts.Side != "client" {
		return nil, fmt.Errorf("mqtt: unknown side %q", opts.Side)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = mqttDefaultTimeout
	}

	m := &MQTTChannel{
		pub:     topic(opts.Room, otherSide(opts.Side)),
		sub:     topic(opts.Room, opts.Side),
		timeout: timeout,
		inbox:   make(chan []byte, mqttInboxSize),
		done:    make(chan struct{}),
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID("glare-" + uuid.NewString())
	clientOpts.SetCleanSession(true)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectTimeout(timeout)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		util.LogWarning("MQTT connection lost: %v", err)
	})

	m.client = mqtt.NewClient(clientOpts)
	if err := m.await(ctx, m.client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", err)
	}

	if err := m.await(ctx, m.client.Subscribe(m.sub, mqttQoS, m.receive)); err != nil {
		m.client.Disconnect(mqttDisconnectMs)
		return nil, fmt.Errorf("subscribe failed: %w", err)
	}

	util.LogSuccess("MQTT joined room %q as %s", opts.Room, opts.Side)
	return m, nil
}

// await waits for a paho token, bounded by ctx and the channel timeout.
func (m *MQTTChannel) await(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receive runs on paho's router goroutine; a full inbox stalls delivery.
func (m *MQTTChannel) receive(_ mqtt.Client, msg mqtt.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	select {
	case m.inbox <- payload:
	case <-m.done:
	}
}

func (m *MQTTChannel) IsOpen() bool {
	select {
	case <-m.done:
		return false
	default:
		return m.client.IsConnectionOpen()
	}
}

func (m *MQTTChannel) Done() <-chan struct{} { return m.done }

func (m *MQTTChannel) OnMessage(fn func([]byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// Send publishes raw to the peer's topic with QoS 1.
func (m *MQTTChannel) Send(ctx context.Context, raw []byte) error {
	if !m.IsOpen() {
		return ErrClosed
	}
	if err := m.await(ctx, m.client.Publish(m.pub, mqttQoS, false, raw)); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Watch dispatches inbound messages until the channel is closed or ctx is
// cancelled.
func (m *MQTTChannel) Watch(ctx context.Context) error {
	for {
		select {
		case raw := <-m.inbox:
			m.mu.Lock()
			fn := m.handler
			m.mu.Unlock()
			if fn != nil {
				fn(raw)
			}
		case <-m.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close unsubscribes and disconnects from the broker.
func (m *MQTTChannel) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		if m.client.IsConnectionOpen() {
			m.client.Unsubscribe(m.sub).WaitTimeout(m.timeout)
		}
		m.client.Disconnect(mqttDisconnectMs)
	})
	return nil
}
