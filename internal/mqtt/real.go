package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/pump-scheduler/internal/activation"
)

const (
	// DefaultClientID is the MQTT client identifier.
	DefaultClientID = "pump-scheduler"
	// DefaultBufferSize is how many messages are held while disconnected.
	DefaultBufferSize = 100

	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
)

// EventOffline is the retained last-will event the broker publishes if the
// connection drops without a clean disconnect.
const EventOffline = "OFFLINE"

// EventReconnected is published after the connection comes back.
const EventReconnected = "RECONNECTED"

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	BufferSize int
	Log        zerolog.Logger
	Now        func() time.Time
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are queued and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	pending   *outbox
	connected bool // has connected at least once
}

var (
	_ Publisher        = (*RealPublisher)(nil)
	_ ConnectionStatus = (*RealPublisher)(nil)
)

// WillPayload returns the last-will message registered with the broker.
func WillPayload(now time.Time) ([]byte, error) {
	return FormatSystemPayload(SystemEvent{
		Timestamp: now,
		Event:     EventOffline,
		Reason:    "connection lost",
	})
}

// NewRealPublisher creates a publisher connected to the given broker. A broker
// that is unreachable at startup is not an error; the client keeps retrying
// and messages are queued until it connects.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.ClientID == "" {
		opts.ClientID = DefaultClientID
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	will, err := WillPayload(opts.Now())
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	p := &RealPublisher{
		log:     opts.Log,
		now:     opts.Now,
		pending: newOutbox(opts.BufferSize),
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn().Err(err).Msg("mqtt connection lost")
		})

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if token.WaitTimeout(connectTimeout) {
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("connect to broker: %w", err)
		}
	} else {
		p.log.Warn().Str("broker", opts.Broker).Msg("broker not reachable yet, queueing messages")
	}

	return p, nil
}

// onConnect replays anything queued while disconnected. On every connect
// after the first it also announces the reconnection.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	msgs, dropped := p.pending.flush()
	reconnect := p.connected
	p.connected = true
	p.mu.Unlock()

	p.log.Info().Int("replayed", len(msgs)).Int("dropped", dropped).Msg("mqtt connected")
	for _, m := range msgs {
		token := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			p.log.Error().Err(token.Error()).Str("topic", m.topic).Msg("replay failed")
		}
	}

	if !reconnect {
		return
	}
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: p.now(),
		Event:     EventReconnected,
		Reason:    fmt.Sprintf("replayed %d, dropped %d", len(msgs), dropped),
	})
	if err != nil {
		return
	}
	token := c.Publish(TopicSystem, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		p.log.Error().Err(token.Error()).Msg("publish reconnected event")
	}
}

// Publish sends an activation event to the MQTT broker.
func (p *RealPublisher) Publish(event activation.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(Topic, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		if p.pending.push(pendingMsg{topic: topic, payload: payload, qos: qos, retained: retained}) &&
			p.pending.dropped == 1 {
			p.log.Warn().Int("capacity", len(p.pending.slots)).Msg("mqtt queue full, dropping oldest")
		}
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
