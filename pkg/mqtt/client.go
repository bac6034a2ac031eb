// Package mqtt pkg/mqtt/client.go
//
// Thin MQTT transport for the aggregator: one auto-reconnecting
// session that subscribes to the house telemetry filter and publishes
// retained consolidated state snapshots. All interesting state lives
// behind the message handler; this package only moves bytes.
package mqtt

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

const (
	defaultKeepAlive     = 30
	sessionExpirySeconds = 60
)

var errNotConnected = fmt.Errorf("mqtt client is not connected")

// Config holds broker connection settings.
type Config struct {
	BrokerHost string `json:"broker_host"`
	BrokerPort int    `json:"broker_port"`
	ClientID   string `json:"client_id,omitempty"`
	KeepAlive  uint16 `json:"keep_alive,omitempty"`
}

func (c *Config) Validate() error {
	if c.BrokerHost == "" {
		return fmt.Errorf("broker_host is required")
	}

	if c.BrokerPort <= 0 || c.BrokerPort > 65535 {
		return fmt.Errorf("broker_port %d is out of range", c.BrokerPort)
	}

	return nil
}

// Handler receives every inbound telemetry message. It must not block;
// the aggregation core enqueues and returns.
type Handler func(topic string, payload []byte)

// Client is the aggregator's MQTT session.
type Client struct {
	cfg     Config
	houseID string
	handler Handler

	mu sync.Mutex
	cm *autopaho.ConnectionManager
}

// NewClient builds a client for the house. A random client id is
// generated when none is configured, so multiple aggregator instances
// never collide on the broker.
func NewClient(houseID string, cfg Config, handler Handler) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = "wm-aggregator-" + uuid.NewString()[:8]
	}

	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = defaultKeepAlive
	}

	return &Client{
		cfg:     cfg,
		houseID: houseID,
		handler: handler,
	}
}

// Connect dials the broker and blocks until the first connection is
// up. Reconnects and resubscribes are handled in the background from
// then on.
func (c *Client) Connect(ctx context.Context) error {
	broker, err := url.Parse(fmt.Sprintf("mqtt://%s:%d", c.cfg.BrokerHost, c.cfg.BrokerPort))
	if err != nil {
		return fmt.Errorf("invalid broker address: %w", err)
	}

	filter := TelemetryFilter(c.houseID)

	// Connect must not return before the broker has acknowledged the
	// telemetry subscription, or an immediate publish can be lost.
	subDone := make(chan error, 1)

	clientCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{broker},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         sessionExpirySeconds,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			log.Printf("Connected to MQTT broker %s, subscribing to %s", broker.Host, filter)

			_, err := cm.Subscribe(context.Background(), &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: filter, QoS: 0},
				},
			})
			if err != nil {
				log.Printf("Subscribe failed: %v", err)
			}

			select {
			case subDone <- err:
			default:
				// Reconnect path; the initial Connect already returned.
			}
		},
		OnConnectError: func(err error) {
			log.Printf("MQTT connect error: %v", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.handler(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				log.Printf("MQTT client error: %v", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				log.Printf("MQTT server disconnect, reason code %d", d.ReasonCode)
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create MQTT connection: %w", err)
	}

	c.mu.Lock()
	c.cm = cm
	c.mu.Unlock()

	if err := cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("failed to connect to broker %s: %w", broker.Host, err)
	}

	select {
	case err := <-subDone:
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", filter, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// PublishState publishes a consolidated state snapshot, retained so
// late subscribers immediately receive the latest view.
func (c *Client) PublishState(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()

	if cm == nil {
		return errNotConnected
	}

	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:   StateTopic(c.houseID),
		QoS:     0,
		Retain:  true,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish state: %w", err)
	}

	return nil
}

// Disconnect closes the session gracefully.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cm := c.cm
	c.cm = nil
	c.mu.Unlock()

	if cm == nil {
		return nil
	}

	return cm.Disconnect(ctx)
}
