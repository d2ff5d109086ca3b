// Package mqtt connects panocompass to an MQTT broker: heading snapshots go
// out, and a remote renderer's camera can be driven through topics.
package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Conn is the subset of broker operations the rest of the service uses.
type Conn interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, fn func(topic string, payload []byte)) error
}

type Config struct {
	Broker   string
	ClientID string
	QoS      byte
	// ConnectTimeout bounds the initial connect.
	ConnectTimeout time.Duration
}

// Client is a paho-backed Conn. Subscriptions are remembered and issued
// again whenever the connection comes back, since the broker session is
// clean.
type Client struct {
	cfg Config
	c   paho.Client

	mu   sync.Mutex
	subs map[string]func(topic string, payload []byte)
}

func Dial(cfg Config) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "panocompass"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	client := &Client{cfg: cfg, subs: map[string]func(string, []byte){}}
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		}).
		SetOnConnectHandler(func(paho.Client) {
			client.resubscribe()
		})

	c := paho.NewClient(opts)
	client.c = c
	token := c.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
	}
	log.Printf("mqtt: connected to %s as %s", cfg.Broker, cfg.ClientID)
	return client, nil
}

func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	if c == nil {
		return fmt.Errorf("mqtt: client is nil")
	}
	token := c.c.Publish(topic, c.cfg.QoS, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Subscribe(topic string, fn func(topic string, payload []byte)) error {
	if c == nil {
		return fmt.Errorf("mqtt: client is nil")
	}
	if err := c.subscribe(topic, fn); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[topic] = fn
	c.mu.Unlock()
	log.Printf("mqtt: subscribed to %s", topic)
	return nil
}

func (c *Client) subscribe(topic string, fn func(topic string, payload []byte)) error {
	token := c.c.Subscribe(topic, c.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		fn(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}
	return nil
}

// resubscribe issues every remembered subscription again. paho calls it on
// each connect, including reconnects.
func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]func(string, []byte), len(c.subs))
	for t, fn := range c.subs {
		subs[t] = fn
	}
	c.mu.Unlock()

	for topic, fn := range subs {
		if err := c.subscribe(topic, fn); err != nil {
			log.Printf("mqtt: resubscribe: %v", err)
			continue
		}
		log.Printf("mqtt: resubscribed to %s", topic)
	}
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.c.Disconnect(250)
}
