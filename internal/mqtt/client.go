// Package mqtt bridges managed devices to an MQTT broker: device state is
// published retained and JSON set commands are routed back to the devices.
package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pixied/internal/config"
)

var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
)

// MessageHandler handles one received message. Returned errors are logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	topic   string
	handler MessageHandler
}

// Client wraps a paho client. Subscriptions are restored on reconnect and the
// availability topic is kept up to date through a retained will.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	onConnect func()
}

// Connect dials the broker. The initial connection must succeed within the
// connect timeout; later drops are retried by paho.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		topics:        Topics{Prefix: cfg.TopicPrefix},
		subscriptions: make(map[string]subscription),
	}

	opts := c.options()
	c.client = pahomqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	log.Info().
		Str("broker", brokerURL(cfg.Broker)).
		Str("client_id", cfg.Broker.ClientID).
		Msg("Connected to MQTT broker")
	return c, nil
}

func brokerURL(b config.Broker) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

func (c *Client) options() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(c.cfg.Broker))
	opts.SetClientID(c.cfg.Broker.ClientID)
	if c.cfg.Auth.Username != "" {
		opts.SetUsername(c.cfg.Auth.Username)
		opts.SetPassword(c.cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(c.cfg.Reconnect.InitialDelay.Duration())
	opts.SetMaxReconnectInterval(c.cfg.Reconnect.MaxDelay.Duration())
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	if c.cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetWill(c.topics.Status(), StatusOffline, c.qos(), true)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		log.Debug().Msg("MQTT reconnecting")
	})
	return opts
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS)
}

// Topics returns the topic layout in use.
func (c *Client) Topics() Topics {
	return c.topics
}

// SetOnConnect registers fn to run after every (re)connect, once
// subscriptions have been restored.
func (c *Client) SetOnConnect(fn func()) {
	c.subMu.Lock()
	c.onConnect = fn
	c.subMu.Unlock()
}

func (c *Client) handleConnect() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	onConnect := c.onConnect
	c.subMu.RUnlock()

	for _, sub := range subs {
		c.client.Subscribe(sub.topic, c.qos(), c.wrapHandler(sub.handler))
	}
	c.client.Publish(c.topics.Status(), c.qos(), true, StatusOnline)

	if onConnect != nil {
		onConnect()
	}
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Publish sends payload to topic and waits for the broker acknowledgement.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, c.qos(), retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic. The subscription survives reconnects.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, c.qos(), c.wrapHandler(handler))
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("MQTT handler panic recovered")
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("MQTT message rejected")
		}
	}
}

// Close publishes the offline status and disconnects.
func (c *Client) Close() {
	if c.IsConnected() {
		token := c.client.Publish(c.topics.Status(), c.qos(), true, StatusOffline)
		token.WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
	log.Info().Msg("Disconnected from MQTT broker")
}
