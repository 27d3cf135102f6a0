package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/cozmo/vocal-input/internal/observability"
	"github.com/cozmo/vocal-input/internal/resilience"
)

// ErrNotConnected is returned when publishing without a broker connection
var ErrNotConnected = errors.New("mqtt: not connected")

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	BrokerURL      string // tcp://host:port
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	RetryInterval  time.Duration // wait between initial connection attempts
	ConnectTimeout time.Duration
	QoS            byte
}

// MessageHandler receives raw payloads for a subscribed topic
type MessageHandler func(topic string, payload []byte)

// MQTTClient wraps a paho client with connection retry, resubscription on
// reconnect and panic-safe callbacks.
type MQTTClient struct {
	cfg    MQTTConfig
	client mqtt.Client
	logger zerolog.Logger

	mu            sync.RWMutex
	subscriptions map[string]MessageHandler

	ready     chan struct{}
	readyOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewMQTTClient configures a client; call Start to connect
func NewMQTTClient(cfg MQTTConfig, logger zerolog.Logger) *MQTTClient {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	c := &MQTTClient{
		cfg:           cfg,
		logger:        logger.With().Str("component", "mqtt").Str("broker", cfg.BrokerURL).Logger(),
		subscriptions: make(map[string]MessageHandler),
		ready:         make(chan struct{}),
		done:          make(chan struct{}),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(cfg.RetryInterval).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			c.logger.Info().Msg("Reconnecting to broker")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c.client = mqtt.NewClient(opts)
	return c
}

// Start connects in the background, retrying every RetryInterval until it
// succeeds or ctx is cancelled.
func (c *MQTTClient) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	go func() {
		defer close(c.done)
		err := resilience.Reconnect(ctx, c.connect, &resilience.ReconnectConfig{
			MaxAttempts: 0,
			Backoff:     c.cfg.RetryInterval,
			Multiplier:  1,
			MaxBackoff:  c.cfg.RetryInterval,
			Logger:      c.logger,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Gave up connecting to broker")
		}
	}()
}

func (c *MQTTClient) connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connect timeout after %s", c.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		observability.RecordError("connect", "mqtt")
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.logger.Info().Msg("Connected to broker")
	c.readyOnce.Do(func() { close(c.ready) })

	c.mu.RLock()
	defer c.mu.RUnlock()
	for topic, handler := range c.subscriptions {
		c.subscribe(client, topic, handler)
	}
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn().Err(err).Msg("Disconnected from broker, attempting to reconnect")
	observability.RecordError("connection_lost", "mqtt")
}

// subscribe must not wait on the token: it may run inside the paho
// connect callback.
func (c *MQTTClient) subscribe(client mqtt.Client, topic string, handler MessageHandler) {
	token := client.Subscribe(topic, c.cfg.QoS, c.wrap(handler))
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Error().Err(err).Str("topic", topic).Msg("Subscribe failed")
			return
		}
		c.logger.Info().Str("topic", topic).Msg("Subscribed")
	}()
}

func (c *MQTTClient) wrap(handler MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("Error in topic callback")
				observability.RecordError("callback_panic", "mqtt")
			}
		}()
		handler(msg.Topic(), msg.Payload())
	}
}

// Subscribe registers handler for topic. The subscription is (re)applied
// on every connect, so it may be called before the broker is reachable.
func (c *MQTTClient) Subscribe(topic string, handler MessageHandler) {
	c.mu.Lock()
	c.subscriptions[topic] = handler
	c.mu.Unlock()

	if c.client.IsConnectionOpen() {
		c.subscribe(c.client, topic, handler)
	}
}

// Publish sends payload to topic and waits for the broker ack (QoS > 0)
// or the network write (QoS 0).
func (c *MQTTClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitReady blocks until the first successful connection or timeout.
// It reports whether the broker is ready.
func (c *MQTTClient) WaitReady(timeout time.Duration) bool {
	c.logger.Info().Dur("timeout", timeout).Msg("Waiting for broker to be ready")

	select {
	case <-c.ready:
		c.logger.Info().Msg("Broker is ready")
		return true
	case <-time.After(timeout):
		c.logger.Error().Dur("timeout", timeout).Msg("Timeout waiting for broker to be ready")
		return false
	}
}

// IsConnected reports whether the connection is currently up
func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Ready is a readiness check
func (c *MQTTClient) Ready(context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close stops connection attempts and disconnects
func (c *MQTTClient) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.logger.Info().Msg("MQTT client stopped")
}
