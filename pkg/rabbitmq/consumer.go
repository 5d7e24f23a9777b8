// Package rabbitmq provides a pull-mode AMQP queue consumer.
package rabbitmq

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/illmade-knight/go-bqbridge/pkg/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Config holds the externally supplied connection parameters for the
// source queue.
type Config struct {
	Host     string
	Port     int
	VHost    string
	Queue    string
	Username string
	Password string
	// UseTLS selects amqps. The broker side of this deployment only
	// exposes the TLS listener, so it defaults on.
	UseTLS bool
	// InsecureSkipVerify disables certificate verification, matching the
	// relaxed handshake the upstream broker requires.
	InsecureSkipVerify bool
}

// LoadConfigFromEnv loads queue configuration from RABBITMQ_* environment
// variables. Host and queue name are required; the port defaults to the
// broker's TLS listener.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Host:               os.Getenv("RABBITMQ_HOST"),
		Port:               5671,
		VHost:              "/",
		Queue:              os.Getenv("RABBITMQ_QUEUE"),
		Username:           os.Getenv("RABBITMQ_USERNAME"),
		Password:           os.Getenv("RABBITMQ_PASSWORD"),
		UseTLS:             true,
		InsecureSkipVerify: true,
	}
	if cfg.Host == "" {
		return nil, errors.New("RABBITMQ_HOST environment variable not set")
	}
	if cfg.Queue == "" {
		return nil, errors.New("RABBITMQ_QUEUE environment variable not set")
	}
	if portStr := os.Getenv("RABBITMQ_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid RABBITMQ_PORT %q: %w", portStr, err)
		}
		cfg.Port = port
	}
	if vhost := os.Getenv("RABBITMQ_VHOST"); vhost != "" {
		cfg.VHost = vhost
	}
	if useTLS := os.Getenv("RABBITMQ_USE_TLS"); useTLS != "" {
		cfg.UseTLS = useTLS != "false"
	}
	if skip := os.Getenv("RABBITMQ_INSECURE_SKIP_VERIFY"); skip != "" {
		cfg.InsecureSkipVerify = skip != "false"
	}
	return cfg, nil
}

// Consumer fetches messages one at a time with basic.get semantics. It is
// intended for a single drive loop; calls are serialized internally so a
// shared channel is never used concurrently.
type Consumer struct {
	cfg    *Config
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewConsumer creates a consumer. No connection is made until Connect or
// the first FetchOne.
func NewConsumer(cfg *Config, logger zerolog.Logger) *Consumer {
	return &Consumer{
		cfg:    cfg,
		logger: logger.With().Str("component", "RabbitMQConsumer").Str("queue", cfg.Queue).Logger(),
	}
}

// Connect establishes the AMQP connection and channel. It is idempotent;
// a live connection is reused.
func (c *Consumer) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Consumer) connectLocked(ctx context.Context) error {
	if c.conn != nil && !c.conn.IsClosed() {
		if c.channel != nil && !c.channel.IsClosed() {
			return nil
		}
		// A broker soft error (e.g. basic.get on a missing queue) closes
		// only the channel. Reopen one on the live connection instead of
		// leaving every later fetch to fail on the dead channel.
		channel, err := c.conn.Channel()
		if err == nil {
			c.channel = channel
			c.logger.Warn().Msg("Channel was closed by the broker; reopened on existing connection.")
			return nil
		}
		c.logger.Warn().Err(err).Msg("Failed to reopen channel; redialing connection.")
		_ = c.conn.Close()
		c.conn = nil
		c.channel = nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     c.cfg.Host,
		Port:     c.cfg.Port,
		Username: c.cfg.Username,
		Password: c.cfg.Password,
		Vhost:    c.cfg.VHost,
	}

	var (
		conn *amqp.Connection
		err  error
	)
	if c.cfg.UseTLS {
		uri.Scheme = "amqps"
		conn, err = amqp.DialTLS(uri.String(), &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify})
	} else {
		conn, err = amqp.Dial(uri.String())
	}
	if err != nil {
		return fmt.Errorf("connecting to RabbitMQ at %s:%d: %w", c.cfg.Host, c.cfg.Port, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("opening RabbitMQ channel: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.logger.Info().Str("host", c.cfg.Host).Int("port", c.cfg.Port).Msg("Connected to RabbitMQ and created channel.")
	return nil
}

// FetchOne performs one basic.get without auto-ack. A nil message with a
// nil error signals an empty queue. The returned message's Ack and Nack
// closures wrap the delivery tag; Nack always requests requeue.
func (c *Consumer) FetchOne(ctx context.Context) (*types.ConsumedMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	delivery, ok, err := c.channel.Get(c.cfg.Queue, false)
	if err != nil {
		return nil, fmt.Errorf("basic.get on queue %s: %w", c.cfg.Queue, err)
	}
	if !ok {
		return nil, nil
	}

	id := delivery.MessageId
	if id == "" {
		id = fmt.Sprintf("delivery-%d", delivery.DeliveryTag)
	}

	msg := &types.ConsumedMessage{
		ID:      id,
		Payload: delivery.Body,
		Ack: func() {
			if ackErr := delivery.Ack(false); ackErr != nil {
				c.logger.Error().Err(ackErr).Str("msg_id", id).Msg("Failed to ack message.")
			}
		},
		Nack: func() {
			if nackErr := delivery.Nack(false, true); nackErr != nil {
				c.logger.Error().Err(nackErr).Str("msg_id", id).Msg("Failed to nack message.")
			}
		},
	}
	return msg, nil
}

// Close shuts the channel and connection down. Safe to call when never
// connected.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		c.conn = nil
		c.logger.Info().Msg("Closed RabbitMQ connection.")
	}
	return errors.Join(errs...)
}
