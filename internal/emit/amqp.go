package emit

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"SSHSpectra/internal/config"
	"SSHSpectra/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	Register("amqp", func(cfg config.SinkConfig, opts Options) (model.Sink, error) {
		return NewAMQPSink(cfg.AMQP, opts.Debug, opts.Logger)
	})
}

// amqpChannel is the part of *amqp.Channel used by AMQPSink.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes results as JSON to an exchange. In reliable mode
// Flush waits for the broker to confirm every message of the batch.
type AMQPSink struct {
	conn        *amqp.Connection
	channel     amqpChannel
	cfg         config.AMQPConfig
	debug       bool
	logger      log.FieldLogger
	confirms    <-chan amqp.Confirmation
	unconfirmed int
}

// NewAMQPSink dials the broker and declares the durable exchange.
func NewAMQPSink(cfg config.AMQPConfig, debug bool, logger log.FieldLogger) (*AMQPSink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial AMQP broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	logger.Infof("Emit: declaring %q exchange (%q)", cfg.Exchange, cfg.ExchangeType)
	if err := channel.ExchangeDeclare(
		cfg.Exchange,     // name
		cfg.ExchangeType, // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // noWait
		nil,              // arguments
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	var confirms <-chan amqp.Confirmation
	if cfg.Reliable {
		confirms = channel.NotifyPublish(make(chan amqp.Confirmation, 128))
		if err := channel.Confirm(false); err != nil {
			conn.Close()
			return nil, fmt.Errorf("channel could not be put into confirm mode: %w", err)
		}
	}

	sink := newAMQPSink(channel, cfg, debug, logger, confirms)
	sink.conn = conn
	return sink, nil
}

func newAMQPSink(channel amqpChannel, cfg config.AMQPConfig, debug bool, logger log.FieldLogger, confirms <-chan amqp.Confirmation) *AMQPSink {
	return &AMQPSink{channel: channel, cfg: cfg, debug: debug, logger: logger, confirms: confirms}
}

// Send implements model.Sink.
func (s *AMQPSink) Send(_ context.Context, res *model.Result) error {
	body, err := json.Marshal(NewRecord(res, s.debug))
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	err = s.channel.Publish(
		s.cfg.Exchange,   // publish to an exchange
		s.cfg.RoutingKey, // routing key
		false,            // mandatory
		false,            // immediate
		amqp.Publishing{
			Timestamp:    time.Now(),
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	if s.confirms != nil {
		s.unconfirmed++
	}
	return nil
}

// Flush waits for the confirmations of the messages sent since the last
// Flush. Without confirm mode it returns immediately.
func (s *AMQPSink) Flush(ctx context.Context) error {
	nacked := 0
	for s.unconfirmed > 0 {
		select {
		case c, ok := <-s.confirms:
			if !ok {
				return fmt.Errorf("AMQP channel closed with %d unconfirmed messages", s.unconfirmed)
			}
			s.unconfirmed--
			if !c.Ack {
				nacked++
				s.logger.Debugf("Emit: failed delivery of delivery tag: %d", c.DeliveryTag)
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d confirmations: %w", s.unconfirmed, ctx.Err())
		}
	}
	if nacked > 0 {
		return fmt.Errorf("broker rejected %d messages", nacked)
	}
	return nil
}

// Close closes the channel and the connection.
func (s *AMQPSink) Close() error {
	err := s.channel.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
