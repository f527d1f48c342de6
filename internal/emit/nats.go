package emit

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"SSHSpectra/internal/codec"
	"SSHSpectra/internal/config"
	"SSHSpectra/internal/model"
)

func init() {
	Register("nats", func(cfg config.SinkConfig, opts Options) (model.Sink, error) {
		return NewNATSSink(cfg.NATS, opts.Logger)
	})
}

// natsConn is the part of *nats.Conn used by NATSSink.
type natsConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSSink publishes protobuf encoded results to a NATS subject.
type NATSSink struct {
	nc      natsConn
	subject string
	logger  log.FieldLogger
}

// NewNATSSink connects to the NATS server.
func NewNATSSink(cfg config.NATSSinkConfig, logger log.FieldLogger) (*NATSSink, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Infof("Emit: connected to NATS server at %s", cfg.URL)
	return &NATSSink{nc: nc, subject: cfg.Subject, logger: logger}, nil
}

// Send implements model.Sink.
func (s *NATSSink) Send(_ context.Context, res *model.Result) error {
	if err := s.nc.Publish(s.subject, codec.EncodeResult(nil, res)); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}

// Flush waits until the server has processed the published results.
func (s *NATSSink) Flush(ctx context.Context) error {
	return s.nc.FlushWithContext(ctx)
}

// Close drains and closes the NATS connection.
func (s *NATSSink) Close() error {
	err := s.nc.Drain()
	s.logger.Info("Emit: NATS connection drained and closed")
	return err
}
