package ingest

import (
	"fmt"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"SSHSpectra/internal/codec"
	"SSHSpectra/internal/config"
	"SSHSpectra/internal/model"
)

// Publisher publishes flow records the way NATSSource expects them.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  log.FieldLogger
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.NATSSourceConfig, logger log.FieldLogger) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Infof("Probe: connected to NATS server at %s", cfg.URL)
	return &Publisher{nc: nc, subject: cfg.Subject, logger: logger}, nil
}

// NewFlowMsg encodes a record into a message carrying the template header.
func NewFlowMsg(subject string, rec *model.FlowRecord) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Header.Set(TemplateHeader, codec.FlowTemplate)
	msg.Data = codec.EncodeFlow(nil, rec)
	return msg
}

// Publish serializes a flow record and publishes it to the configured subject.
func (p *Publisher) Publish(rec *model.FlowRecord) error {
	return p.nc.PublishMsg(NewFlowMsg(p.subject, rec))
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.WithError(err).Warn("Probe: failed to drain NATS connection")
		}
		p.logger.Info("Probe: NATS connection drained and closed")
	}
}
