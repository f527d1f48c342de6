package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"SSHSpectra/internal/codec"
	"SSHSpectra/internal/config"
	"SSHSpectra/internal/model"
)

// subscription is the part of *nats.Subscription used by NATSSource.
type subscription interface {
	NextMsgWithContext(ctx context.Context) (*nats.Msg, error)
	Unsubscribe() error
}

// NATSSource receives protobuf encoded flow records from a NATS subject.
// Messages without a template header use the current template.
type NATSSource struct {
	nc     *nats.Conn
	sub    subscription
	logger log.FieldLogger

	template string
	// pending holds the first message of a new template until Negotiate.
	pending *nats.Msg
	// ready holds records decoded by Negotiate for the next Fetch.
	ready []*model.FlowRecord

	malformed atomic.Uint64
}

// NewNATSSource connects and subscribes synchronously to the configured
// subject, in the queue group when one is set.
func NewNATSSource(cfg config.NATSSourceConfig, logger log.FieldLogger) (*NATSSource, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	var sub *nats.Subscription
	if cfg.Queue != "" {
		sub, err = nc.QueueSubscribeSync(cfg.Subject, cfg.Queue)
	} else {
		sub, err = nc.SubscribeSync(cfg.Subject)
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", cfg.Subject, err)
	}
	logger.Infof("Ingest: subscribed to '%s' at %s", cfg.Subject, cfg.URL)
	src := newNATSSource(sub, logger)
	src.nc = nc
	return src, nil
}

func newNATSSource(sub subscription, logger log.FieldLogger) *NATSSource {
	return &NATSSource{sub: sub, logger: logger, template: codec.FlowTemplate}
}

// Fetch implements model.Source.
func (s *NATSSource) Fetch(ctx context.Context, max int, wait time.Duration) ([]*model.FlowRecord, error) {
	if s.pending != nil {
		return nil, ErrFormatChanged
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	out := s.ready
	s.ready = nil
	for len(out) < max {
		msg, err := s.sub.NextMsgWithContext(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return out, nil
			}
			if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
				return out, fmt.Errorf("subscription closed: %w", err)
			}
			return out, err
		}

		if t := msg.Header.Get(TemplateHeader); t != "" && t != s.template {
			s.pending = msg
			return out, ErrFormatChanged
		}
		if rec := s.decode(msg); rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *NATSSource) decode(msg *nats.Msg) *model.FlowRecord {
	rec, err := codec.DecodeFlow(msg.Data)
	if err != nil {
		s.malformed.Add(1)
		s.logger.WithError(err).Warn("Ingest: dropping undecodable flow record")
		return nil
	}
	return rec
}

// Negotiate adopts the template of the message that caused
// ErrFormatChanged. A template without the required fields is fatal.
func (s *NATSSource) Negotiate(ctx context.Context) error {
	if s.pending == nil {
		return nil
	}
	t := s.pending.Header.Get(TemplateHeader)
	if err := codec.CheckTemplate(t); err != nil {
		return fmt.Errorf("failed to negotiate flow template: %w", err)
	}
	s.logger.WithField("template", t).Info("Ingest: flow template changed")
	s.template = t
	if rec := s.decode(s.pending); rec != nil {
		s.ready = append(s.ready, rec)
	}
	s.pending = nil
	return nil
}

// Malformed returns the number of dropped payloads.
func (s *NATSSource) Malformed() uint64 {
	return s.malformed.Load()
}

// Close unsubscribes and closes the NATS connection.
func (s *NATSSource) Close() error {
	err := s.sub.Unsubscribe()
	if s.nc != nil {
		s.nc.Close()
		s.logger.Infof("Ingest: NATS connection closed, %d malformed payloads dropped", s.Malformed())
	}
	return err
}
