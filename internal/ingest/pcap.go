package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"SSHSpectra/internal/config"
	"SSHSpectra/internal/model"
	"SSHSpectra/pkg/pcap"
)

// PCAPSource serves the flows of an offline capture in batches and then
// reports io.EOF.
type PCAPSource struct {
	cfg    config.PCAPSourceConfig
	logger log.FieldLogger
	flows  []*model.FlowRecord
	loaded bool
}

// NewPCAPSource checks that the capture can be opened. It is read on the
// first Fetch.
func NewPCAPSource(cfg config.PCAPSourceConfig, logger log.FieldLogger) (*PCAPSource, error) {
	r, err := pcap.NewReader(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %s: %w", cfg.Path, err)
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	return &PCAPSource{cfg: cfg, logger: logger}, nil
}

func (s *PCAPSource) load() error {
	r, err := pcap.NewReader(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open capture %s: %w", s.cfg.Path, err)
	}
	defer r.Close()

	flows, err := r.ReadFlows(pcap.AssemblerConfig{
		Ports:        s.cfg.Ports,
		MaxPackets:   s.cfg.MaxPackets,
		ContentBytes: s.cfg.ContentBytes,
	})
	if err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{
		"flows":   len(flows),
		"skipped": r.Skipped,
	}).Infof("Ingest: assembled capture %s", s.cfg.Path)
	s.flows = flows
	s.loaded = true
	return nil
}

// Fetch implements model.Source. The wait is not used: the capture is
// read in full on the first call.
func (s *PCAPSource) Fetch(ctx context.Context, max int, _ time.Duration) ([]*model.FlowRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.loaded {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	if len(s.flows) == 0 {
		return nil, io.EOF
	}
	n := min(max, len(s.flows))
	batch := s.flows[:n]
	s.flows = s.flows[n:]
	return batch, nil
}

// Negotiate implements model.Source. Captures have a fixed format.
func (s *PCAPSource) Negotiate(context.Context) error {
	return nil
}

// Close implements model.Source.
func (s *PCAPSource) Close() error {
	s.flows = nil
	return nil
}
