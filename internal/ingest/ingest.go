// Package ingest provides the flow record sources of the pipeline.
package ingest

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"SSHSpectra/internal/config"
	"SSHSpectra/internal/model"
)

// ErrFormatChanged is returned by Fetch when the exporter switched to a new
// record template. The caller must Negotiate before fetching again.
var ErrFormatChanged = errors.New("flow record format changed")

// TemplateHeader is the message header carrying the record template.
const TemplateHeader = "Flow-Template"

// New creates the source selected by cfg.
func New(cfg config.IngestConfig, logger log.FieldLogger) (model.Source, error) {
	switch cfg.Type {
	case "nats":
		return NewNATSSource(cfg.NATS, logger)
	case "pcap":
		return NewPCAPSource(cfg.PCAP, logger)
	default:
		return nil, fmt.Errorf("unknown ingest type: %s", cfg.Type)
	}
}
