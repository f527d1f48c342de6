// Package pipeline runs the classifier: a producer fetches batches of flow
// records from the source and hands them to a consumer that classifies
// them and writes the results to the sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"SSHSpectra/internal/config"
	"SSHSpectra/internal/engine/detector"
	"SSHSpectra/internal/engine/features"
	"SSHSpectra/internal/ingest"
	"SSHSpectra/internal/model"
)

type batch struct {
	id      string
	records []*model.FlowRecord
}

// Pipeline connects one source, one MAC classifier and any number of sinks.
type Pipeline struct {
	cfg      config.PipelineConfig
	ingest   config.IngestConfig
	features features.Config

	source     model.Source
	classifier model.MacClassifier
	detector   *detector.Detector
	sinks      []model.Sink
	logger     log.FieldLogger
	stats      Stats

	// labelless is set for the "none" classifier, the only one allowed to
	// return empty labels.
	labelless bool
}

// New creates a pipeline from the loaded configuration.
func New(cfg *config.Config, source model.Source, classifier model.MacClassifier, sinks []model.Sink, logger log.FieldLogger) *Pipeline {
	return &Pipeline{
		cfg:        cfg.Pipeline,
		ingest:     cfg.Ingest,
		features:   cfg.Features,
		source:     source,
		classifier: classifier,
		labelless:  cfg.Classifier.Type == "" || cfg.Classifier.Type == "none",
		detector:   detector.New(cfg.Detector),
		sinks:      sinks,
		logger:     logger.WithField("component", "pipeline"),
	}
}

// Stats returns the live counters.
func (p *Pipeline) Stats() *Stats {
	return &p.stats
}

// Run starts the producer and the consumer and blocks until both have
// exited. Cancelling ctx stops the producer; batches already queued are
// still classified and emitted. A classifier failure or an unknown MAC
// category stops the pipeline and is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan batch, p.cfg.QueueCapacity)
	var (
		wg          sync.WaitGroup
		producerErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(queue)
		producerErr = p.produce(ctx, queue)
	}()

	err := p.consume(ctx, queue)
	if err != nil {
		cancel()
		// Unblock a producer waiting on a full queue.
		for range queue {
		}
	}
	wg.Wait()

	if err != nil {
		return err
	}
	return producerErr
}

func (p *Pipeline) produce(ctx context.Context, queue chan<- batch) error {
	p.logger.Info("Pipeline: producer started")
	defer p.logger.Info("Pipeline: producer stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		records, err := p.source.Fetch(ctx, p.ingest.BatchSize, p.ingest.RecvTimeout)
		if len(records) > 0 {
			b := batch{id: uuid.NewString(), records: records}
			select {
			case queue <- b:
			case <-ctx.Done():
				p.logger.WithField("batch_id", b.id).Warn("Pipeline: dropping batch on shutdown")
				return nil
			}
		}

		switch {
		case err == nil:
			if len(records) == 0 && p.ingest.StopOnEmpty {
				p.logger.Info("Pipeline: source is empty, stopping")
				return nil
			}
		case errors.Is(err, ingest.ErrFormatChanged):
			if nerr := p.source.Negotiate(ctx); nerr != nil {
				return fmt.Errorf("failed to negotiate record format: %w", nerr)
			}
		case errors.Is(err, io.EOF):
			p.logger.Info("Pipeline: end of stream")
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			p.logger.WithError(err).Error("Pipeline: failed to fetch records, stopping")
			return nil
		}
	}
}

func (p *Pipeline) consume(ctx context.Context, queue <-chan batch) error {
	p.logger.Info("Pipeline: consumer started")
	defer p.logger.Info("Pipeline: consumer stopped")

	// Queued batches are finished after cancellation.
	work := context.WithoutCancel(ctx)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case b, ok := <-queue:
			if !ok {
				return nil
			}
			if err := p.handle(work, b); err != nil {
				return err
			}
		case <-ticker.C:
			p.logger.Debug("Pipeline: waiting for data")
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, b batch) error {
	logger := p.logger.WithField("batch_id", b.id)
	start := time.Now()

	results, fb, err := p.Process(ctx, b.records, logger)
	p.stats.Batches.Add(1)
	p.stats.Received.Add(uint64(len(b.records)))
	if fb != nil {
		p.stats.Filtered.Add(uint64(fb.Filtered))
		p.stats.Malformed.Add(uint64(fb.Malformed))
	}
	if err != nil {
		return err
	}
	for _, res := range results {
		p.stats.record(res)
	}
	if p.cfg.Debug {
		for _, f := range fb.Flows {
			fields := log.Fields{"flow": f.Record.String(), "mac_category": f.MacCategory()}
			for _, name := range features.AttrNames {
				fields[name] = f.Attr(name)
			}
			logger.WithFields(fields).Debug("Pipeline: flow attributes")
		}
	}

	p.emit(ctx, results, logger)
	logger.WithFields(log.Fields{
		"records": len(b.records),
		"ssh":     len(results),
		"took":    time.Since(start),
	}).Debug("Pipeline: batch done")
	return nil
}

// Process classifies one batch of records. It is deterministic: the same
// records always produce the same results.
func (p *Pipeline) Process(ctx context.Context, records []*model.FlowRecord, logger log.FieldLogger) ([]*model.Result, *features.Batch, error) {
	fb := features.NewBatch(records, p.features, logger)
	if fb.Len() == 0 {
		return nil, fb, nil
	}

	labels, err := p.classifier.Predict(ctx, fb.MacFeatures())
	if err != nil {
		return nil, fb, fmt.Errorf("failed to classify MAC categories: %w", err)
	}
	if len(labels) != fb.Len() {
		return nil, fb, fmt.Errorf("classifier returned %d labels for %d flows", len(labels), fb.Len())
	}
	for i, f := range fb.Flows {
		if labels[i] == "" && p.labelless {
			continue
		}
		cat, err := detector.ResolveCategory(labels[i])
		if err != nil {
			return nil, fb, err
		}
		f.SetMacCategory(cat.Name)
	}
	return p.detector.ClassifyBatch(fb), fb, nil
}

func (p *Pipeline) emit(ctx context.Context, results []*model.Result, logger log.FieldLogger) {
	for _, res := range results {
		for _, sink := range p.sinks {
			sctx, cancel := context.WithTimeout(ctx, p.cfg.EmitTimeout)
			err := sink.Send(sctx, res)
			cancel()
			if err != nil {
				p.stats.EmitErrors.Add(1)
				logger.WithError(err).WithField("flow", res.Flow.String()).Warn("Pipeline: failed to emit result")
				continue
			}
			p.stats.Emitted.Add(1)
		}
	}
	for _, sink := range p.sinks {
		sctx, cancel := context.WithTimeout(ctx, p.cfg.EmitTimeout)
		err := sink.Flush(sctx)
		cancel()
		if err != nil {
			p.stats.EmitErrors.Add(1)
			logger.WithError(err).Warn("Pipeline: failed to flush sink")
		}
	}
}
