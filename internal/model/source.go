package model

import (
	"context"
	"time"
)

// Source delivers batches of flow records to the pipeline.
type Source interface {
	// Fetch blocks for at most wait and returns up to max records. An empty
	// batch with a nil error means the wait expired without data. io.EOF
	// signals the end of the stream; ErrFormatChanged (see package ingest)
	// asks the caller to Negotiate before fetching again.
	Fetch(ctx context.Context, max int, wait time.Duration) ([]*FlowRecord, error)

	// Negotiate adopts a changed record template.
	Negotiate(ctx context.Context) error

	Close() error
}
