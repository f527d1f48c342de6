package model

import "context"

// Sink receives classification results.
type Sink interface {
	// Send emits a single result. Implementations may buffer until Flush.
	Send(ctx context.Context, res *Result) error

	// Flush is called once at the end of every pipeline batch.
	Flush(ctx context.Context) error

	Close() error
}
