package driver

import (
	"context"
)

// Record is one row of a graph query result, keyed by the RETURN aliases.
type Record map[string]any

// Tx runs statements inside a single write transaction.
type Tx interface {
	Run(ctx context.Context, query string, params map[string]any) ([]Record, error)
}

// GraphService is the contract the conflict engine needs from the property graph.
type GraphService interface {
	RunQuery(ctx context.Context, query string, params map[string]any) ([]Record, error)
	RunWriteQuery(ctx context.Context, query string, params map[string]any) ([]Record, error)
	// ExecuteWrite runs work in one transaction. The work function may be
	// retried by the backend on transient failures, so it must be repeatable.
	ExecuteWrite(ctx context.Context, work func(tx Tx) error) error
}

type GraphDriver interface {
	GraphService
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}
