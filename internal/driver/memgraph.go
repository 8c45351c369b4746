package driver

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

type MemgraphDriver struct {
	Driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

func NewMemgraphDriver(ctx context.Context, uri, username, password, database string, logger *zap.Logger) (*MemgraphDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach graph at %s: %w", uri, err)
	}

	logger.Info("connected to graph store", zap.String("uri", uri))
	return &MemgraphDriver{Driver: driver, database: database, logger: logger}, nil
}

func (d *MemgraphDriver) Close(ctx context.Context) error {
	return d.Driver.Close(ctx)
}

func (d *MemgraphDriver) RunQuery(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	return d.execute(ctx, query, params, neo4j.ExecuteQueryWithReadersRouting())
}

func (d *MemgraphDriver) RunWriteQuery(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	return d.execute(ctx, query, params, neo4j.ExecuteQueryWithWritersRouting())
}

func (d *MemgraphDriver) execute(ctx context.Context, query string, params map[string]any, routing neo4j.ExecuteQueryConfigurationOption) ([]Record, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{routing}
	if d.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(d.database))
	}

	result, err := neo4j.ExecuteQuery(ctx, d.Driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return toRecords(result.Records), nil
}

func (d *MemgraphDriver) ExecuteWrite(ctx context.Context, work func(tx Tx) error) error {
	session := d.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: d.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, work(managedTx{tx: tx})
	})
	if err != nil {
		return fmt.Errorf("write transaction failed: %w", err)
	}
	return nil
}

type managedTx struct {
	tx neo4j.ManagedTransaction
}

func (m managedTx) Run(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	result, err := m.tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return toRecords(records), nil
}

func toRecords(records []*neo4j.Record) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		out = append(out, Record(rec.AsMap()))
	}
	return out
}

func (d *MemgraphDriver) BuildIndices(ctx context.Context) error {
	for _, q := range IndexQueries {
		if _, err := d.RunWriteQuery(ctx, q, nil); err != nil {
			// Continue, the index most likely exists already
			d.logger.Warn("failed to create index", zap.String("query", q), zap.Error(err))
		}
	}
	return nil
}
