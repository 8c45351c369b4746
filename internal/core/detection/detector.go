package detection

import (
	"context"
	"time"

	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/agenthands/crosscheck/internal/core/severity"
	"github.com/agenthands/crosscheck/internal/driver"
	"github.com/agenthands/crosscheck/internal/telemetry"
	"go.uber.org/zap"
)

const DefaultQueryLimit = 500

// Detector finds one shape of contradiction in the graph. A graph failure
// is logged and returned; it never affects other detectors.
type Detector interface {
	Type() model.MismatchType
	Detect(ctx context.Context, engagementID string) ([]model.DetectedConflict, error)
}

type Options struct {
	Logger            *zap.Logger
	Metrics           *telemetry.Metrics
	RecencyWindowDays int
	QueryLimit        int
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.RecencyWindowDays <= 0 {
		o.RecencyWindowDays = severity.DefaultRecencyWindowDays
	}
	if o.QueryLimit <= 0 {
		o.QueryLimit = DefaultQueryLimit
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// base carries what every detector shares.
type base struct {
	graph        driver.GraphService
	opts         Options
	mismatchType model.MismatchType
	query        string
}

func newBase(graph driver.GraphService, opts Options, mt model.MismatchType, query string) base {
	return base{graph: graph, opts: opts.withDefaults(), mismatchType: mt, query: query}
}

func (b base) Type() model.MismatchType {
	return b.mismatchType
}

func (b base) fetch(ctx context.Context, engagementID string) ([]driver.Record, error) {
	records, err := b.graph.RunQuery(ctx, b.query, map[string]any{
		"engagement_id": engagementID,
		"limit":         b.opts.QueryLimit,
	})
	if err != nil {
		b.opts.Logger.Error("failed to query conflicts",
			zap.String("detector", string(b.mismatchType)),
			zap.String("engagement_id", engagementID),
			zap.Error(err))
		b.opts.Metrics.ObserveDetectorFailure(string(b.mismatchType))
		return nil, err
	}
	return records, nil
}

func (b base) score(weightA, weightB float64, createdA, createdB *time.Time) (float64, string) {
	s := severity.ComputeAt(b.opts.Now(), weightA, weightB, createdA, createdB, b.opts.RecencyWindowDays)
	return s, severity.Label(s)
}

// DefaultDetectors returns one detector per mismatch type, in reporting order.
func DefaultDetectors(graph driver.GraphService, opts Options) []Detector {
	return []Detector{
		NewSequenceDetector(graph, opts),
		NewRoleDetector(graph, opts),
		NewRuleDetector(graph, opts),
		NewExistenceDetector(graph, opts),
		NewIODetector(graph, opts),
		NewControlGapDetector(graph, opts),
	}
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
