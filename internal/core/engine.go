package core

import (
	"context"
	"fmt"
	"time"

	"github.com/agenthands/crosscheck/internal/core/classify"
	"github.com/agenthands/crosscheck/internal/core/detection"
	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/agenthands/crosscheck/internal/driver"
	"github.com/agenthands/crosscheck/internal/store"
	"github.com/agenthands/crosscheck/internal/telemetry"
	"go.uber.org/zap"
)

type Options struct {
	Logger              *zap.Logger
	Metrics             *telemetry.Metrics
	RecencyWindowDays   int
	QueryLimit          int
	ClassifierVersion   string
	EscalationThreshold time.Duration
	Now                 func() time.Time
}

// Engine wires detection, classification and review over one graph and one
// conflict store.
type Engine struct {
	Graph      driver.GraphDriver
	Store      store.Store
	Pipeline   *detection.Pipeline
	Classifier *classify.Classifier

	logger              *zap.Logger
	escalationThreshold time.Duration
	now                 func() time.Time
}

func NewEngine(graph driver.GraphDriver, st store.Store, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.EscalationThreshold <= 0 {
		opts.EscalationThreshold = model.DefaultEscalationThreshold
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Engine{
		Graph: graph,
		Store: st,
		Pipeline: detection.NewPipeline(graph, st, detection.Options{
			Logger:            opts.Logger.Named("detection"),
			Metrics:           opts.Metrics,
			RecencyWindowDays: opts.RecencyWindowDays,
			QueryLimit:        opts.QueryLimit,
			Now:               opts.Now,
		}),
		Classifier: classify.New(graph, st, classify.Options{
			Logger:  opts.Logger.Named("classifier"),
			Metrics: opts.Metrics,
			Version: opts.ClassifierVersion,
			Now:     opts.Now,
		}),
		logger:              opts.Logger,
		escalationThreshold: opts.EscalationThreshold,
		now:                 opts.Now,
	}
}

// BuildIndices prepares both the graph indexes and the relational schema.
func (e *Engine) BuildIndices(ctx context.Context) error {
	if err := e.Graph.BuildIndices(ctx); err != nil {
		return fmt.Errorf("failed to build graph indices: %w", err)
	}
	if err := e.Store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure relational schema: %w", err)
	}
	return nil
}

func (e *Engine) Detect(ctx context.Context, engagementID string) (*model.DetectionResult, error) {
	return e.Pipeline.Run(ctx, engagementID)
}

func (e *Engine) Classify(ctx context.Context, engagementID string) ([]*model.ConflictObject, error) {
	return e.Classifier.ClassifyBatch(ctx, engagementID)
}

func (e *Engine) Reclassify(ctx context.Context, engagementID string) ([]*model.ConflictObject, error) {
	return e.Classifier.ReclassifyOutdated(ctx, engagementID)
}

// ScanResult is what one full pass over an engagement produced.
type ScanResult struct {
	Detection    *model.DetectionResult  `json:"detection"`
	Classified   []*model.ConflictObject `json:"classified"`
	Reclassified []*model.ConflictObject `json:"reclassified"`
	Escalated    []string                `json:"escalated"`
}

// Scan runs detection, classification of new conflicts, reclassification of
// outdated ones and the overdue escalation check, in that order.
func (e *Engine) Scan(ctx context.Context, engagementID string) (*ScanResult, error) {
	detected, err := e.Detect(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	classified, err := e.Classify(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	reclassified, err := e.Reclassify(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	escalated, err := e.EscalateOverdue(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	return &ScanResult{
		Detection:    detected,
		Classified:   classified,
		Reclassified: reclassified,
		Escalated:    escalated,
	}, nil
}

func (e *Engine) List(ctx context.Context, engagementID string, f model.ListFilter) ([]*model.ConflictObject, error) {
	if err := detection.ValidateEngagementID(engagementID); err != nil {
		return nil, err
	}
	return e.Store.List(ctx, engagementID, f)
}

func (e *Engine) Get(ctx context.Context, id string) (*model.ConflictObject, error) {
	return e.Store.Get(ctx, id)
}

func (e *Engine) Resolve(ctx context.Context, id string, req model.ResolveRequest) (*model.ConflictObject, error) {
	if req.ResolutionType != "" && !req.ResolutionType.Valid() {
		return nil, fmt.Errorf("unknown resolution type %q", req.ResolutionType)
	}
	c, err := e.Store.Resolve(ctx, id, req)
	if err != nil {
		return nil, err
	}
	e.logger.Info("conflict resolved",
		zap.String("conflict_id", id),
		zap.String("resolver_id", req.ResolverID))
	return c, nil
}

func (e *Engine) Escalate(ctx context.Context, id, notes string) (*model.ConflictObject, error) {
	c, err := e.Store.Escalate(ctx, id, notes)
	if err != nil {
		return nil, err
	}
	e.logger.Info("conflict escalated", zap.String("conflict_id", id))
	return c, nil
}

// EscalateOverdue escalates conflicts left unresolved past the threshold.
func (e *Engine) EscalateOverdue(ctx context.Context, engagementID string) ([]string, error) {
	if err := detection.ValidateEngagementID(engagementID); err != nil {
		return nil, err
	}
	cutoff := e.now().Add(-e.escalationThreshold)
	ids, err := e.Store.EscalateOverdue(ctx, engagementID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to escalate overdue conflicts: %w", err)
	}
	if len(ids) > 0 {
		e.logger.Info("escalated overdue conflicts",
			zap.String("engagement_id", engagementID),
			zap.Int("count", len(ids)))
	}
	return ids, nil
}

func (e *Engine) DisagreementReport(ctx context.Context, engagementID string) (*model.DisagreementReport, error) {
	all, err := e.List(ctx, engagementID, model.ListFilter{})
	if err != nil {
		return nil, err
	}
	return model.BuildDisagreementReport(engagementID, all), nil
}

func (e *Engine) AddSeedTerm(ctx context.Context, t *model.SeedTerm) error {
	if err := detection.ValidateEngagementID(t.EngagementID); err != nil {
		return err
	}
	return e.Store.CreateSeedTerm(ctx, t)
}

func (e *Engine) ShelfRequests(ctx context.Context, engagementID string) ([]*model.ShelfDataRequest, error) {
	if err := detection.ValidateEngagementID(engagementID); err != nil {
		return nil, err
	}
	return e.Store.ListShelfRequests(ctx, engagementID)
}

func (e *Engine) Close(ctx context.Context) error {
	graphErr := e.Graph.Close(ctx)
	storeErr := e.Store.Close()
	if graphErr != nil {
		return graphErr
	}
	return storeErr
}
