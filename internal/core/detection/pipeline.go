package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/agenthands/crosscheck/internal/driver"
	"github.com/agenthands/crosscheck/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidEngagementID = errors.New("invalid engagement id")

// ValidateEngagementID rejects identifiers that are not UUIDs.
func ValidateEngagementID(engagementID string) error {
	if _, err := uuid.Parse(engagementID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidEngagementID, engagementID)
	}
	return nil
}

// Store is the part of the conflict store the pipeline needs.
type Store interface {
	ExistingKeys(ctx context.Context, engagementID string) (map[model.ConflictKey]struct{}, error)
	ShelfRequestTitles(ctx context.Context, engagementID string) (map[string]struct{}, error)
	SaveDetectionBatch(ctx context.Context, conflicts []*model.ConflictObject, requests []*model.ShelfDataRequest) (int, int, error)
}

var _ Store = (store.Store)(nil)

type Pipeline struct {
	detectors []Detector
	store     Store
	opts      Options
}

func NewPipeline(graph driver.GraphService, st Store, opts Options) *Pipeline {
	opts = opts.withDefaults()
	return NewPipelineWithDetectors(DefaultDetectors(graph, opts), st, opts)
}

func NewPipelineWithDetectors(detectors []Detector, st Store, opts Options) *Pipeline {
	return &Pipeline{detectors: detectors, store: st, opts: opts.withDefaults()}
}

// RunConflictDetection runs every detector against one engagement and stores
// the conflicts not seen before.
func RunConflictDetection(ctx context.Context, graph driver.GraphService, st Store, engagementID string, opts Options) (*model.DetectionResult, error) {
	return NewPipeline(graph, st, opts).Run(ctx, engagementID)
}

// Run is safe to repeat: a second run over an unchanged graph stores nothing.
// Detector failures are recorded in the result; only a failure to read or
// write the store is returned.
func (p *Pipeline) Run(ctx context.Context, engagementID string) (*model.DetectionResult, error) {
	if err := ValidateEngagementID(engagementID); err != nil {
		return nil, err
	}
	started := time.Now()
	defer p.opts.Metrics.ObserveDetectionRun(started)

	logger := p.opts.Logger.With(zap.String("engagement_id", engagementID))
	result := model.NewDetectionResult(engagementID)

	found := make([][]model.DetectedConflict, len(p.detectors))
	failed := make([]bool, len(p.detectors))

	// Detectors are read-only and independent; all must finish before dedup.
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range p.detectors {
		g.Go(func() error {
			conflicts, err := d.Detect(gctx, engagementID)
			if err != nil {
				failed[i] = true
				return nil
			}
			found[i] = conflicts
			return nil
		})
	}
	_ = g.Wait()

	for i, d := range p.detectors {
		if failed[i] {
			result.FailedDetectors = append(result.FailedDetectors, d.Type())
			continue
		}
		result.CountsByType[d.Type()] += len(found[i])
		p.opts.Metrics.ObserveDetected(string(d.Type()), len(found[i]))
		for _, c := range found[i] {
			result.Conflicts = append(result.Conflicts, c.Canonical())
		}
	}

	existing, err := p.store.ExistingKeys(ctx, engagementID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing conflicts: %w", err)
	}

	now := p.opts.Now()
	var (
		objects []*model.ConflictObject
		gaps    []model.DetectedConflict
	)
	for _, c := range result.Conflicts {
		key := c.Key()
		if _, ok := existing[key]; ok {
			continue
		}
		existing[key] = struct{}{}
		objects = append(objects, newConflictObject(c, now))
		if c.MismatchType == model.ControlGap {
			gaps = append(gaps, c)
		}
	}

	var requests []*model.ShelfDataRequest
	if len(gaps) > 0 {
		titles, err := p.store.ShelfRequestTitles(ctx, engagementID)
		if err != nil {
			return nil, fmt.Errorf("failed to load shelf requests: %w", err)
		}
		requests = shelfRequests(engagementID, gaps, titles)
		for _, r := range requests {
			r.ID = uuid.NewString()
			r.CreatedAt = now
		}
	}

	if len(objects) > 0 || len(requests) > 0 {
		inserted, created, err := p.store.SaveDetectionBatch(ctx, objects, requests)
		if err != nil {
			return nil, fmt.Errorf("failed to persist conflicts: %w", err)
		}
		result.NewPersisted = inserted
		result.ShelfRequestsCreated = created
		p.opts.Metrics.ObservePersisted(inserted, created)
	}

	logger.Info("conflict detection complete",
		zap.Int("total_conflicts", result.TotalConflicts()),
		zap.Int("new_persisted", result.NewPersisted),
		zap.Int("shelf_requests_created", result.ShelfRequestsCreated),
		zap.Int("failed_detectors", len(result.FailedDetectors)),
		zap.Duration("elapsed", time.Since(started)))

	return result, nil
}

func newConflictObject(c model.DetectedConflict, now time.Time) *model.ConflictObject {
	detail := make(map[string]any, len(c.ConflictDetail)+4)
	for k, v := range c.ConflictDetail {
		detail[k] = v
	}
	detail["detail"] = c.Detail
	detail["severity_label"] = c.SeverityLabel
	if c.EdgeAData != nil {
		detail["edge_a"] = c.EdgeAData
	}
	if c.EdgeBData != nil {
		detail["edge_b"] = c.EdgeBData
	}

	return &model.ConflictObject{
		ID:               uuid.NewString(),
		EngagementID:     c.EngagementID,
		MismatchType:     c.MismatchType,
		SourceAID:        c.SourceAID,
		SourceBID:        c.SourceBID,
		Severity:         c.SeverityScore,
		ResolutionStatus: model.StatusUnresolved,
		ResolutionHint:   c.ResolutionHint,
		ConflictDetail:   detail,
		CreatedAt:        now,
	}
}
