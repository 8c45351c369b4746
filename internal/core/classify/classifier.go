package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/agenthands/crosscheck/internal/core/dedupe"
	"github.com/agenthands/crosscheck/internal/core/detection"
	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/agenthands/crosscheck/internal/driver"
	"github.com/agenthands/crosscheck/internal/store"
	"github.com/agenthands/crosscheck/internal/telemetry"
	"go.uber.org/zap"
)

const DefaultVersion = "1.0.0"

// Store is the part of the conflict store the classifier needs.
type Store interface {
	ListUnclassified(ctx context.Context, engagementID string) ([]*model.ConflictObject, error)
	ListOutdated(ctx context.Context, engagementID, version string) ([]*model.ConflictObject, error)
	SaveClassification(ctx context.Context, c *model.ConflictObject) error
	SeedTerms(ctx context.Context, engagementID string, terms []string) ([]model.SeedTerm, error)
}

var _ Store = (store.Store)(nil)

type Options struct {
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Version string
	Now     func() time.Time
}

// Classifier decides whether a conflict is a naming variant, a temporal
// shift or a genuine disagreement. Checks run in that order and the first
// match wins.
type Classifier struct {
	graph  driver.GraphService
	store  Store
	merger *dedupe.Merger
	opts   Options
}

func New(graph driver.GraphService, st Store, opts Options) *Classifier {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Classifier{
		graph:  graph,
		store:  st,
		merger: dedupe.NewMerger(graph, opts.Logger),
		opts:   opts,
	}
}

func (c *Classifier) Version() string {
	return c.opts.Version
}

// Classify sets the resolution fields on conflict and returns it. Graph
// lookups that fail count as a failed check; nothing here aborts.
func (c *Classifier) Classify(ctx context.Context, conflict *model.ConflictObject) *model.ConflictObject {
	now := c.opts.Now()
	logger := c.opts.Logger.With(
		zap.String("conflict_id", conflict.ID),
		zap.String("engagement_id", conflict.EngagementID))

	if details, ok := c.checkNamingVariant(ctx, logger, conflict); ok {
		conflict.ResolutionType = model.NamingVariant
		conflict.ResolutionStatus = model.StatusResolved
		conflict.ResolvedAt = &now
		conflict.ResolutionDetails = details
	} else if details, ok := c.checkTemporalShift(ctx, logger, conflict); ok {
		conflict.ResolutionType = model.TemporalShift
		conflict.ResolutionStatus = model.StatusResolved
		conflict.ResolvedAt = &now
		conflict.ResolutionDetails = details
	} else {
		conflict.ResolutionType = model.GenuineDisagreement
		// Left open for review; an escalation already raised stays raised.
		if conflict.ResolutionStatus != model.StatusEscalated {
			conflict.ResolutionStatus = model.StatusUnresolved
		}
		conflict.ResolvedAt = nil
		conflict.ResolutionDetails = &model.ResolutionDetails{
			ConflictingFrames: c.frames(ctx, logger, conflict),
			RequiresSMEReview: true,
		}
	}

	conflict.ClassifiedAt = &now
	conflict.ClassifierVersion = c.opts.Version
	return conflict
}

// ClassifyBatch classifies every unclassified conflict of an engagement and
// returns the ones whose classification was stored.
func (c *Classifier) ClassifyBatch(ctx context.Context, engagementID string) ([]*model.ConflictObject, error) {
	if err := detection.ValidateEngagementID(engagementID); err != nil {
		return nil, err
	}
	pending, err := c.store.ListUnclassified(ctx, engagementID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unclassified conflicts: %w", err)
	}
	return c.classifyAll(ctx, engagementID, pending, false), nil
}

// ReclassifyOutdated reruns classification on rows from another classifier
// version that no reviewer has resolved. Naming variants whose merge already
// landed are only restamped: the merge removed the names the check looks for.
func (c *Classifier) ReclassifyOutdated(ctx context.Context, engagementID string) ([]*model.ConflictObject, error) {
	if err := detection.ValidateEngagementID(engagementID); err != nil {
		return nil, err
	}
	outdated, err := c.store.ListOutdated(ctx, engagementID, c.opts.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to list outdated conflicts: %w", err)
	}
	return c.classifyAll(ctx, engagementID, outdated, true), nil
}

// mergeSettled reports whether conflict is a naming variant whose node merge
// completed, so the graph no longer shows the variant.
func mergeSettled(conflict *model.ConflictObject) bool {
	if conflict.ResolutionType != model.NamingVariant || conflict.ResolutionDetails == nil {
		return false
	}
	merge := conflict.ResolutionDetails.MergeResult
	return merge != nil && (merge.Status == model.MergeMerged || merge.Status == model.MergeAlreadyMerged)
}

func (c *Classifier) classifyAll(ctx context.Context, engagementID string, conflicts []*model.ConflictObject, reclassify bool) []*model.ConflictObject {
	classified := make([]*model.ConflictObject, 0, len(conflicts))
	for _, conflict := range conflicts {
		if err := ctx.Err(); err != nil {
			c.opts.Logger.Warn("classification interrupted",
				zap.String("engagement_id", engagementID),
				zap.Int("remaining", len(conflicts)-len(classified)),
				zap.Error(err))
			break
		}

		if reclassify && mergeSettled(conflict) {
			now := c.opts.Now()
			conflict.ClassifiedAt = &now
			conflict.ClassifierVersion = c.opts.Version
		} else {
			c.Classify(ctx, conflict)
		}
		if err := c.store.SaveClassification(ctx, conflict); err != nil {
			// The row stays unclassified and is picked up by the next batch.
			c.opts.Logger.Error("failed to save classification",
				zap.String("conflict_id", conflict.ID),
				zap.String("engagement_id", engagementID),
				zap.Error(err))
			c.opts.Metrics.ObserveClassificationFailure()
			continue
		}
		c.opts.Metrics.ObserveClassification(string(conflict.ResolutionType))
		classified = append(classified, conflict)
	}

	c.opts.Logger.Info("classification complete",
		zap.String("engagement_id", engagementID),
		zap.Int("candidates", len(conflicts)),
		zap.Int("classified", len(classified)),
		zap.String("classifier_version", c.opts.Version))
	return classified
}
