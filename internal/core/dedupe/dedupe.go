package dedupe

import (
	"context"
	"fmt"

	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/agenthands/crosscheck/internal/driver"
	"go.uber.org/zap"
)

// Merger folds duplicate activity nodes into their canonical node.
type Merger struct {
	Graph  driver.GraphService
	Logger *zap.Logger
}

func NewMerger(graph driver.GraphService, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{Graph: graph, Logger: logger}
}

// Merge redirects every edge of other onto canonical, records other as an
// alias and deletes it, all in one write transaction. Merging a node that is
// already gone is a no-op reported as already_merged.
func (m *Merger) Merge(ctx context.Context, engagementID, canonical, other string) model.MergeResult {
	result := model.MergeResult{Canonical: canonical}
	if canonical == other {
		result.Status = model.MergeAlreadyMerged
		return result
	}

	params := map[string]any{
		"canonical":     canonical,
		"other":         other,
		"engagement_id": engagementID,
		"known_types":   driver.MergeRelationshipTypes,
	}

	var moved int64
	alreadyGone := false
	err := m.Graph.ExecuteWrite(ctx, func(tx driver.Tx) error {
		moved = 0
		rows, err := tx.Run(ctx, driver.MergeCountOtherQuery, params)
		if err != nil {
			return fmt.Errorf("failed to look up %q: %w", other, err)
		}
		if len(rows) == 0 || rows[0].Int("found") == 0 {
			alreadyGone = true
			return nil
		}

		if _, err := tx.Run(ctx, driver.MergeEnsureCanonicalQuery, params); err != nil {
			return fmt.Errorf("failed to ensure canonical %q: %w", canonical, err)
		}
		for _, q := range driver.MergeRedirectQueries() {
			rows, err := tx.Run(ctx, q, params)
			if err != nil {
				return fmt.Errorf("failed to redirect edges: %w", err)
			}
			if len(rows) > 0 {
				moved += rows[0].Int("moved")
			}
		}
		if _, err := tx.Run(ctx, driver.MergeAliasAndDeleteQuery, params); err != nil {
			return fmt.Errorf("failed to delete %q: %w", other, err)
		}
		return nil
	})

	switch {
	case err != nil:
		m.Logger.Error("node merge failed",
			zap.String("engagement_id", engagementID),
			zap.String("canonical", canonical),
			zap.String("other", other),
			zap.Error(err))
		result.Status = model.MergeFailed
		result.Error = err.Error()
	case alreadyGone:
		result.Status = model.MergeAlreadyMerged
	default:
		result.Status = model.MergeMerged
		result.Removed = []string{other}
		result.EdgesMoved = moved
	}
	return result
}

// MergeAll merges each name into canonical and aggregates the outcome. The
// aggregate is merge_failed if any single merge failed.
func (m *Merger) MergeAll(ctx context.Context, engagementID, canonical string, others []string) model.MergeResult {
	agg := model.MergeResult{Canonical: canonical, Status: model.MergeAlreadyMerged}
	for _, other := range others {
		r := m.Merge(ctx, engagementID, canonical, other)
		agg.EdgesMoved += r.EdgesMoved
		agg.Removed = append(agg.Removed, r.Removed...)
		switch r.Status {
		case model.MergeFailed:
			agg.Status = model.MergeFailed
			if agg.Error == "" {
				agg.Error = r.Error
			}
		case model.MergeMerged:
			if agg.Status != model.MergeFailed {
				agg.Status = model.MergeMerged
			}
		}
	}
	return agg
}
