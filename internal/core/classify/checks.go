package classify

import (
	"context"
	"time"

	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/agenthands/crosscheck/internal/core/temporal"
	"github.com/agenthands/crosscheck/internal/driver"
	"go.uber.org/zap"
)

const unknownFrame = "unknown"

func (c *Classifier) contextParams(conflict *model.ConflictObject) map[string]any {
	return map[string]any{
		"source_a":      conflict.SourceAID,
		"source_b":      conflict.SourceBID,
		"engagement_id": conflict.EngagementID,
	}
}

// conflictingNames returns the first name evidenced only by source A and the
// first evidenced only by source B.
func (c *Classifier) conflictingNames(ctx context.Context, logger *zap.Logger, conflict *model.ConflictObject) (string, string, bool) {
	if conflict.SourceBID == "" {
		return "", "", false
	}
	records, err := c.graph.RunQuery(ctx, driver.ConflictingNamesQuery, c.contextParams(conflict))
	if err != nil {
		logger.Warn("failed to look up conflicting names", zap.Error(err))
		return "", "", false
	}

	bySource := map[string]map[string]bool{conflict.SourceAID: {}, conflict.SourceBID: {}}
	var ordered []driver.SourceNameRow
	for _, rec := range records {
		row := driver.DecodeSourceName(rec)
		if row.Name == "" {
			continue
		}
		if names, ok := bySource[row.SourceID]; ok {
			names[row.Name] = true
			ordered = append(ordered, row)
		}
	}

	var nameA, nameB string
	for _, row := range ordered {
		onlyA := row.SourceID == conflict.SourceAID && !bySource[conflict.SourceBID][row.Name]
		onlyB := row.SourceID == conflict.SourceBID && !bySource[conflict.SourceAID][row.Name]
		if onlyA && nameA == "" {
			nameA = row.Name
		}
		if onlyB && nameB == "" {
			nameB = row.Name
		}
	}
	return nameA, nameB, nameA != "" && nameB != ""
}

// canonicalFor picks the canonical name from the seed terms: a shared
// canonical term first, then whichever name is itself an active term.
func canonicalFor(nameA, nameB string, terms []model.SeedTerm) (string, bool) {
	canonicalOf := map[string]string{}
	active := map[string]bool{}
	for _, t := range terms {
		switch t.Status {
		case model.TermActive:
			active[t.Term] = true
			canonicalOf[t.Term] = t.Term
		case model.TermMerged:
			if t.CanonicalTerm != "" {
				canonicalOf[t.Term] = t.CanonicalTerm
			}
		}
	}

	if ca, ok := canonicalOf[nameA]; ok {
		if cb, ok := canonicalOf[nameB]; ok && ca == cb {
			return ca, true
		}
	}
	if active[nameA] {
		return nameA, true
	}
	if active[nameB] {
		return nameB, true
	}
	return "", false
}

func (c *Classifier) checkNamingVariant(ctx context.Context, logger *zap.Logger, conflict *model.ConflictObject) (*model.ResolutionDetails, bool) {
	nameA, nameB, ok := c.conflictingNames(ctx, logger, conflict)
	if !ok {
		return nil, false
	}

	canonical, found := "", false
	terms, err := c.store.SeedTerms(ctx, conflict.EngagementID, []string{nameA, nameB})
	if err != nil {
		logger.Warn("failed to look up seed terms", zap.Error(err))
	} else {
		canonical, found = canonicalFor(nameA, nameB, terms)
	}
	if !found {
		records, err := c.graph.RunQuery(ctx, driver.VariantLinkQuery, map[string]any{
			"name_a":        nameA,
			"name_b":        nameB,
			"engagement_id": conflict.EngagementID,
		})
		if err != nil {
			logger.Warn("failed to look up variant link", zap.Error(err))
			return nil, false
		}
		if len(records) == 0 {
			return nil, false
		}
		canonical = nameA
	}

	var others []string
	for _, name := range []string{nameA, nameB} {
		if name != canonical {
			others = append(others, name)
		}
	}

	merge := c.merger.MergeAll(ctx, conflict.EngagementID, canonical, others)
	if merge.Status == model.MergeFailed {
		c.opts.Metrics.ObserveMergeFailure()
	}
	return &model.ResolutionDetails{
		MergedFrom:    others,
		CanonicalName: canonical,
		MergeResult:   &merge,
	}, true
}

func (c *Classifier) checkTemporalShift(ctx context.Context, logger *zap.Logger, conflict *model.ConflictObject) (*model.ResolutionDetails, bool) {
	if conflict.SourceBID == "" {
		return nil, false
	}
	records, err := c.graph.RunQuery(ctx, driver.EffectiveDatesQuery, c.contextParams(conflict))
	if err != nil {
		logger.Warn("failed to look up effective dates", zap.Error(err))
		return nil, false
	}

	dates := map[string]driver.EffectiveDatesRow{}
	for _, rec := range records {
		row, err := driver.DecodeEffectiveDates(rec)
		if err != nil {
			logger.Warn("skipping unreadable effective dates",
				zap.String("source_id", row.SourceID), zap.Error(err))
			continue
		}
		if _, seen := dates[row.SourceID]; !seen {
			dates[row.SourceID] = row
		}
	}
	a, okA := dates[conflict.SourceAID]
	b, okB := dates[conflict.SourceBID]
	if !okA || !okB {
		return nil, false
	}

	shift, ok := temporal.DetectShift(a.EffectiveFrom, a.EffectiveTo, b.EffectiveFrom, b.EffectiveTo)
	if !ok {
		return nil, false
	}

	if err := c.tagValidity(ctx, conflict, shift); err != nil {
		logger.Error("failed to tag bitemporal validity", zap.Error(err))
	}

	rangeA, rangeB := shift.SourceA.Range(), shift.SourceB.Range()
	return &model.ResolutionDetails{
		SourceARange: &rangeA,
		SourceBRange: &rangeB,
		Annotation:   shift.Annotation,
	}, true
}

// tagValidity stamps both sources' edges with their validity windows. Setting
// the same values twice leaves the graph unchanged.
func (c *Classifier) tagValidity(ctx context.Context, conflict *model.ConflictObject, shift *temporal.Shift) error {
	return c.graph.ExecuteWrite(ctx, func(tx driver.Tx) error {
		for _, side := range []struct {
			sourceID string
			window   temporal.Window
		}{
			{conflict.SourceAID, shift.SourceA},
			{conflict.SourceBID, shift.SourceB},
		} {
			var validTo any
			if side.window.To != nil {
				validTo = side.window.To.Format(time.DateOnly)
			}
			_, err := tx.Run(ctx, driver.TagValidityQuery, map[string]any{
				"source_id":     side.sourceID,
				"engagement_id": conflict.EngagementID,
				"valid_from":    side.window.From.Format(time.DateOnly),
				"valid_to":      validTo,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Classifier) frames(ctx context.Context, logger *zap.Logger, conflict *model.ConflictObject) []model.EpistemicFrame {
	sources := []string{conflict.SourceAID}
	if conflict.SourceBID != "" {
		sources = append(sources, conflict.SourceBID)
	}

	found := map[string]driver.EpistemicFrameRow{}
	records, err := c.graph.RunQuery(ctx, driver.EpistemicFramesQuery, c.contextParams(conflict))
	if err != nil {
		logger.Warn("failed to look up epistemic frames", zap.Error(err))
	}
	for _, rec := range records {
		row := driver.DecodeEpistemicFrame(rec)
		if _, seen := found[row.SourceID]; !seen {
			found[row.SourceID] = row
		}
	}

	frames := make([]model.EpistemicFrame, 0, len(sources))
	for _, id := range sources {
		row := found[id]
		frames = append(frames, model.EpistemicFrame{
			SourceID:     id,
			Frame:        orUnknown(row.Frame),
			EvidenceType: orUnknown(row.EvidenceType),
		})
	}
	return frames
}

func orUnknown(s string) string {
	if s == "" {
		return unknownFrame
	}
	return s
}
