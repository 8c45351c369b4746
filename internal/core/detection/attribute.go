package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/agenthands/crosscheck/internal/core/severity"
	"github.com/agenthands/crosscheck/internal/core/temporal"
	"github.com/agenthands/crosscheck/internal/driver"
)

// TemporalResolution is the advisory hint attached when two sources' effective
// ranges do not overlap.
type TemporalResolution struct {
	Annotation   string
	SourceARange model.DateRange
	SourceBRange model.DateRange
}

// CheckTemporalResolution reports whether two effective ranges are disjoint.
// Both starts are required; a missing end is open-ended.
func CheckTemporalResolution(fromA, toA, fromB, toB *time.Time) (*TemporalResolution, bool) {
	shift, ok := temporal.DetectShift(fromA, toA, fromB, toB)
	if !ok {
		return nil, false
	}
	return &TemporalResolution{
		Annotation:   shift.Annotation,
		SourceARange: shift.SourceA.Range(),
		SourceBRange: shift.SourceB.Range(),
	}, true
}

// RuleDetector finds business rules on one activity whose text differs across sources.
type RuleDetector struct{ base }

func NewRuleDetector(graph driver.GraphService, opts Options) *RuleDetector {
	return &RuleDetector{newBase(graph, opts, model.RuleMismatch, driver.RuleMismatchQuery)}
}

func (d *RuleDetector) Detect(ctx context.Context, engagementID string) ([]model.DetectedConflict, error) {
	records, err := d.fetch(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	conflicts := make([]model.DetectedConflict, 0, len(records))
	for _, rec := range records {
		row := driver.DecodeRuleMismatch(rec)
		score, label := d.score(row.WeightA, row.WeightB, row.CreatedA, row.CreatedB)

		detail := map[string]any{
			"activity":    row.Activity,
			"rule_text_a": row.RuleTextA,
			"rule_text_b": row.RuleTextB,
			"threshold_a": row.ThresholdA,
			"threshold_b": row.ThresholdB,
		}
		var hint string
		if tr, ok := CheckTemporalResolution(row.EffectiveFromA, row.EffectiveToA, row.EffectiveFromB, row.EffectiveToB); ok {
			hint = string(model.TemporalShift)
			detail["temporal_annotation"] = tr.Annotation
			detail["source_a_range"] = tr.SourceARange
			detail["source_b_range"] = tr.SourceBRange
		}

		conflicts = append(conflicts, model.DetectedConflict{
			MismatchType:   model.RuleMismatch,
			EngagementID:   engagementID,
			SourceAID:      row.SourceAID,
			SourceBID:      row.SourceBID,
			SeverityScore:  score,
			SeverityLabel:  label,
			Detail:         fmt.Sprintf("Rule mismatch for '%s': '%s' vs '%s'", row.Activity, row.RuleTextA, row.RuleTextB),
			EdgeAData:      map[string]any{"rule_text": row.RuleTextA, "threshold": row.ThresholdA},
			EdgeBData:      map[string]any{"rule_text": row.RuleTextB, "threshold": row.ThresholdB},
			ConflictDetail: detail,
			ResolutionHint: hint,
		})
	}
	return conflicts, nil
}

// ExistenceDetector finds activities evidenced by one source but missing from another.
type ExistenceDetector struct{ base }

func NewExistenceDetector(graph driver.GraphService, opts Options) *ExistenceDetector {
	return &ExistenceDetector{newBase(graph, opts, model.ExistenceMismatch, driver.ExistenceMismatchQuery)}
}

func (d *ExistenceDetector) Detect(ctx context.Context, engagementID string) ([]model.DetectedConflict, error) {
	records, err := d.fetch(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	conflicts := make([]model.DetectedConflict, 0, len(records))
	for _, rec := range records {
		row := driver.DecodeExistenceMismatch(rec)
		weightPresent := evidenceWeight(row.WeightPresent, row.TypePresent)
		weightAbsent := evidenceWeight(row.WeightAbsent, row.TypeAbsent)
		// Presence is not time-stamped per source pair, so recency does not apply.
		score, label := d.score(weightPresent, weightAbsent, nil, nil)

		comparison := "higher"
		if weightAbsent < weightPresent {
			comparison = "lower"
		}
		detail := map[string]any{
			"activity":            row.Activity,
			"source_present_type": orUnknown(row.TypePresent),
			"source_absent_type":  orUnknown(row.TypeAbsent),
			"weight_present":      weightPresent,
			"weight_absent":       weightAbsent,
			"note": fmt.Sprintf("Absent source %s (%s) has %s default authority weight than present source %s (%s)",
				row.SourceAbsentID, orUnknown(row.TypeAbsent), comparison, row.SourcePresentID, orUnknown(row.TypePresent)),
		}
		var hint string
		if tr, ok := CheckTemporalResolution(row.EffectiveFromPresent, row.EffectiveToPresent, row.EffectiveFromAbsent, row.EffectiveToAbsent); ok {
			hint = string(model.TemporalShift)
			detail["temporal_annotation"] = tr.Annotation
		}

		conflicts = append(conflicts, model.DetectedConflict{
			MismatchType:  model.ExistenceMismatch,
			EngagementID:  engagementID,
			SourceAID:     row.SourcePresentID,
			SourceBID:     row.SourceAbsentID,
			SeverityScore: score,
			SeverityLabel: label,
			Detail: fmt.Sprintf("Existence mismatch: '%s' present in source %s but absent from source %s",
				row.Activity, row.SourcePresentID, row.SourceAbsentID),
			EdgeAData:      map[string]any{"activity": row.Activity, "status": "present", "source_id": row.SourcePresentID},
			EdgeBData:      map[string]any{"activity": row.Activity, "status": "absent", "source_id": row.SourceAbsentID},
			ConflictDetail: detail,
			ResolutionHint: hint,
		})
	}
	return conflicts, nil
}

// evidenceWeight uses the evidence type's default authority when no weight
// was recorded or only the neutral default was.
func evidenceWeight(w *float64, evidenceType string) float64 {
	if w != nil && *w != driver.DefaultSourceWeight {
		return *w
	}
	if evidenceType != "" {
		return severity.AuthorityWeight(evidenceType)
	}
	return driver.DefaultSourceWeight
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
