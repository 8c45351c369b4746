package detection

import (
	"context"
	"fmt"

	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/agenthands/crosscheck/internal/driver"
)

// SequenceDetector finds A PRECEDES B asserted by one source and B PRECEDES A by another.
type SequenceDetector struct{ base }

func NewSequenceDetector(graph driver.GraphService, opts Options) *SequenceDetector {
	return &SequenceDetector{newBase(graph, opts, model.SequenceMismatch, driver.SequenceMismatchQuery)}
}

func (d *SequenceDetector) Detect(ctx context.Context, engagementID string) ([]model.DetectedConflict, error) {
	records, err := d.fetch(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	conflicts := make([]model.DetectedConflict, 0, len(records))
	for _, rec := range records {
		row := driver.DecodeSequenceMismatch(rec)
		score, label := d.score(row.WeightA, row.WeightB, row.CreatedA, row.CreatedB)
		conflicts = append(conflicts, model.DetectedConflict{
			MismatchType:  model.SequenceMismatch,
			EngagementID:  engagementID,
			SourceAID:     row.SourceAID,
			SourceBID:     row.SourceBID,
			SeverityScore: score,
			SeverityLabel: label,
			Detail:        fmt.Sprintf("Contradictory sequence: %s ↔ %s", row.ActivityA, row.ActivityB),
			EdgeAData:     map[string]any{"from": row.ActivityA, "to": row.ActivityB, "created_at": formatTime(row.CreatedA)},
			EdgeBData:     map[string]any{"from": row.ActivityB, "to": row.ActivityA, "created_at": formatTime(row.CreatedB)},
			ConflictDetail: map[string]any{
				"activity_a": row.ActivityA,
				"activity_b": row.ActivityB,
				"weight_a":   row.WeightA,
				"weight_b":   row.WeightB,
			},
		})
	}
	return conflicts, nil
}

// RoleDetector finds one activity performed by different roles according to different sources.
type RoleDetector struct{ base }

func NewRoleDetector(graph driver.GraphService, opts Options) *RoleDetector {
	return &RoleDetector{newBase(graph, opts, model.RoleMismatch, driver.RoleMismatchQuery)}
}

func (d *RoleDetector) Detect(ctx context.Context, engagementID string) ([]model.DetectedConflict, error) {
	records, err := d.fetch(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	conflicts := make([]model.DetectedConflict, 0, len(records))
	for _, rec := range records {
		row := driver.DecodeRoleMismatch(rec)
		score, label := d.score(row.WeightA, row.WeightB, row.CreatedA, row.CreatedB)
		conflicts = append(conflicts, model.DetectedConflict{
			MismatchType:  model.RoleMismatch,
			EngagementID:  engagementID,
			SourceAID:     row.SourceAID,
			SourceBID:     row.SourceBID,
			SeverityScore: score,
			SeverityLabel: label,
			Detail:        fmt.Sprintf("Role mismatch for '%s': %s vs %s", row.Activity, row.RoleA, row.RoleB),
			EdgeAData:     map[string]any{"activity": row.Activity, "role": row.RoleA},
			EdgeBData:     map[string]any{"activity": row.Activity, "role": row.RoleB},
			ConflictDetail: map[string]any{
				"activity": row.Activity,
				"role_a":   row.RoleA,
				"role_b":   row.RoleB,
			},
		})
	}
	return conflicts, nil
}

// IODetector finds a downstream activity consuming an artifact that its
// upstream activity, per another source, never produces.
type IODetector struct{ base }

func NewIODetector(graph driver.GraphService, opts Options) *IODetector {
	return &IODetector{newBase(graph, opts, model.IOMismatch, driver.IOMismatchQuery)}
}

func (d *IODetector) Detect(ctx context.Context, engagementID string) ([]model.DetectedConflict, error) {
	records, err := d.fetch(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	conflicts := make([]model.DetectedConflict, 0, len(records))
	for _, rec := range records {
		row := driver.DecodeIOMismatch(rec)
		score, label := d.score(row.WeightA, row.WeightB, row.CreatedA, row.CreatedB)
		conflicts = append(conflicts, model.DetectedConflict{
			MismatchType:  model.IOMismatch,
			EngagementID:  engagementID,
			SourceAID:     row.SourceAID,
			SourceBID:     row.SourceBID,
			SeverityScore: score,
			SeverityLabel: label,
			Detail: fmt.Sprintf("I/O mismatch: '%s' consumes '%s' but upstream '%s' does not produce it",
				row.Downstream, row.Artifact, row.Upstream),
			EdgeAData: map[string]any{"from": row.Upstream, "to": row.Downstream},
			EdgeBData: map[string]any{"activity": row.Downstream, "consumes": row.Artifact},
			ConflictDetail: map[string]any{
				"upstream":   row.Upstream,
				"downstream": row.Downstream,
				"artifact":   row.Artifact,
			},
		})
	}
	return conflicts, nil
}
