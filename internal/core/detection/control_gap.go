package detection

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/agenthands/crosscheck/internal/core/severity"
	"github.com/agenthands/crosscheck/internal/driver"
	"go.uber.org/zap"
)

// ControlGapDetector finds activities governed by a policy that requires a
// control which no source shows implemented.
type ControlGapDetector struct{ base }

func NewControlGapDetector(graph driver.GraphService, opts Options) *ControlGapDetector {
	return &ControlGapDetector{newBase(graph, opts, model.ControlGap, driver.ControlGapQuery)}
}

func (d *ControlGapDetector) Detect(ctx context.Context, engagementID string) ([]model.DetectedConflict, error) {
	records, err := d.fetch(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	conflicts := make([]model.DetectedConflict, 0, len(records))
	for _, rec := range records {
		row := driver.DecodeControlGap(rec)

		sourceA, sourceB := row.ActivitySourceID, row.PolicySourceID
		if sourceA == "" {
			sourceA, sourceB = row.PolicySourceID, ""
		}
		if sourceB == sourceA {
			sourceB = ""
		}
		if sourceA == "" {
			d.opts.Logger.Debug("skipping control gap without provenance",
				zap.String("engagement_id", engagementID),
				zap.String("activity", row.Activity))
			continue
		}

		criticality := severity.ActivityCriticality(row.Activity)
		if row.Criticality != nil {
			criticality = *row.Criticality
		}
		// A single-source gap has no second authority; full weight against
		// criticality yields the criticality itself.
		score, label := d.score(1.0, criticality, nil, nil)

		detail := fmt.Sprintf("Control gap: '%s' is governed by policy '%s' which requires control '%s', but no implementation was found",
			row.Activity, row.Policy, row.Control)
		if row.Regulation != "" {
			detail += fmt.Sprintf(" (regulation: %s)", row.Regulation)
		}

		conflicts = append(conflicts, model.DetectedConflict{
			MismatchType:  model.ControlGap,
			EngagementID:  engagementID,
			SourceAID:     sourceA,
			SourceBID:     sourceB,
			SeverityScore: score,
			SeverityLabel: label,
			Detail:        detail,
			EdgeAData:     map[string]any{"activity": row.Activity, "policy": row.Policy},
			EdgeBData:     map[string]any{"control": row.Control, "implemented": false},
			ConflictDetail: map[string]any{
				"activity":    row.Activity,
				"policy":      row.Policy,
				"control":     row.Control,
				"regulation":  row.Regulation,
				"criticality": criticality,
			},
		})
	}
	return conflicts, nil
}

// ShelfRequestTitle is the dedup key of the evidence request raised for a gap.
func ShelfRequestTitle(activity string) string {
	return fmt.Sprintf("Evidence required: governance control for [%s]", activity)
}

func shelfRequestDescription(c model.DetectedConflict) string {
	var b strings.Builder
	b.WriteString(c.Detail)
	b.WriteString("\n\nAny of the following would close this gap:\n")
	b.WriteString("- control register entry\n")
	b.WriteString("- audit report\n")
	b.WriteString("- policy procedure")
	return b.String()
}

// shelfRequests drafts one request per distinct gap activity not already requested.
func shelfRequests(engagementID string, gaps []model.DetectedConflict, existing map[string]struct{}) []*model.ShelfDataRequest {
	seen := make(map[string]struct{}, len(existing)+len(gaps))
	for t := range existing {
		seen[t] = struct{}{}
	}

	var out []*model.ShelfDataRequest
	for _, gap := range gaps {
		activity, _ := gap.ConflictDetail["activity"].(string)
		title := ShelfRequestTitle(activity)
		if _, ok := seen[title]; ok {
			continue
		}
		seen[title] = struct{}{}
		out = append(out, &model.ShelfDataRequest{
			EngagementID: engagementID,
			Title:        title,
			Description:  shelfRequestDescription(gap),
			Status:       model.ShelfRequestOpen,
		})
	}
	return out
}
