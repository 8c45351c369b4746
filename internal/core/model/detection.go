package model

import "strings"

// ConflictKey identifies a conflict for deduplication.
type ConflictKey struct {
	EngagementID string
	MismatchType MismatchType
	SourceAID    string
	SourceBID    string
}

// DetectedConflict is a candidate emitted by a detector, before persistence.
type DetectedConflict struct {
	MismatchType   MismatchType   `json:"mismatch_type"`
	EngagementID   string         `json:"engagement_id"`
	SourceAID      string         `json:"source_a_id"`
	SourceBID      string         `json:"source_b_id,omitempty"`
	SeverityScore  float64        `json:"severity_score"`
	SeverityLabel  string         `json:"severity_label"`
	Detail         string         `json:"detail"`
	EdgeAData      map[string]any `json:"edge_a_data,omitempty"`
	EdgeBData      map[string]any `json:"edge_b_data,omitempty"`
	ConflictDetail map[string]any `json:"conflict_detail,omitempty"`
	ResolutionHint string         `json:"resolution_hint,omitempty"`
}

// Canonical orders a two-source conflict so the smaller source id comes first,
// swapping the edge payloads and the a/b keys of the detail with it.
// Single-source conflicts are unchanged.
func (d DetectedConflict) Canonical() DetectedConflict {
	if d.SourceBID == "" || d.MismatchType == ControlGap || d.SourceAID <= d.SourceBID {
		return d
	}
	d.SourceAID, d.SourceBID = d.SourceBID, d.SourceAID
	d.EdgeAData, d.EdgeBData = d.EdgeBData, d.EdgeAData
	d.ConflictDetail = swapSides(d.ConflictDetail)
	return d
}

// swapSides exchanges keys like rule_text_a/rule_text_b and source_a_range/source_b_range.
func swapSides(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[otherSide(k)] = v
	}
	return out
}

func otherSide(key string) string {
	parts := strings.Split(key, "_")
	for i, p := range parts {
		switch p {
		case "a":
			parts[i] = "b"
		case "b":
			parts[i] = "a"
		}
	}
	return strings.Join(parts, "_")
}

func (d DetectedConflict) Key() ConflictKey {
	return ConflictKey{
		EngagementID: d.EngagementID,
		MismatchType: d.MismatchType,
		SourceAID:    d.SourceAID,
		SourceBID:    d.SourceBID,
	}
}

type DetectionResult struct {
	EngagementID         string               `json:"engagement_id"`
	Conflicts            []DetectedConflict   `json:"conflicts"`
	CountsByType         map[MismatchType]int `json:"counts_by_type"`
	FailedDetectors      []MismatchType       `json:"failed_detectors,omitempty"`
	NewPersisted         int                  `json:"new_persisted"`
	ShelfRequestsCreated int                  `json:"shelf_requests_created"`
}

func NewDetectionResult(engagementID string) *DetectionResult {
	counts := make(map[MismatchType]int, len(MismatchTypes))
	for _, t := range MismatchTypes {
		counts[t] = 0
	}
	return &DetectionResult{
		EngagementID: engagementID,
		Conflicts:    []DetectedConflict{},
		CountsByType: counts,
	}
}

func (r *DetectionResult) TotalConflicts() int {
	return len(r.Conflicts)
}

func (r *DetectionResult) SequencesChecked() int { return r.CountsByType[SequenceMismatch] }
func (r *DetectionResult) RolesChecked() int     { return r.CountsByType[RoleMismatch] }
