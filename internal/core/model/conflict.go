package model

import "time"

type MismatchType string

const (
	SequenceMismatch  MismatchType = "sequence_mismatch"
	RoleMismatch      MismatchType = "role_mismatch"
	RuleMismatch      MismatchType = "rule_mismatch"
	ExistenceMismatch MismatchType = "existence_mismatch"
	IOMismatch        MismatchType = "io_mismatch"
	ControlGap        MismatchType = "control_gap"
)

var MismatchTypes = []MismatchType{
	SequenceMismatch,
	RoleMismatch,
	RuleMismatch,
	ExistenceMismatch,
	IOMismatch,
	ControlGap,
}

func (m MismatchType) Valid() bool {
	for _, t := range MismatchTypes {
		if m == t {
			return true
		}
	}
	return false
}

type ResolutionType string

const (
	NamingVariant       ResolutionType = "naming_variant"
	TemporalShift       ResolutionType = "temporal_shift"
	GenuineDisagreement ResolutionType = "genuine_disagreement"
)

func (r ResolutionType) Valid() bool {
	return r == NamingVariant || r == TemporalShift || r == GenuineDisagreement
}

type ResolutionStatus string

const (
	StatusUnresolved ResolutionStatus = "unresolved"
	StatusResolved   ResolutionStatus = "resolved"
	StatusEscalated  ResolutionStatus = "escalated"
)

func (s ResolutionStatus) Valid() bool {
	return s == StatusUnresolved || s == StatusResolved || s == StatusEscalated
}

// ConflictObject is the stored record of one contradiction between two sources.
// Empty strings stand for SQL NULL in SourceBID, ResolutionType, ResolutionHint
// and ResolverID.
type ConflictObject struct {
	ID               string           `json:"id"`
	EngagementID     string           `json:"engagement_id"`
	MismatchType     MismatchType     `json:"mismatch_type"`
	SourceAID        string           `json:"source_a_id"`
	SourceBID        string           `json:"source_b_id,omitempty"`
	Severity         float64          `json:"severity"`
	EscalationFlag   bool             `json:"escalation_flag"`
	ResolutionType   ResolutionType   `json:"resolution_type,omitempty"`
	ResolutionStatus ResolutionStatus `json:"resolution_status"`

	ResolutionDetails *ResolutionDetails `json:"resolution_details,omitempty"`
	ResolutionHint    string             `json:"resolution_hint,omitempty"`
	ResolutionNotes   string             `json:"resolution_notes,omitempty"`
	ResolverID        string             `json:"resolver_id,omitempty"`
	ConflictDetail    map[string]any     `json:"conflict_detail,omitempty"`

	ClassifiedAt      *time.Time `json:"classified_at,omitempty"`
	ClassifierVersion string     `json:"classifier_version,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (c *ConflictObject) IsClassified() bool {
	return c.ResolutionType != ""
}

func (c *ConflictObject) Key() ConflictKey {
	return ConflictKey{
		EngagementID: c.EngagementID,
		MismatchType: c.MismatchType,
		SourceAID:    c.SourceAID,
		SourceBID:    c.SourceBID,
	}
}

// ResolutionDetails is the classifier's payload. Which fields are set depends
// on the resolution type.
type ResolutionDetails struct {
	// naming_variant
	MergedFrom    []string     `json:"merged_from,omitempty"`
	CanonicalName string       `json:"canonical_name,omitempty"`
	MergeResult   *MergeResult `json:"merge_result,omitempty"`

	// temporal_shift
	SourceARange *DateRange `json:"source_a_range,omitempty"`
	SourceBRange *DateRange `json:"source_b_range,omitempty"`
	Annotation   string     `json:"annotation,omitempty"`

	// genuine_disagreement
	ConflictingFrames []EpistemicFrame `json:"conflicting_frames,omitempty"`
	RequiresSMEReview bool             `json:"requires_sme_review,omitempty"`

	ResolutionNote string `json:"resolution_note,omitempty"`
}

type MergeStatus string

const (
	MergeMerged        MergeStatus = "merged"
	MergeAlreadyMerged MergeStatus = "already_merged"
	MergeFailed        MergeStatus = "merge_failed"
)

type MergeResult struct {
	Status     MergeStatus `json:"status"`
	Canonical  string      `json:"canonical"`
	Removed    []string    `json:"removed,omitempty"`
	EdgesMoved int64       `json:"edges_moved"`
	Error      string      `json:"error,omitempty"`
}

// DateRange holds ISO dates. A nil To is open-ended.
type DateRange struct {
	From string  `json:"from"`
	To   *string `json:"to"`
}

type EpistemicFrame struct {
	SourceID     string `json:"source_id"`
	Frame        string `json:"frame"`
	EvidenceType string `json:"evidence_type"`
}
