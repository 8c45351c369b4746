package driver

import "time"

// DefaultSourceWeight stands in for a missing source_weight on an edge.
const DefaultSourceWeight = 0.5

type SequenceMismatchRow struct {
	ActivityA string
	ActivityB string
	SourceAID string
	SourceBID string
	WeightA   float64
	WeightB   float64
	CreatedA  *time.Time
	CreatedB  *time.Time
}

func DecodeSequenceMismatch(r Record) SequenceMismatchRow {
	return SequenceMismatchRow{
		ActivityA: r.String("activity_a"),
		ActivityB: r.String("activity_b"),
		SourceAID: r.String("source_a_id"),
		SourceBID: r.String("source_b_id"),
		WeightA:   r.FloatOr("weight_a", DefaultSourceWeight),
		WeightB:   r.FloatOr("weight_b", DefaultSourceWeight),
		CreatedA:  r.Time("created_a"),
		CreatedB:  r.Time("created_b"),
	}
}

type RoleMismatchRow struct {
	Activity  string
	RoleA     string
	RoleB     string
	SourceAID string
	SourceBID string
	WeightA   float64
	WeightB   float64
	CreatedA  *time.Time
	CreatedB  *time.Time
}

func DecodeRoleMismatch(r Record) RoleMismatchRow {
	return RoleMismatchRow{
		Activity:  r.String("activity_name"),
		RoleA:     r.String("role_a"),
		RoleB:     r.String("role_b"),
		SourceAID: r.String("source_a_id"),
		SourceBID: r.String("source_b_id"),
		WeightA:   r.FloatOr("weight_a", DefaultSourceWeight),
		WeightB:   r.FloatOr("weight_b", DefaultSourceWeight),
		CreatedA:  r.Time("created_a"),
		CreatedB:  r.Time("created_b"),
	}
}

type RuleMismatchRow struct {
	Activity       string
	RuleTextA      string
	RuleTextB      string
	ThresholdA     *float64
	ThresholdB     *float64
	SourceAID      string
	SourceBID      string
	WeightA        float64
	WeightB        float64
	CreatedA       *time.Time
	CreatedB       *time.Time
	EffectiveFromA *time.Time
	EffectiveToA   *time.Time
	EffectiveFromB *time.Time
	EffectiveToB   *time.Time
}

func DecodeRuleMismatch(r Record) RuleMismatchRow {
	return RuleMismatchRow{
		Activity:       r.String("activity_name"),
		RuleTextA:      r.String("rule_text_a"),
		RuleTextB:      r.String("rule_text_b"),
		ThresholdA:     r.FloatPtr("threshold_a"),
		ThresholdB:     r.FloatPtr("threshold_b"),
		SourceAID:      r.String("source_a_id"),
		SourceBID:      r.String("source_b_id"),
		WeightA:        r.FloatOr("weight_a", DefaultSourceWeight),
		WeightB:        r.FloatOr("weight_b", DefaultSourceWeight),
		CreatedA:       r.Time("created_a"),
		CreatedB:       r.Time("created_b"),
		EffectiveFromA: r.Time("effective_from_a"),
		EffectiveToA:   r.Time("effective_to_a"),
		EffectiveFromB: r.Time("effective_from_b"),
		EffectiveToB:   r.Time("effective_to_b"),
	}
}

// ExistenceMismatchRow keeps weights as pointers: a missing weight falls back
// to the evidence type's default authority rather than the neutral weight.
type ExistenceMismatchRow struct {
	Activity             string
	SourcePresentID      string
	SourceAbsentID       string
	TypePresent          string
	TypeAbsent           string
	WeightPresent        *float64
	WeightAbsent         *float64
	CreatedPresent       *time.Time
	CreatedAbsent        *time.Time
	EffectiveFromPresent *time.Time
	EffectiveToPresent   *time.Time
	EffectiveFromAbsent  *time.Time
	EffectiveToAbsent    *time.Time
}

func DecodeExistenceMismatch(r Record) ExistenceMismatchRow {
	return ExistenceMismatchRow{
		Activity:             r.String("activity_name"),
		SourcePresentID:      r.String("source_present_id"),
		SourceAbsentID:       r.String("source_absent_id"),
		TypePresent:          r.String("type_present"),
		TypeAbsent:           r.String("type_absent"),
		WeightPresent:        r.FloatPtr("weight_present"),
		WeightAbsent:         r.FloatPtr("weight_absent"),
		CreatedPresent:       r.Time("created_present"),
		CreatedAbsent:        r.Time("created_absent"),
		EffectiveFromPresent: r.Time("effective_from_present"),
		EffectiveToPresent:   r.Time("effective_to_present"),
		EffectiveFromAbsent:  r.Time("effective_from_absent"),
		EffectiveToAbsent:    r.Time("effective_to_absent"),
	}
}

type IOMismatchRow struct {
	Upstream   string
	Downstream string
	Artifact   string
	SourceAID  string
	SourceBID  string
	WeightA    float64
	WeightB    float64
	CreatedA   *time.Time
	CreatedB   *time.Time
}

func DecodeIOMismatch(r Record) IOMismatchRow {
	return IOMismatchRow{
		Upstream:   r.String("upstream"),
		Downstream: r.String("downstream"),
		Artifact:   r.String("artifact"),
		SourceAID:  r.String("source_a_id"),
		SourceBID:  r.String("source_b_id"),
		WeightA:    r.FloatOr("weight_a", DefaultSourceWeight),
		WeightB:    r.FloatOr("weight_b", DefaultSourceWeight),
		CreatedA:   r.Time("created_a"),
		CreatedB:   r.Time("created_b"),
	}
}

type ControlGapRow struct {
	Activity         string
	Policy           string
	Control          string
	Regulation       string
	ActivitySourceID string
	PolicySourceID   string
	Criticality      *float64
}

func DecodeControlGap(r Record) ControlGapRow {
	return ControlGapRow{
		Activity:         r.String("activity_name"),
		Policy:           r.String("policy_name"),
		Control:          r.String("control_name"),
		Regulation:       r.String("regulation_name"),
		ActivitySourceID: r.String("activity_source_id"),
		PolicySourceID:   r.String("policy_source_id"),
		Criticality:      r.FloatPtr("criticality"),
	}
}

type SourceNameRow struct {
	Name     string
	SourceID string
}

func DecodeSourceName(r Record) SourceNameRow {
	return SourceNameRow{Name: r.String("name"), SourceID: r.String("source_id")}
}

type EffectiveDatesRow struct {
	SourceID      string
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
}

// DecodeEffectiveDates fails when either date is present but is not a
// calendar timestamp, so a bad value is not mistaken for an open end.
func DecodeEffectiveDates(r Record) (EffectiveDatesRow, error) {
	row := EffectiveDatesRow{SourceID: r.String("source_id")}
	var err error
	if row.EffectiveFrom, err = r.TimeValue("effective_from"); err != nil {
		return row, err
	}
	if row.EffectiveTo, err = r.TimeValue("effective_to"); err != nil {
		return row, err
	}
	return row, nil
}

type EpistemicFrameRow struct {
	SourceID     string
	Frame        string
	EvidenceType string
}

func DecodeEpistemicFrame(r Record) EpistemicFrameRow {
	return EpistemicFrameRow{
		SourceID:     r.String("source_id"),
		Frame:        r.String("frame"),
		EvidenceType: r.String("evidence_type"),
	}
}
