package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetectedConflictCanonical(t *testing.T) {
	d := DetectedConflict{
		MismatchType:   SequenceMismatch,
		SourceAID:      "s2",
		SourceBID:      "s1",
		EdgeAData:      map[string]any{"from": "B"},
		EdgeBData:      map[string]any{"from": "A"},
		ConflictDetail: map[string]any{
			"rule_text_a":    "over 5k",
			"rule_text_b":    "over 10k",
			"source_a_range": "2023",
			"activity":       "Approve",
		},
	}

	c := d.Canonical()
	assert.Equal(t, "s1", c.SourceAID)
	assert.Equal(t, "s2", c.SourceBID)
	assert.Equal(t, "A", c.EdgeAData["from"])
	assert.Equal(t, "over 10k", c.ConflictDetail["rule_text_a"])
	assert.Equal(t, "over 5k", c.ConflictDetail["rule_text_b"])
	assert.Equal(t, "2023", c.ConflictDetail["source_b_range"])
	assert.Equal(t, "Approve", c.ConflictDetail["activity"])
	assert.Equal(t, c, c.Canonical())

	gap := DetectedConflict{MismatchType: ControlGap, SourceAID: "z", SourceBID: "a"}
	assert.Equal(t, gap, gap.Canonical())

	single := DetectedConflict{MismatchType: RoleMismatch, SourceAID: "z"}
	assert.Equal(t, single, single.Canonical())
}

func TestBuildDisagreementReport(t *testing.T) {
	now := time.Now()
	conflicts := []*ConflictObject{
		{ID: "1", MismatchType: SequenceMismatch, Severity: 0.4, ResolutionStatus: StatusResolved, ResolutionType: NamingVariant, CreatedAt: now},
		{ID: "2", MismatchType: SequenceMismatch, Severity: 0.9, ResolutionStatus: StatusUnresolved, ResolutionType: GenuineDisagreement, CreatedAt: now},
		{ID: "3", MismatchType: RoleMismatch, Severity: 0.9, ResolutionStatus: StatusEscalated, CreatedAt: now.Add(-time.Hour)},
	}

	report := BuildDisagreementReport("eng", conflicts)

	assert.Equal(t, []string{"3", "2", "1"}, []string{report.Conflicts[0].ID, report.Conflicts[1].ID, report.Conflicts[2].ID})
	assert.Equal(t, 3, report.Summary.TotalConflicts)
	assert.Equal(t, 1, report.Summary.OpenCount)
	assert.Equal(t, 1, report.Summary.EscalatedCount)
	assert.Equal(t, 1, report.Summary.ResolvedCount)
	assert.Equal(t, 1, report.Summary.UnclassifiedCount)
	assert.Equal(t, 2, report.Summary.TypeBreakdown[SequenceMismatch])
	assert.Equal(t, 33.33, report.Summary.AgreementRate)
	// Input order is left alone.
	assert.Equal(t, "1", conflicts[0].ID)
}

func TestListFilterMatch(t *testing.T) {
	minSeverity := 0.5
	escalated := true
	c := &ConflictObject{MismatchType: RoleMismatch, Severity: 0.7, EscalationFlag: true, ResolutionStatus: StatusEscalated}

	assert.True(t, ListFilter{}.Match(c))
	assert.True(t, ListFilter{MismatchType: RoleMismatch, MinSeverity: &minSeverity, Escalated: &escalated}.Match(c))
	assert.False(t, ListFilter{MismatchType: SequenceMismatch}.Match(c))
	assert.False(t, ListFilter{ResolutionStatus: StatusResolved}.Match(c))
}
