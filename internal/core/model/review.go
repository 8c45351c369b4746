package model

import (
	"sort"
	"time"
)

// DefaultEscalationThreshold is how long a conflict may stay unresolved before
// the overdue check escalates it.
const DefaultEscalationThreshold = 48 * time.Hour

type ListFilter struct {
	MismatchType     MismatchType
	ResolutionStatus ResolutionStatus
	ResolutionType   ResolutionType
	MinSeverity      *float64
	MaxSeverity      *float64
	Escalated        *bool
	Limit            int
	Offset           int
}

// Match applies the filter in memory. SQL stores push the same predicates down.
func (f ListFilter) Match(c *ConflictObject) bool {
	if f.MismatchType != "" && c.MismatchType != f.MismatchType {
		return false
	}
	if f.ResolutionStatus != "" && c.ResolutionStatus != f.ResolutionStatus {
		return false
	}
	if f.ResolutionType != "" && c.ResolutionType != f.ResolutionType {
		return false
	}
	if f.MinSeverity != nil && c.Severity < *f.MinSeverity {
		return false
	}
	if f.MaxSeverity != nil && c.Severity > *f.MaxSeverity {
		return false
	}
	if f.Escalated != nil && c.EscalationFlag != *f.Escalated {
		return false
	}
	return true
}

type ResolveRequest struct {
	ResolutionType  ResolutionType `json:"resolution_type"`
	ResolutionNotes string         `json:"resolution_notes"`
	ResolverID      string         `json:"resolver_id"`
}

type DisagreementSummary struct {
	TotalConflicts    int                    `json:"total_conflicts"`
	OpenCount         int                    `json:"open_count"`
	EscalatedCount    int                    `json:"escalated_count"`
	ResolvedCount     int                    `json:"resolved_count"`
	UnclassifiedCount int                    `json:"unclassified_count"`
	TypeBreakdown     map[MismatchType]int   `json:"type_breakdown"`
	ResolutionCounts  map[ResolutionType]int `json:"resolution_breakdown"`
	// AgreementRate is the share of conflicts already resolved, in percent.
	AgreementRate float64 `json:"agreement_rate"`
}

type DisagreementReport struct {
	EngagementID string              `json:"engagement_id"`
	Summary      DisagreementSummary `json:"summary"`
	Conflicts    []*ConflictObject   `json:"conflicts"`
}

// BuildDisagreementReport orders conflicts by severity (highest first, then
// oldest first) and counts them by status and type.
func BuildDisagreementReport(engagementID string, conflicts []*ConflictObject) *DisagreementReport {
	sorted := make([]*ConflictObject, len(conflicts))
	copy(sorted, conflicts)
	SortBySeverity(sorted)

	summary := DisagreementSummary{
		TypeBreakdown:    map[MismatchType]int{},
		ResolutionCounts: map[ResolutionType]int{},
	}
	for _, c := range sorted {
		summary.TotalConflicts++
		switch c.ResolutionStatus {
		case StatusUnresolved:
			summary.OpenCount++
		case StatusEscalated:
			summary.EscalatedCount++
		case StatusResolved:
			summary.ResolvedCount++
		}
		summary.TypeBreakdown[c.MismatchType]++
		if c.ResolutionType == "" {
			summary.UnclassifiedCount++
		} else {
			summary.ResolutionCounts[c.ResolutionType]++
		}
	}
	if summary.TotalConflicts > 0 {
		rate := float64(summary.ResolvedCount) / float64(summary.TotalConflicts) * 100
		summary.AgreementRate = float64(int64(rate*100+0.5)) / 100
	}

	return &DisagreementReport{
		EngagementID: engagementID,
		Summary:      summary,
		Conflicts:    sorted,
	}
}

func SortBySeverity(conflicts []*ConflictObject) {
	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Severity != conflicts[j].Severity {
			return conflicts[i].Severity > conflicts[j].Severity
		}
		return conflicts[i].CreatedAt.Before(conflicts[j].CreatedAt)
	})
}
