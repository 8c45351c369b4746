package model

import "time"

type TermStatus string

const (
	TermActive     TermStatus = "active"
	TermDeprecated TermStatus = "deprecated"
	TermMerged     TermStatus = "merged"
)

// SeedTerm is a canonical vocabulary entry. A merged term points at the term
// it was folded into; CanonicalTerm carries that term's text when loaded.
type SeedTerm struct {
	ID            string     `json:"id"`
	EngagementID  string     `json:"engagement_id"`
	Term          string     `json:"term"`
	Domain        string     `json:"domain"`
	Status        TermStatus `json:"status"`
	MergedInto    string     `json:"merged_into,omitempty"`
	CanonicalTerm string     `json:"canonical_term,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Shelf request lifecycle: draft, open, in_progress, complete. Requests raised
// by detection start open so the intake flow can pick them up.
const (
	ShelfRequestDraft      = "draft"
	ShelfRequestOpen       = "open"
	ShelfRequestInProgress = "in_progress"
	ShelfRequestComplete   = "complete"
)

// ShelfDataRequest asks the client for evidence that would close a gap.
type ShelfDataRequest struct {
	ID           string    `json:"id"`
	EngagementID string    `json:"engagement_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}
