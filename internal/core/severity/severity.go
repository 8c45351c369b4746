package severity

import (
	"math"
	"strings"
	"time"
)

const (
	DefaultRecencyWindowDays = 30

	// maxRecencyReduction is the largest share a fresh authoritative source
	// takes off the score.
	maxRecencyReduction = 0.2

	Critical = "critical"
	High     = "high"
	Medium   = "medium"
	Low      = "low"
)

// Compute scores a contradiction between two sources relative to the current time.
func Compute(weightA, weightB float64, createdA, createdB *time.Time, recencyWindowDays int) float64 {
	return ComputeAt(time.Now().UTC(), weightA, weightB, createdA, createdB, recencyWindowDays)
}

// ComputeAt scores a contradiction. Sources of similar authority score high.
// When both creation times are known and the higher-weight source (A on ties)
// is inside the recency window, the score drops by up to 20% with freshness.
func ComputeAt(now time.Time, weightA, weightB float64, createdA, createdB *time.Time, recencyWindowDays int) float64 {
	base := 1.0 - math.Abs(weightA-weightB)

	factor := 1.0
	if createdA != nil && createdB != nil && recencyWindowDays > 0 {
		authoritative := *createdA
		if weightB > weightA {
			authoritative = *createdB
		}

		window := float64(recencyWindowDays)
		cutoff := now.Add(-time.Duration(recencyWindowDays) * 24 * time.Hour)
		if !authoritative.Before(cutoff) {
			daysAgo := now.Sub(authoritative).Hours() / 24
			freshness := clamp(1.0-daysAgo/window, 0, 1)
			factor = 1.0 - maxRecencyReduction*freshness
		}
	}

	return round4(clamp(base*factor, 0, 1))
}

// Label maps a score to critical, high, medium or low.
func Label(score float64) string {
	switch {
	case score >= 0.8:
		return Critical
	case score >= 0.6:
		return High
	case score >= 0.4:
		return Medium
	default:
		return Low
	}
}

var defaultAuthorityWeights = map[string]float64{
	"policy_document":      0.9,
	"regulatory_filing":    0.9,
	"control_register":     0.85,
	"system_export":        0.8,
	"structured_data":      0.75,
	"bpm_model":            0.7,
	"interview_transcript": 0.5,
	"observation_notes":    0.4,
	"email_communication":  0.3,
}

const DefaultAuthorityWeight = 0.5

// AuthorityWeight returns the default weight for an evidence type.
func AuthorityWeight(evidenceType string) float64 {
	if w, ok := defaultAuthorityWeights[strings.ToLower(strings.TrimSpace(evidenceType))]; ok {
		return w
	}
	return DefaultAuthorityWeight
}

var criticalityKeywords = []struct {
	keyword string
	score   float64
}{
	{"financial", 0.9},
	{"payment", 0.9},
	{"approval", 0.8},
	{"compliance", 0.8},
	{"audit", 0.75},
}

const DefaultCriticality = 0.6

// ActivityCriticality scores an activity name by keyword. The highest match wins.
func ActivityCriticality(name string) float64 {
	lower := strings.ToLower(name)
	best := DefaultCriticality
	for _, k := range criticalityKeywords {
		if strings.Contains(lower, k.keyword) && k.score > best {
			best = k.score
		}
	}
	return best
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
