package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agenthands/crosscheck/internal/core/detection"
	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/agenthands/crosscheck/internal/driver"
	"github.com/agenthands/crosscheck/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const engagementID = "6f1c1e0e-2b7a-4c59-9d59-3f0f4b1c2a10"

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	graph *driver.MockGraph
	store *store.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{graph: driver.NewMockGraph(), store: store.NewMemoryStore()}
	f.graph.Results[driver.MergeCountOtherQuery] = []driver.Record{{"found": int64(1)}}
	return f
}

func (f *fixture) classifier(version string) *Classifier {
	return New(f.graph, f.store, Options{Version: version, Now: func() time.Time { return fixedNow }})
}

func (f *fixture) addConflict(t *testing.T, srcA, srcB string) *model.ConflictObject {
	t.Helper()
	c := &model.ConflictObject{
		ID:               "c-" + srcA + "-" + srcB,
		EngagementID:     engagementID,
		MismatchType:     model.SequenceMismatch,
		SourceAID:        srcA,
		SourceBID:        srcB,
		Severity:         0.95,
		ResolutionStatus: model.StatusUnresolved,
		CreatedAt:        fixedNow.Add(-time.Hour),
	}
	_, _, err := f.store.SaveDetectionBatch(context.Background(), []*model.ConflictObject{c}, nil)
	require.NoError(t, err)
	return c
}

func (f *fixture) withNames(nameA, nameB string) {
	f.graph.Results[driver.ConflictingNamesQuery] = []driver.Record{
		{"name": "Shared Step", "source_id": "src-1"},
		{"name": nameA, "source_id": "src-1"},
		{"name": "Shared Step", "source_id": "src-2"},
		{"name": nameB, "source_id": "src-2"},
	}
}

func (f *fixture) withDates(fromA time.Time, toA *time.Time, fromB time.Time, toB *time.Time) {
	rowA := driver.Record{"source_id": "src-1", "effective_from": fromA}
	if toA != nil {
		rowA["effective_to"] = *toA
	}
	rowB := driver.Record{"source_id": "src-2", "effective_from": fromB}
	if toB != nil {
		rowB["effective_to"] = *toB
	}
	f.graph.Results[driver.EffectiveDatesQuery] = []driver.Record{rowA, rowB}
}

func ptr(t time.Time) *time.Time { return &t }

func TestClassifyNamingVariantRunsBeforeTemporal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateSeedTerm(context.Background(), &model.SeedTerm{
		EngagementID: engagementID, Term: "Approve Invoice", Domain: "AP",
	}))
	f.withNames("Invoice Approval", "Approve Invoice")
	f.withDates(date(2025, 1, 1), ptr(date(2025, 3, 1)), date(2025, 3, 1), nil)
	conflict := f.addConflict(t, "src-1", "src-2")

	got := f.classifier("").Classify(context.Background(), conflict)

	assert.Equal(t, model.NamingVariant, got.ResolutionType)
	assert.Equal(t, model.StatusResolved, got.ResolutionStatus)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, fixedNow, *got.ClassifiedAt)
	assert.Equal(t, DefaultVersion, got.ClassifierVersion)

	details := got.ResolutionDetails
	require.NotNil(t, details)
	assert.Equal(t, "Approve Invoice", details.CanonicalName)
	assert.Equal(t, []string{"Invoice Approval"}, details.MergedFrom)
	require.NotNil(t, details.MergeResult)
	assert.Equal(t, model.MergeMerged, details.MergeResult.Status)

	assert.Empty(t, f.graph.CallsFor(driver.EffectiveDatesQuery))
	deletes := f.graph.CallsFor(driver.MergeAliasAndDeleteQuery)
	require.Len(t, deletes, 1)
	assert.Equal(t, "Approve Invoice", deletes[0].Params["canonical"])
	assert.Equal(t, "Invoice Approval", deletes[0].Params["other"])
}

func TestClassifyNamingVariantFromSharedMergedTerm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := &model.SeedTerm{EngagementID: engagementID, Term: "Invoice Sign-off", Domain: "AP"}
	require.NoError(t, f.store.CreateSeedTerm(ctx, target))
	for _, term := range []string{"Invoice Approval", "Approve Invoice"} {
		require.NoError(t, f.store.CreateSeedTerm(ctx, &model.SeedTerm{
			EngagementID: engagementID, Term: term, Domain: "AP",
			Status: model.TermMerged, MergedInto: target.ID,
		}))
	}
	f.withNames("Invoice Approval", "Approve Invoice")

	got := f.classifier("").Classify(ctx, f.addConflict(t, "src-1", "src-2"))

	assert.Equal(t, model.NamingVariant, got.ResolutionType)
	assert.Equal(t, "Invoice Sign-off", got.ResolutionDetails.CanonicalName)
	assert.Equal(t, []string{"Invoice Approval", "Approve Invoice"}, got.ResolutionDetails.MergedFrom)
	assert.Len(t, f.graph.CallsFor(driver.MergeAliasAndDeleteQuery), 2)
}

func TestClassifyNamingVariantFromVariantLink(t *testing.T) {
	f := newFixture(t)
	f.withNames("Invoice Approval", "Approve Invoice")
	f.graph.Results[driver.VariantLinkQuery] = []driver.Record{{"name_a": "Invoice Approval", "name_b": "Approve Invoice"}}

	got := f.classifier("").Classify(context.Background(), f.addConflict(t, "src-1", "src-2"))

	assert.Equal(t, model.NamingVariant, got.ResolutionType)
	assert.Equal(t, "Invoice Approval", got.ResolutionDetails.CanonicalName)

	calls := f.graph.CallsFor(driver.VariantLinkQuery)
	require.Len(t, calls, 1)
	assert.Equal(t, "Invoice Approval", calls[0].Params["name_a"])
	assert.Equal(t, "Approve Invoice", calls[0].Params["name_b"])
}

func TestClassifyMergeFailureStillClassifies(t *testing.T) {
	f := newFixture(t)
	f.withNames("Invoice Approval", "Approve Invoice")
	f.graph.Results[driver.VariantLinkQuery] = []driver.Record{{"name_a": "Invoice Approval"}}
	f.graph.TxErr = errors.New("write conflict")

	got := f.classifier("").Classify(context.Background(), f.addConflict(t, "src-1", "src-2"))

	assert.Equal(t, model.NamingVariant, got.ResolutionType)
	assert.Equal(t, model.StatusResolved, got.ResolutionStatus)
	assert.Equal(t, model.MergeFailed, got.ResolutionDetails.MergeResult.Status)
	assert.Equal(t, "write conflict", got.ResolutionDetails.MergeResult.Error)
}

func TestClassifyNamingNeedsTwoDistinctNames(t *testing.T) {
	f := newFixture(t)
	f.graph.Results[driver.ConflictingNamesQuery] = []driver.Record{
		{"name": "Shared Step", "source_id": "src-1"},
		{"name": "Shared Step", "source_id": "src-2"},
	}

	got := f.classifier("").Classify(context.Background(), f.addConflict(t, "src-1", "src-2"))

	assert.Equal(t, model.GenuineDisagreement, got.ResolutionType)
	assert.Empty(t, f.graph.CallsFor(driver.VariantLinkQuery))
}

func TestClassifyTemporalBoundary(t *testing.T) {
	t.Run("touching ranges shift", func(t *testing.T) {
		f := newFixture(t)
		f.withDates(date(2025, 1, 1), ptr(date(2025, 3, 1)), date(2025, 3, 1), ptr(date(2025, 6, 1)))

		got := f.classifier("").Classify(context.Background(), f.addConflict(t, "src-1", "src-2"))

		assert.Equal(t, model.TemporalShift, got.ResolutionType)
		assert.Equal(t, model.StatusResolved, got.ResolutionStatus)
		assert.Equal(t, "2025-01-01", got.ResolutionDetails.SourceARange.From)
		assert.Equal(t, "2025-03-01", *got.ResolutionDetails.SourceARange.To)
		assert.Equal(t, "Source A valid 2025-01-01 to 2025-03-01; Source B valid 2025-03-01 to 2025-06-01",
			got.ResolutionDetails.Annotation)

		tags := f.graph.CallsFor(driver.TagValidityQuery)
		require.Len(t, tags, 2)
		assert.Equal(t, "src-1", tags[0].Params["source_id"])
		assert.Equal(t, "2025-01-01", tags[0].Params["valid_from"])
		assert.Equal(t, "2025-03-01", tags[0].Params["valid_to"])
		assert.Equal(t, "src-2", tags[1].Params["source_id"])
		assert.True(t, tags[1].Write)
	})

	t.Run("overlapping ranges disagree", func(t *testing.T) {
		f := newFixture(t)
		f.withDates(date(2025, 1, 1), ptr(date(2025, 4, 1)), date(2025, 3, 1), ptr(date(2025, 6, 1)))

		got := f.classifier("").Classify(context.Background(), f.addConflict(t, "src-1", "src-2"))

		assert.Equal(t, model.GenuineDisagreement, got.ResolutionType)
		assert.Empty(t, f.graph.CallsFor(driver.TagValidityQuery))
	})

	t.Run("open ended range", func(t *testing.T) {
		f := newFixture(t)
		f.withDates(date(2025, 6, 1), nil, date(2025, 1, 1), ptr(date(2025, 5, 1)))

		got := f.classifier("").Classify(context.Background(), f.addConflict(t, "src-1", "src-2"))

		assert.Equal(t, model.TemporalShift, got.ResolutionType)
		assert.Nil(t, got.ResolutionDetails.SourceARange.To)
		assert.Nil(t, f.graph.CallsFor(driver.TagValidityQuery)[0].Params["valid_to"])
	})
}

func TestClassifyTemporalTagFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.withDates(date(2025, 1, 1), ptr(date(2025, 3, 1)), date(2025, 3, 1), nil)
	f.graph.TxErr = errors.New("read only replica")

	got := f.classifier("").Classify(context.Background(), f.addConflict(t, "src-1", "src-2"))
	assert.Equal(t, model.TemporalShift, got.ResolutionType)
}

func TestClassifyTemporalNeedsDatesForBothSources(t *testing.T) {
	f := newFixture(t)
	f.graph.Results[driver.EffectiveDatesQuery] = []driver.Record{
		{"source_id": "src-1", "effective_from": date(2025, 1, 1), "effective_to": date(2025, 2, 1)},
	}

	got := f.classifier("").Classify(context.Background(), f.addConflict(t, "src-1", "src-2"))
	assert.Equal(t, model.GenuineDisagreement, got.ResolutionType)
}

func TestClassifyTemporalSkipsUnreadableDates(t *testing.T) {
	f := newFixture(t)
	f.graph.Results[driver.EffectiveDatesQuery] = []driver.Record{
		// Read as an open end this would look like a shift after src-2's range.
		{"source_id": "src-1", "effective_from": date(2025, 6, 1), "effective_to": "sometime in spring"},
		{"source_id": "src-2", "effective_from": date(2025, 1, 1), "effective_to": date(2025, 3, 1)},
	}

	got := f.classifier("").Classify(context.Background(), f.addConflict(t, "src-1", "src-2"))

	assert.Equal(t, model.GenuineDisagreement, got.ResolutionType)
	assert.Empty(t, f.graph.CallsFor(driver.TagValidityQuery))
}

func TestClassifyGenuineDisagreementFrames(t *testing.T) {
	f := newFixture(t)
	f.graph.Results[driver.EpistemicFramesQuery] = []driver.Record{
		{"source_id": "src-1", "frame": "procedural", "evidence_type": "policy_document"},
	}

	got := f.classifier("").Classify(context.Background(), f.addConflict(t, "src-1", "src-2"))

	assert.Equal(t, model.GenuineDisagreement, got.ResolutionType)
	assert.Equal(t, model.StatusUnresolved, got.ResolutionStatus)
	assert.Nil(t, got.ResolvedAt)
	assert.True(t, got.ResolutionDetails.RequiresSMEReview)
	assert.Equal(t, []model.EpistemicFrame{
		{SourceID: "src-1", Frame: "procedural", EvidenceType: "policy_document"},
		{SourceID: "src-2", Frame: "unknown", EvidenceType: "unknown"},
	}, got.ResolutionDetails.ConflictingFrames)
}

func TestClassifyFramesFallBackOnQueryFailure(t *testing.T) {
	f := newFixture(t)
	f.graph.Errors[driver.EpistemicFramesQuery] = errors.New("timeout")
	f.graph.Errors[driver.ConflictingNamesQuery] = errors.New("timeout")

	got := f.classifier("").Classify(context.Background(), f.addConflict(t, "src-1", "src-2"))

	require.Len(t, got.ResolutionDetails.ConflictingFrames, 2)
	for _, frame := range got.ResolutionDetails.ConflictingFrames {
		assert.Equal(t, "unknown", frame.Frame)
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.withDates(date(2025, 1, 1), ptr(date(2025, 3, 1)), date(2025, 3, 1), nil)
	conflict := f.addConflict(t, "src-1", "src-2")
	c := f.classifier("")

	first := *c.Classify(context.Background(), conflict)
	second := c.Classify(context.Background(), conflict)

	assert.Equal(t, first.ResolutionType, second.ResolutionType)
	assert.Equal(t, first.ResolutionStatus, second.ResolutionStatus)
	assert.Equal(t, first.ResolutionDetails, second.ResolutionDetails)
}

func TestClassifyBatchStoresEachConflictOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addConflict(t, "src-1", "src-2")
	f.addConflict(t, "src-1", "src-3")

	classified, err := f.classifier("").ClassifyBatch(ctx, engagementID)
	require.NoError(t, err)
	assert.Len(t, classified, 2)

	pending, err := f.store.ListUnclassified(ctx, engagementID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	again, err := f.classifier("").ClassifyBatch(ctx, engagementID)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestClassifyBatchRejectsMalformedEngagement(t *testing.T) {
	f := newFixture(t)
	_, err := f.classifier("").ClassifyBatch(context.Background(), "engagement-1")
	assert.ErrorIs(t, err, detection.ErrInvalidEngagementID)
}

func TestReclassifyOutdated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addConflict(t, "src-1", "src-2")
	reviewed := f.addConflict(t, "src-1", "src-3")

	_, err := f.classifier("1.0.0").ClassifyBatch(ctx, engagementID)
	require.NoError(t, err)
	_, err = f.store.Resolve(ctx, reviewed.ID, model.ResolveRequest{ResolverID: "sme-7", ResolutionNotes: "confirmed"})
	require.NoError(t, err)

	f.withDates(date(2025, 1, 1), ptr(date(2025, 3, 1)), date(2025, 3, 1), nil)
	reclassified, err := f.classifier("1.1.0").ReclassifyOutdated(ctx, engagementID)
	require.NoError(t, err)
	require.Len(t, reclassified, 1)
	assert.Equal(t, "src-2", reclassified[0].SourceBID)
	assert.Equal(t, model.TemporalShift, reclassified[0].ResolutionType)
	assert.Equal(t, "1.1.0", reclassified[0].ClassifierVersion)

	stored, err := f.store.Get(ctx, reviewed.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", stored.ClassifierVersion)
}

func TestReclassifyKeepsSettledNamingMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateSeedTerm(ctx, &model.SeedTerm{
		EngagementID: engagementID, Term: "Approve Invoice", Domain: "AP",
	}))
	f.withNames("Invoice Approval", "Approve Invoice")
	conflict := f.addConflict(t, "src-1", "src-2")

	_, err := f.classifier("1.0.0").ClassifyBatch(ctx, engagementID)
	require.NoError(t, err)
	before, err := f.store.Get(ctx, conflict.ID)
	require.NoError(t, err)
	require.Equal(t, model.NamingVariant, before.ResolutionType)
	require.NotNil(t, before.ResolvedAt)

	// After the merge both sources evidence the canonical name only.
	f.graph.Results[driver.ConflictingNamesQuery] = []driver.Record{
		{"name": "Approve Invoice", "source_id": "src-1"},
		{"name": "Approve Invoice", "source_id": "src-2"},
	}
	f.graph.Results[driver.MergeCountOtherQuery] = []driver.Record{{"found": int64(0)}}
	deletesBefore := len(f.graph.CallsFor(driver.MergeAliasAndDeleteQuery))

	later := New(f.graph, f.store, Options{Version: "1.1.0", Now: func() time.Time { return fixedNow.Add(24 * time.Hour) }})
	reclassified, err := later.ReclassifyOutdated(ctx, engagementID)
	require.NoError(t, err)
	require.Len(t, reclassified, 1)

	stored, err := f.store.Get(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NamingVariant, stored.ResolutionType)
	assert.Equal(t, model.StatusResolved, stored.ResolutionStatus)
	assert.Equal(t, "1.1.0", stored.ClassifierVersion)
	require.NotNil(t, stored.ResolvedAt)
	assert.Equal(t, *before.ResolvedAt, *stored.ResolvedAt)
	assert.Equal(t, fixedNow.Add(24*time.Hour), *stored.ClassifiedAt)
	assert.Equal(t, "Approve Invoice", stored.ResolutionDetails.CanonicalName)
	assert.Len(t, f.graph.CallsFor(driver.MergeAliasAndDeleteQuery), deletesBefore)

	again, err := later.ReclassifyOutdated(ctx, engagementID)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestReclassifyRetriesFailedNamingMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateSeedTerm(ctx, &model.SeedTerm{
		EngagementID: engagementID, Term: "Approve Invoice", Domain: "AP",
	}))
	f.withNames("Invoice Approval", "Approve Invoice")
	f.graph.TxErr = errors.New("bolt: connection reset")
	conflict := f.addConflict(t, "src-1", "src-2")

	_, err := f.classifier("1.0.0").ClassifyBatch(ctx, engagementID)
	require.NoError(t, err)

	f.graph.TxErr = nil
	_, err = f.classifier("1.1.0").ReclassifyOutdated(ctx, engagementID)
	require.NoError(t, err)

	stored, err := f.store.Get(ctx, conflict.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResolutionDetails.MergeResult)
	assert.Equal(t, model.MergeMerged, stored.ResolutionDetails.MergeResult.Status)
}

func TestCanonicalFor(t *testing.T) {
	tests := []struct {
		name      string
		terms     []model.SeedTerm
		canonical string
		found     bool
	}{
		{"no terms", nil, "", false},
		{"a is active", []model.SeedTerm{{Term: "A", Status: model.TermActive}}, "A", true},
		{"b is active", []model.SeedTerm{{Term: "B", Status: model.TermActive}}, "B", true},
		{"deprecated ignored", []model.SeedTerm{{Term: "A", Status: model.TermDeprecated}}, "", false},
		{"b merged into a", []model.SeedTerm{
			{Term: "A", Status: model.TermActive},
			{Term: "B", Status: model.TermMerged, CanonicalTerm: "A"},
		}, "A", true},
		{"both merged into c", []model.SeedTerm{
			{Term: "A", Status: model.TermMerged, CanonicalTerm: "C"},
			{Term: "B", Status: model.TermMerged, CanonicalTerm: "C"},
		}, "C", true},
		{"merged into different terms", []model.SeedTerm{
			{Term: "A", Status: model.TermMerged, CanonicalTerm: "C"},
			{Term: "B", Status: model.TermMerged, CanonicalTerm: "D"},
		}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canonical, found := canonicalFor("A", "B", tt.terms)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.canonical, canonical)
		})
	}
}

func TestDetectThenClassifyEndToEnd(t *testing.T) {
	tests := []struct {
		name     string
		created  *time.Time
		severity float64
		label    string
	}{
		// Without timestamps the recency factor does not apply.
		{"no timestamps", nil, 0.95, "critical"},
		{"created three days ago", ptr(fixedNow.AddDate(0, 0, -3)), 0.779, "high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			row := driver.Record{
				"activity_a":  "Approve Invoice",
				"activity_b":  "Pay Invoice",
				"source_a_id": "src-1",
				"source_b_id": "src-2",
				"weight_a":    0.9,
				"weight_b":    0.85,
			}
			if tt.created != nil {
				row["created_a"] = *tt.created
				row["created_b"] = *tt.created
			}
			f.graph.Results[driver.SequenceMismatchQuery] = []driver.Record{row}

			opts := detection.Options{Now: func() time.Time { return fixedNow }}
			result, err := detection.RunConflictDetection(ctx, f.graph, f.store, engagementID, opts)
			require.NoError(t, err)
			require.Equal(t, 1, result.NewPersisted)

			classified, err := f.classifier("").ClassifyBatch(ctx, engagementID)
			require.NoError(t, err)
			require.Len(t, classified, 1)
			assert.Equal(t, model.SequenceMismatch, classified[0].MismatchType)
			assert.Equal(t, tt.severity, classified[0].Severity)
			assert.Equal(t, tt.label, classified[0].ConflictDetail["severity_label"])
			assert.Equal(t, model.GenuineDisagreement, classified[0].ResolutionType)
			assert.Equal(t, model.StatusUnresolved, classified[0].ResolutionStatus)
		})
	}
}
