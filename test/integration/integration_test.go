//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agenthands/crosscheck/internal/core"
	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/agenthands/crosscheck/internal/driver"
	"github.com/agenthands/crosscheck/internal/store"
)

type harness struct {
	engine       *core.Engine
	graph        *driver.MemgraphDriver
	engagementID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	_ = godotenv.Load("../../.env")

	uri := os.Getenv("MEMGRAPH_URI")
	if uri == "" {
		t.Skip("Skipping integration test: MEMGRAPH_URI not set")
	}

	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	graph, err := driver.NewMemgraphDriver(ctx, uri, os.Getenv("MEMGRAPH_USER"), os.Getenv("MEMGRAPH_PASSWORD"), "", logger)
	require.NoError(t, err)

	driverName, dsn := "sqlite", "file:"+filepath.Join(t.TempDir(), "crosscheck.db")+"?_foreign_keys=on"
	if url := os.Getenv("DATABASE_URL"); url != "" {
		driverName, dsn = "postgres", url
	}
	st, err := store.Open(ctx, driverName, dsn)
	require.NoError(t, err)

	engine := core.NewEngine(graph, st, core.Options{Logger: logger})
	require.NoError(t, engine.BuildIndices(ctx))

	h := &harness{engine: engine, graph: graph, engagementID: uuid.NewString()}
	t.Cleanup(func() {
		_, _ = graph.RunWriteQuery(context.Background(),
			`MATCH (n) WHERE n.engagement_id = $eid DETACH DELETE n`,
			map[string]any{"eid": h.engagementID})
		_ = engine.Close(context.Background())
	})
	return h
}

func (h *harness) write(t *testing.T, cypher string, params map[string]any) {
	t.Helper()
	if params == nil {
		params = map[string]any{}
	}
	params["eid"] = h.engagementID
	_, err := h.graph.RunWriteQuery(context.Background(), cypher, params)
	require.NoError(t, err)
}

func TestDetectClassifySequenceMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.write(t, `
		CREATE (a:Activity {name: 'Approve Invoice', engagement_id: $eid})
		CREATE (b:Activity {name: 'Pay Invoice', engagement_id: $eid})
		CREATE (a)-[:PRECEDES {engagement_id: $eid, source_id: 'src-policy', source_weight: 0.9}]->(b)
		CREATE (b)-[:PRECEDES {engagement_id: $eid, source_id: 'src-interview', source_weight: 0.6}]->(a)
	`, nil)

	result, err := h.engine.Detect(ctx, h.engagementID)
	require.NoError(t, err)
	assert.Empty(t, result.FailedDetectors)
	assert.Equal(t, 1, result.CountsByType[model.SequenceMismatch])
	assert.Equal(t, 1, result.NewPersisted)

	// A second run finds the same pair and persists nothing.
	again, err := h.engine.Detect(ctx, h.engagementID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.NewPersisted)

	classified, err := h.engine.Classify(ctx, h.engagementID)
	require.NoError(t, err)
	require.Len(t, classified, 1)
	assert.Equal(t, model.GenuineDisagreement, classified[0].ResolutionType)

	report, err := h.engine.DisagreementReport(ctx, h.engagementID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.TotalConflicts)
}

func TestNamingVariantMergesNodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.write(t, `
		CREATE (ea:Evidence {source_id: 'src-a', engagement_id: $eid})
		CREATE (eb:Evidence {source_id: 'src-b', engagement_id: $eid})
		CREATE (a:Activity {name: 'Approve Invoice', engagement_id: $eid})
		CREATE (b:Activity {name: 'Invoice Approval', engagement_id: $eid})
		CREATE (r:Role {name: 'AP Clerk', engagement_id: $eid})
		CREATE (a)-[:EVIDENCED_BY {engagement_id: $eid}]->(ea)
		CREATE (b)-[:EVIDENCED_BY {engagement_id: $eid}]->(eb)
		CREATE (a)-[:PERFORMED_BY {engagement_id: $eid, source_id: 'src-a', source_weight: 0.8}]->(r)
		CREATE (b)-[:PERFORMED_BY {engagement_id: $eid, source_id: 'src-b', source_weight: 0.7}]->(r)
		CREATE (b)-[:PRECEDES {engagement_id: $eid, source_id: 'src-b', source_weight: 0.7}]->(a)
	`, nil)
	require.NoError(t, h.engine.AddSeedTerm(ctx, &model.SeedTerm{EngagementID: h.engagementID, Term: "Approve Invoice"}))

	// Seed a conflict between the two sources that the naming check can act on.
	h.write(t, `
		MATCH (a:Activity {name: 'Approve Invoice', engagement_id: $eid})
		CREATE (a)-[:PERFORMED_BY {engagement_id: $eid, source_id: 'src-b', source_weight: 0.7}]->(:Role {name: 'Treasury', engagement_id: $eid})
	`, nil)

	_, err := h.engine.Detect(ctx, h.engagementID)
	require.NoError(t, err)

	classified, err := h.engine.Classify(ctx, h.engagementID)
	require.NoError(t, err)
	require.NotEmpty(t, classified)

	var merged *model.ConflictObject
	for _, c := range classified {
		if c.ResolutionType == model.NamingVariant {
			merged = c
		}
	}
	require.NotNil(t, merged, "expected a naming_variant classification")
	assert.Equal(t, "Approve Invoice", merged.ResolutionDetails.CanonicalName)
	assert.Equal(t, []string{"Invoice Approval"}, merged.ResolutionDetails.MergedFrom)

	records, err := h.graph.RunQuery(ctx,
		`MATCH (a:Activity {engagement_id: $eid}) RETURN a.name AS name, a.aliases AS aliases`,
		map[string]any{"eid": h.engagementID})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Approve Invoice", records[0].String("name"))
	assert.Equal(t, []string{"Invoice Approval"}, records[0].Strings("aliases"))

	folded, err := h.graph.RunQuery(ctx, `
		MATCH (a:Activity {engagement_id: $eid})-[r:MERGED_EDGE]->(a)
		RETURN r.original_type AS original_type, r.source_id AS source_id, r.merged_direction AS direction
	`, map[string]any{"eid": h.engagementID})
	require.NoError(t, err)
	require.Len(t, folded, 1)
	assert.Equal(t, "PRECEDES", folded[0].String("original_type"))
	assert.Equal(t, "src-b", folded[0].String("source_id"))
	assert.Equal(t, "outgoing", folded[0].String("direction"))
}
