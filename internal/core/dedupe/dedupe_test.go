package dedupe

import (
	"context"
	"errors"
	"testing"

	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/agenthands/crosscheck/internal/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const engagementID = "6f1c1e0e-2b7a-4c59-9d59-3f0f4b1c2a10"

func TestMergeRedirectsEdgesAndDeletesOther(t *testing.T) {
	graph := driver.NewMockGraph()
	graph.Results[driver.MergeCountOtherQuery] = []driver.Record{{"found": int64(1)}}
	redirects := driver.MergeRedirectQueries()
	graph.Results[redirects[0]] = []driver.Record{{"moved": int64(2)}}
	graph.Results[redirects[len(redirects)-1]] = []driver.Record{{"moved": int64(1)}}

	result := NewMerger(graph, nil).Merge(context.Background(), engagementID, "Approve Invoice", "Invoice Approval")

	assert.Equal(t, model.MergeMerged, result.Status)
	assert.Equal(t, "Approve Invoice", result.Canonical)
	assert.Equal(t, []string{"Invoice Approval"}, result.Removed)
	assert.Equal(t, int64(3), result.EdgesMoved)

	writes := graph.WriteCalls()
	require.Len(t, writes, 3+len(redirects))
	assert.Equal(t, driver.MergeCountOtherQuery, writes[0].Query)
	assert.Equal(t, driver.MergeEnsureCanonicalQuery, writes[1].Query)
	assert.Equal(t, driver.MergeAliasAndDeleteQuery, writes[len(writes)-1].Query)
	assert.Equal(t, "Invoice Approval", writes[1].Params["other"])
	assert.Equal(t, engagementID, writes[1].Params["engagement_id"])
}

func TestMergeFoldsEdgesBetweenTheTwoNodes(t *testing.T) {
	graph := driver.NewMockGraph()
	graph.Results[driver.MergeCountOtherQuery] = []driver.Record{{"found": int64(1)}}
	// Invoice Approval PRECEDES Approve Invoice, and one source recorded the
	// reverse edge too.
	graph.Results[driver.MergeFoldOutgoingQuery] = []driver.Record{{"moved": int64(1)}}
	graph.Results[driver.MergeFoldIncomingQuery] = []driver.Record{{"moved": int64(1)}}

	result := NewMerger(graph, nil).Merge(context.Background(), engagementID, "Approve Invoice", "Invoice Approval")

	assert.Equal(t, model.MergeMerged, result.Status)
	assert.Equal(t, int64(2), result.EdgesMoved)

	writes := graph.WriteCalls()
	var order []string
	for _, w := range writes {
		switch w.Query {
		case driver.MergeFoldOutgoingQuery:
			order = append(order, "fold-out")
		case driver.MergeFoldIncomingQuery:
			order = append(order, "fold-in")
		case driver.MergeAliasAndDeleteQuery:
			order = append(order, "delete")
		}
	}
	assert.Equal(t, []string{"fold-out", "fold-in", "delete"}, order)
	folds := graph.CallsFor(driver.MergeFoldOutgoingQuery)
	require.Len(t, folds, 1)
	assert.Equal(t, "Invoice Approval", folds[0].Params["other"])
	assert.Equal(t, "Approve Invoice", folds[0].Params["canonical"])
}

func TestMergeIsNoOpWhenOtherIsGone(t *testing.T) {
	graph := driver.NewMockGraph()
	graph.Results[driver.MergeCountOtherQuery] = []driver.Record{{"found": int64(0)}}

	result := NewMerger(graph, nil).Merge(context.Background(), engagementID, "Approve Invoice", "Invoice Approval")

	assert.Equal(t, model.MergeAlreadyMerged, result.Status)
	assert.Empty(t, result.Removed)
	assert.Len(t, graph.WriteCalls(), 1)
}

func TestMergeReportsFailure(t *testing.T) {
	graph := driver.NewMockGraph()
	graph.Results[driver.MergeCountOtherQuery] = []driver.Record{{"found": int64(1)}}
	graph.Errors[driver.MergeAliasAndDeleteQuery] = errors.New("lock timeout")

	result := NewMerger(graph, nil).Merge(context.Background(), engagementID, "Approve Invoice", "Invoice Approval")

	assert.Equal(t, model.MergeFailed, result.Status)
	assert.Contains(t, result.Error, "lock timeout")
	assert.Zero(t, result.EdgesMoved)
}

func TestMergeAllAggregates(t *testing.T) {
	graph := driver.NewMockGraph()
	graph.Handlers[driver.MergeCountOtherQuery] = func(params map[string]any) ([]driver.Record, error) {
		if params["other"] == "Gone" {
			return []driver.Record{{"found": int64(0)}}, nil
		}
		return []driver.Record{{"found": int64(1)}}, nil
	}

	merger := NewMerger(graph, nil)
	result := merger.MergeAll(context.Background(), engagementID, "Approve Invoice", []string{"Gone", "Invoice Approval"})
	assert.Equal(t, model.MergeMerged, result.Status)
	assert.Equal(t, []string{"Invoice Approval"}, result.Removed)

	graph.TxErr = errors.New("no leader")
	failed := merger.MergeAll(context.Background(), engagementID, "Approve Invoice", []string{"Invoice Approval"})
	assert.Equal(t, model.MergeFailed, failed.Status)
	assert.Equal(t, "no leader", failed.Error)
}

func TestMergeSameNameIsNoOp(t *testing.T) {
	graph := driver.NewMockGraph()
	result := NewMerger(graph, nil).Merge(context.Background(), engagementID, "A", "A")
	assert.Equal(t, model.MergeAlreadyMerged, result.Status)
	assert.Empty(t, graph.Calls)
}
