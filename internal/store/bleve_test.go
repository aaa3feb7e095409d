package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recordsync/internal/record"
)

func newTestClient(t *testing.T) *BleveClient {
	t.Helper()
	c, err := Open(MemoryHost)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func seedGranules(t *testing.T, c *BleveClient, index string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		status := "completed"
		if i%3 == 0 {
			status = "failed"
		}
		doc := record.Document{
			"granuleId":    fmt.Sprintf("g%02d", i),
			"collectionId": fmt.Sprintf("c___%d", i%2),
			"status":       status,
			"duration":     float64(i),
			"timestamp":    float64(1000 + i),
		}
		require.NoError(t, c.Index(ctx, index, "granule", doc["granuleId"].(string), doc["collectionId"].(string), doc))
	}
}

func TestOpen_ResolvesHosts(t *testing.T) {
	tests := []struct {
		host    string
		wantDir string
		wantErr bool
	}{
		{host: "", wantDir: ""},
		{host: MemoryHost, wantDir: ""},
		{host: "file:///var/lib/records", wantDir: "/var/lib/records"},
		{host: "/tmp/records", wantDir: "/tmp/records"},
		{host: "http://localhost:9200", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			dir, err := resolveHost(tt.host)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDir, dir)
		})
	}
}

func TestBleveClient_CreateIndex_Lifecycle(t *testing.T) {
	// Given: an empty memory host
	c := newTestClient(t)
	ctx := context.Background()

	// When: creating an index
	err := c.CreateIndex(ctx, "records-1", map[string]TypeMapping{
		"granule": {Properties: map[string]Property{"duration": {Type: "double"}}},
	})
	require.NoError(t, err)

	// Then: it exists and carries its mappings
	ok, err := c.IndexExists(ctx, "records-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mappings, err := c.GetMapping(ctx, "records-1")
	require.NoError(t, err)
	assert.Equal(t, "double", mappings["granule"].Properties["duration"].Type)

	// And: creating it again fails
	err = c.CreateIndex(ctx, "records-1", nil)
	assert.ErrorIs(t, err, ErrIndexExists)

	// And: deleting removes it
	require.NoError(t, c.DeleteIndex(ctx, "records-1"))
	ok, err = c.IndexExists(ctx, "records-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, c.DeleteIndex(ctx, "records-1"), ErrIndexNotFound)
}

func TestBleveClient_PutMapping_Merges(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "idx", map[string]TypeMapping{
		"rule": {Properties: map[string]Property{"name": {Type: "keyword"}}},
	}))

	err := c.PutMapping(ctx, "idx", "rule", TypeMapping{
		Properties: map[string]Property{"state": {Type: "keyword"}},
	})
	require.NoError(t, err)

	mappings, err := c.GetMapping(ctx, "idx")
	require.NoError(t, err)
	assert.Contains(t, mappings["rule"].Properties, "name")
	assert.Contains(t, mappings["rule"].Properties, "state")
}

func TestBleveClient_UpdateAliases_AllOrNothing(t *testing.T) {
	// Given: an alias pointing at the first index
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "a", nil))
	require.NoError(t, c.CreateIndex(ctx, "b", nil))
	require.NoError(t, c.PutAlias(ctx, "a", "live"))

	// When: one action of the batch is invalid
	err := c.UpdateAliases(ctx, []AliasAction{
		{Type: AliasRemove, Index: "a", Alias: "live"},
		{Type: AliasAdd, Index: "missing", Alias: "live"},
	})

	// Then: nothing changed
	assert.ErrorIs(t, err, ErrIndexNotFound)
	indices, err := c.GetAlias(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, indices)

	// When: the swap is valid
	require.NoError(t, c.UpdateAliases(ctx, []AliasAction{
		{Type: AliasRemove, Index: "a", Alias: "live"},
		{Type: AliasAdd, Index: "b", Alias: "live"},
	}))

	// Then: the alias moved in one step
	indices, err = c.GetAlias(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, indices)
}

func TestBleveClient_GetAlias_Missing(t *testing.T) {
	c := newTestClient(t)
	_, err := c.GetAlias(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrAliasNotFound)
}

func TestBleveClient_IndexThroughAlias(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "a", nil))
	require.NoError(t, c.CreateIndex(ctx, "b", nil))
	require.NoError(t, c.PutAlias(ctx, "a", "live"))

	// Writes through a single-index alias land in that index
	doc := record.Document{"name": "r1"}
	require.NoError(t, c.Index(ctx, "live", "rule", "r1", "", doc))
	hits, err := c.Get(ctx, "a", "rule", "r1")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Index)
	assert.Equal(t, "r1", hits[0].ID)
	assert.Equal(t, "rule", hits[0].Kind)
	assert.Equal(t, "r1", hits[0].Source["name"])

	// A fanning-out alias refuses writes but serves reads from both indices
	require.NoError(t, c.PutAlias(ctx, "b", "live"))
	require.NoError(t, c.Index(ctx, "b", "rule", "r1", "", doc))
	assert.ErrorIs(t, c.Index(ctx, "live", "rule", "r2", "", doc), ErrAliasFanout)

	hits, err = c.Get(ctx, "live", "rule", "r1")
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestBleveClient_Delete(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "idx", nil))
	require.NoError(t, c.Index(ctx, "idx", "granule", "g1", "c___1", record.Document{"granuleId": "g1"}))

	require.NoError(t, c.Delete(ctx, "idx", "granule", "g1"))
	hits, err := c.Get(ctx, "idx", "granule", "g1")
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Deleting again is harmless
	assert.NoError(t, c.Delete(ctx, "idx", "granule", "g1"))
}

func TestBleveClient_Get_SameIDDifferentType(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "idx", nil))
	require.NoError(t, c.Index(ctx, "idx", "granule", "x", "", record.Document{"granuleId": "x"}))
	require.NoError(t, c.Index(ctx, "idx", "deletedgranule", "x", "", record.Document{"granuleId": "x", "deleted": true}))

	hits, err := c.Get(ctx, "idx", "granule", "x")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "granule", hits[0].Kind)
	assert.Equal(t, "", hits[0].Parent)
}

func TestBleveClient_Search_SortAndProjection(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "idx", nil))
	seedGranules(t, c, "idx", 6)

	kind := bleve.NewTermQuery("granule")
	kind.SetField(KindField)

	resp, err := c.Search(ctx, SearchRequest{
		Target: "idx",
		Query:  kind,
		Size:   2,
		From:   2,
		Sort:   []string{"-timestamp"},
		Fields: []string{"granuleId"},
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(6), resp.Total)
	require.Len(t, resp.Hits, 2)
	assert.Equal(t, record.Document{"granuleId": "g03"}, resp.Hits[0].Source)
	assert.Equal(t, record.Document{"granuleId": "g02"}, resp.Hits[1].Source)
	assert.Equal(t, "c___1", resp.Hits[0].Parent)
	assert.Empty(t, resp.ScrollID)
}

func TestBleveClient_Search_MissingTarget(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Search(context.Background(), SearchRequest{Target: "nope"})
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestBleveClient_Scroll_VisitsEveryDocumentOnce(t *testing.T) {
	// Given: 13 documents
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "idx", nil))
	seedGranules(t, c, "idx", 13)

	// When: scrolling three at a time
	resp, err := c.Search(ctx, SearchRequest{Target: "idx", Size: 3, Sort: []string{"status"}, Scroll: time.Minute})
	require.NoError(t, err)
	require.NotEmpty(t, resp.ScrollID)

	seen := map[string]int{}
	pages := 0
	for len(resp.Hits) > 0 {
		pages++
		for _, h := range resp.Hits {
			seen[h.ID]++
		}
		resp, err = c.Scroll(ctx, resp.ScrollID, time.Minute)
		require.NoError(t, err)
	}

	// Then: every document arrives exactly once
	assert.Equal(t, 5, pages)
	assert.Len(t, seen, 13)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}

	// And: an exhausted scroll keeps returning empty pages
	resp, err = c.Scroll(ctx, resp.ScrollID, 0)
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
}

func TestBleveClient_Scroll_Expires(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "idx", nil))
	seedGranules(t, c, "idx", 4)

	now := time.Now()
	c.scrolls.now = func() time.Time { return now }

	resp, err := c.Search(ctx, SearchRequest{Target: "idx", Size: 2, Scroll: time.Minute})
	require.NoError(t, err)

	// When: the lifetime passes without a continuation
	now = now.Add(2 * time.Minute)

	// Then: the context is gone
	_, err = c.Scroll(ctx, resp.ScrollID, time.Minute)
	assert.ErrorIs(t, err, ErrScrollExpired)
	assert.Equal(t, 0, c.scrolls.len())
}

func TestBleveClient_ClearScroll(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "idx", nil))
	seedGranules(t, c, "idx", 4)

	resp, err := c.Search(ctx, SearchRequest{Target: "idx", Size: 2, Scroll: time.Minute})
	require.NoError(t, err)
	require.NoError(t, c.ClearScroll(ctx, resp.ScrollID))

	_, err = c.Scroll(ctx, resp.ScrollID, time.Minute)
	assert.ErrorIs(t, err, ErrScrollExpired)
	assert.NoError(t, c.ClearScroll(ctx, "unknown"))
}

func TestBleveClient_CountAndAggregate(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "idx", nil))
	seedGranules(t, c, "idx", 6) // failed: 0,3 completed: 1,2,4,5

	n, err := c.Count(ctx, "idx", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n)

	aggs, err := c.Aggregate(ctx, "idx", nil, []Aggregation{
		{Name: "status", Type: AggTerms, Field: "status"},
		{Name: "collections", Type: AggCardinality, Field: "collectionId"},
		{Name: "avgDuration", Type: AggAvg, Field: "duration"},
	})
	require.NoError(t, err)

	assert.Equal(t, []Bucket{{Key: "completed", Count: 4}, {Key: "failed", Count: 2}}, aggs["status"].Buckets)
	assert.Equal(t, 2.0, aggs["collections"].Value)
	assert.InDelta(t, 2.5, aggs["avgDuration"].Value, 1e-9)
}

func TestBleveClient_Aggregate_RejectsUnknownType(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "idx", nil))

	_, err := c.Aggregate(ctx, "idx", nil, []Aggregation{{Name: "x", Type: "median", Field: "duration"}})
	assert.Error(t, err)
}

func TestValuesAt_NestedPaths(t *testing.T) {
	doc := map[string]any{
		"files": []any{
			map[string]any{"bucket": "a"},
			map[string]any{"bucket": "b"},
		},
		"status": "completed",
	}
	assert.Equal(t, []any{"a", "b"}, valuesAt(doc, "files.bucket"))
	assert.Equal(t, []any{"completed"}, valuesAt(doc, "status"))
	assert.Nil(t, valuesAt(doc, "missing"))
	assert.Empty(t, valuesAt(doc, "status.nested"))
}

func TestBleveClient_Reindex_CopiesAndReportsTask(t *testing.T) {
	// Given: a source with documents and a destination holding one of them
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "src", nil))
	require.NoError(t, c.CreateIndex(ctx, "dst", nil))
	seedGranules(t, c, "src", 7)
	require.NoError(t, c.Index(ctx, "dst", "granule", "g00", "", record.Document{"granuleId": "g00", "status": "old"}))

	// When: reindexing
	stats, err := c.Reindex(ctx, "src", "dst")
	require.NoError(t, err)

	// Then: every document is copied, the existing one counted as an update
	assert.Equal(t, 7, stats.Total)
	assert.Equal(t, 6, stats.Created)
	assert.Equal(t, 1, stats.Updated)
	assert.NotEmpty(t, stats.TaskID)

	hits, err := c.Get(ctx, "dst", "granule", "g00")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "failed", hits[0].Source["status"])
	assert.Equal(t, "c___0", hits[0].Parent)

	// And: finished tasks are not listed as running
	tasks, err := c.Tasks(ctx, "*reindex")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestTaskLedger_ListsRunningByPattern(t *testing.T) {
	ledger, err := openTaskLedger("")
	require.NoError(t, err)
	defer func() { _ = ledger.close() }()
	ctx := context.Background()

	id, err := ledger.start(ctx, ReindexAction, "a", "b")
	require.NoError(t, err)
	require.NoError(t, ledger.progress(ctx, id, 42))
	_, err = ledger.start(ctx, "indices:admin/other", "a", "b")
	require.NoError(t, err)

	tasks, err := ledger.running(ctx, "*reindex")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
	assert.Equal(t, 42, tasks[0].Copied)

	require.NoError(t, ledger.finish(ctx, id, 50, nil))
	tasks, err = ledger.running(ctx, "*reindex")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestBleveClient_DiskHost_PersistsCatalog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "host")
	ctx := context.Background()

	// Given: a disk host with an index, an alias and a document
	c, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, c.CreateIndex(ctx, "records-1", map[string]TypeMapping{"rule": {}}))
	require.NoError(t, c.PutAlias(ctx, "records-1", "live"))
	require.NoError(t, c.Index(ctx, "live", "rule", "r1", "", record.Document{"name": "r1"}))

	// And: a second client cannot open the same host
	_, err = Open(dir)
	assert.ErrorIs(t, err, ErrHostLocked)
	require.NoError(t, c.Close())

	// When: reopening the host
	c, err = Open("file://" + dir)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	// Then: indices, aliases, mappings and documents survive
	indices, err := c.GetAlias(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, []string{"records-1"}, indices)

	mappings, err := c.GetMapping(ctx, "live")
	require.NoError(t, err)
	assert.Contains(t, mappings, "rule")

	hits, err := c.Get(ctx, "live", "rule", "r1")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestBleveClient_ClosedClient(t *testing.T) {
	c, err := Open(MemoryHost)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.ListIndices(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
}
