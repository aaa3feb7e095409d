package queue

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recordsync/internal/logging"
	"github.com/Aman-CERP/recordsync/internal/record"
	"github.com/Aman-CERP/recordsync/internal/scroll"
	"github.com/Aman-CERP/recordsync/internal/store"
)

// fetchCounter counts index page fetches.
type fetchCounter struct {
	store.Client
	fetches int
}

func (c *fetchCounter) Search(ctx context.Context, req store.SearchRequest) (*store.SearchResponse, error) {
	c.fetches++
	return c.Client.Search(ctx, req)
}

func (c *fetchCounter) Scroll(ctx context.Context, id string, lifetime time.Duration) (*store.SearchResponse, error) {
	c.fetches++
	return c.Client.Scroll(ctx, id, lifetime)
}

func newClient(t *testing.T) *fetchCounter {
	t.Helper()
	c, err := store.Open(store.MemoryHost, store.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.CreateIndex(context.Background(), "records", nil))
	return &fetchCounter{Client: c}
}

func testConfig(pageSize int) Config {
	return Config{Target: "records", PageSize: pageSize, Logger: logging.Discard()}
}

// indexGranule stores a granule with one file per bucket listed.
func indexGranule(t *testing.T, c store.Client, id, collectionID string, buckets ...string) {
	t.Helper()
	var files []any
	for i, b := range buckets {
		files = append(files, map[string]any{
			"bucket":   b,
			"key":      fmt.Sprintf("%s/file-%d.hdf", id, i),
			"fileName": fmt.Sprintf("file-%d.hdf", i),
			"size":     float64(100 + i),
		})
	}
	doc := record.Document{"granuleId": id, "collectionId": collectionID, "files": files}
	require.NoError(t, c.Index(context.Background(), "records", record.Granule.Type, id, collectionID, doc))
}

func TestSearchQueue_PeekShiftContract(t *testing.T) {
	// Given: 7 granules and a page size of 3
	c := newClient(t)
	for i := 0; i < 7; i++ {
		indexGranule(t, c, fmt.Sprintf("g%d", i), "c___1")
	}
	q := NewCollectionGranuleQueue(c, "c___1", nil, testConfig(3))
	ctx := context.Background()

	// When: peeking twice before each shift
	var drained []string
	for {
		peeked, ok, err := q.Peek(ctx)
		require.NoError(t, err)
		again, _, err := q.Peek(ctx)
		require.NoError(t, err)
		shifted, shiftedOK, err := q.Shift(ctx)
		require.NoError(t, err)

		// Then: peek previews exactly what shift returns
		require.Equal(t, ok, shiftedOK)
		if !ok {
			break
		}
		assert.Equal(t, peeked, again)
		assert.Equal(t, peeked, shifted)
		drained = append(drained, shifted["granuleId"].(string))
	}

	// And: all 7 come out once, in granuleId order, then the queue stays empty
	assert.Equal(t, []string{"g0", "g1", "g2", "g3", "g4", "g5", "g6"}, drained)
	_, ok, err := q.Shift(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCollectionGranuleQueue_StableOrder(t *testing.T) {
	// Given: granules of two collections indexed out of order
	c := newClient(t)
	for _, id := range []string{"g7", "g2", "g9", "g1", "g5"} {
		indexGranule(t, c, id, "c___1")
	}
	indexGranule(t, c, "g3", "c___2")

	drain := func() []string {
		items, err := NewCollectionGranuleQueue(c, "c___1", nil, testConfig(2)).Empty(context.Background())
		require.NoError(t, err)
		var ids []string
		for _, doc := range items {
			ids = append(ids, doc["granuleId"].(string))
		}
		return ids
	}

	// When: draining the same collection twice
	first, second := drain(), drain()

	// Then: both drains agree and exclude the other collection
	assert.Equal(t, []string{"g1", "g2", "g5", "g7", "g9"}, first)
	assert.Equal(t, first, second)
}

func TestFileQueue_ThirteenGranulesPageThree(t *testing.T) {
	// Given: 13 granules sharing one bucket
	c := newClient(t)
	for i := 0; i < 13; i++ {
		indexGranule(t, c, fmt.Sprintf("g%02d", i), "c___1", "protected")
	}
	q := NewFileQueue(c, "protected", testConfig(3))

	// When: draining the file queue
	files, err := q.Empty(context.Background())
	require.NoError(t, err)

	// Then: all 13 files come out, carrying their granule id, over at least 5 fetches
	require.Len(t, files, 13)
	seen := map[string]bool{}
	for _, f := range files {
		assert.Equal(t, "protected", f.Bucket)
		assert.True(t, strings.HasPrefix(f.Key, f.GranuleID+"/"))
		seen[f.GranuleID] = true
	}
	assert.Len(t, seen, 13)
	assert.GreaterOrEqual(t, c.fetches, 5)
}

func TestFileQueue_KeepsOnlyTheBucket(t *testing.T) {
	// Given: granules mixing buckets, and one with no file in the queued bucket
	c := newClient(t)
	indexGranule(t, c, "g1", "c___1", "public", "protected", "protected")
	indexGranule(t, c, "g2", "c___1", "private")
	indexGranule(t, c, "g3", "c___1", "protected")
	q := NewFileQueue(c, "protected", testConfig(10))

	files, err := q.Empty(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []BucketFile{
		{GranuleID: "g1", Bucket: "protected", Key: "g1/file-1.hdf", FileName: "file-1.hdf", Size: 101},
		{GranuleID: "g1", Bucket: "protected", Key: "g1/file-2.hdf", FileName: "file-2.hdf", Size: 102},
		{GranuleID: "g3", Bucket: "protected", Key: "g3/file-0.hdf", FileName: "file-0.hdf", Size: 100},
	}, files)
}

func TestSearchQueue_FetchesPastPagesWithNoItems(t *testing.T) {
	// Given: 9 granules where only the last contributes an item, page size 2
	c := newClient(t)
	for i := 0; i < 9; i++ {
		indexGranule(t, c, fmt.Sprintf("g%d", i), "c___1")
	}
	onlyLast := func(h store.Hit) ([]string, error) {
		if h.ID == "g8" {
			return []string{h.ID}, nil
		}
		return nil, nil
	}
	req := store.SearchRequest{Target: "records", Sort: []string{"granuleId"}}
	q := NewSearchQueue(scroll.NewCursor(c, req, scroll.Config{PageSize: 2}), onlyLast)

	// When: shifting once
	item, ok, err := q.Shift(context.Background())

	// Then: the queue kept fetching until it found the item
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "g8", item)
	assert.Equal(t, 5, q.Pages())
}

func TestSearchQueue_ConvertError(t *testing.T) {
	c := newClient(t)
	doc := record.Document{"granuleId": "bad", "files": []any{"not-an-object"}}
	require.NoError(t, c.Index(context.Background(), "records", record.Granule.Type, "bad", "", doc))

	_, _, err := NewFileQueue(c, "protected", testConfig(5)).Shift(context.Background())
	// The bucket filter excludes it, so nothing to convert
	require.NoError(t, err)

	_, _, err = NewSearchQueue(
		scroll.NewCursor(c, store.SearchRequest{Target: "records"}, scroll.Config{}),
		bucketFiles("protected"),
	).Shift(context.Background())
	assert.ErrorContains(t, err, "not an object")
}

func TestRecordQueue_Filter(t *testing.T) {
	c := newClient(t)
	indexGranule(t, c, "g1", "c___1")
	require.NoError(t, c.Index(context.Background(), "records", record.Collection.Type, "c___1", "", record.Document{"name": "c", "version": "1"}))

	items, err := NewRecordQueue(c, record.Collection, nil, nil, testConfig(5)).Empty(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c", items[0]["name"])
}

func TestHitQueue_KeepsStoredIDs(t *testing.T) {
	// Given: a granule stored under an id its key fields do not carry
	c := newClient(t)
	indexGranule(t, c, "g2", "c___1")
	require.NoError(t, c.Index(context.Background(), "records", record.Granule.Type, "stray", "c___2",
		record.Document{"granuleId": "g1", "collectionId": "c___2"}))
	indexGranule(t, c, "g3", "c___1")

	// When: draining the raw hits with a small page size
	hits, err := NewHitQueue(c, record.Granule, testConfig(2)).Empty(context.Background())

	// Then: every hit comes out in id order with its stored id and parent
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"g2", "g3", "stray"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
	assert.Equal(t, "c___2", hits[2].Parent)
	assert.Equal(t, "g1", hits[2].Source["granuleId"])
}
