package cdc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recordsync/internal/errors"
	"github.com/Aman-CERP/recordsync/internal/logging"
	"github.com/Aman-CERP/recordsync/internal/record"
	"github.com/Aman-CERP/recordsync/internal/store"
	"github.com/Aman-CERP/recordsync/internal/telemetry"
)

const (
	testAlias     = "records-alias"
	granulesTable = "test-GranulesTable"
	arnPrefix     = "arn:aws:dynamodb:us-east-1:123456789012:table/"
)

var fixedNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T, guard bool) (*Router, *store.BleveClient) {
	t.Helper()
	ctx := context.Background()
	c, err := store.Open(store.MemoryHost, store.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.CreateIndex(ctx, "records", nil))
	require.NoError(t, c.PutAlias(ctx, "records", testAlias))

	r, err := NewRouter(c, Config{
		Target: testAlias,
		Tables: map[string]string{
			granulesTable:          record.Granule.Type,
			"test-ExecutionsTable": record.Execution.Type,
		},
		StaleEventGuard: guard,
		Logger:          logging.Discard(),
	})
	require.NoError(t, err)
	r.now = func() time.Time { return fixedNow }
	return r, c
}

func image(t *testing.T, doc record.Document) Image {
	t.Helper()
	img, err := EncodeImage(doc)
	require.NoError(t, err)
	return img
}

func arn(table string) string {
	return arnPrefix + table + "/stream/2026-10-14T00:00:00.000"
}

func insert(t *testing.T, table string, doc record.Document) Event {
	return Event{EventName: EventInsert, EventSourceARN: arn(table), DynamoDB: StreamRecord{NewImage: image(t, doc)}}
}

func modify(t *testing.T, table string, doc record.Document) Event {
	return Event{EventName: EventModify, EventSourceARN: arn(table), DynamoDB: StreamRecord{NewImage: image(t, doc)}}
}

func remove(t *testing.T, table string, old record.Document) Event {
	return Event{EventName: EventRemove, EventSourceARN: arn(table), DynamoDB: StreamRecord{OldImage: image(t, old)}}
}

func granule(id string, updatedAt float64) record.Document {
	return record.Document{
		"granuleId":    id,
		"collectionId": "MOD09GQ___006",
		"status":       "completed",
		"updatedAt":    updatedAt,
		"files": []any{
			map[string]any{"bucket": "protected", "key": id + ".hdf"},
		},
	}
}

func getOne(t *testing.T, c store.Client, kind record.Kind, id string) (record.Document, bool) {
	t.Helper()
	hits, err := c.Get(context.Background(), testAlias, kind.Type, id)
	require.NoError(t, err)
	require.LessOrEqual(t, len(hits), 1)
	if len(hits) == 0 {
		return nil, false
	}
	return hits[0].Source, true
}

func TestEvent_Table(t *testing.T) {
	tests := []struct {
		arn  string
		want string
	}{
		{arn(granulesTable), granulesTable},
		{arnPrefix + "plain", "plain"},
		{"test-RulesTable", "test-RulesTable"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Event{EventSourceARN: tt.arn}.Table(), tt.arn)
	}
}

func TestDecodeBatch_WireFormat(t *testing.T) {
	// Given: a delivery as the stream emits it
	data := []byte(`{"Records":[{
		"eventID":"1",
		"eventName":"INSERT",
		"eventSourceARN":"` + arn(granulesTable) + `",
		"dynamodb":{
			"Keys":{"granuleId":{"S":"g1"}},
			"NewImage":{
				"granuleId":{"S":"g1"},
				"collectionId":{"S":"MOD09GQ___006"},
				"published":{"BOOL":true},
				"duration":{"N":"4.5"},
				"tags":{"SS":["a","b"]},
				"files":{"L":[{"M":{"bucket":{"S":"protected"},"size":{"N":"12"}}}]}
			}
		}
	}]}`)

	// When: decoding the batch and its new image
	batch, err := DecodeBatch(data)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	ev := batch.Records[0]
	doc, err := decodeImage(ev.DynamoDB.NewImage)
	require.NoError(t, err)

	// Then: attribute values become plain JSON-like values
	assert.Equal(t, granulesTable, ev.Table())
	assert.Equal(t, record.Document{
		"granuleId":    "g1",
		"collectionId": "MOD09GQ___006",
		"published":    true,
		"duration":     4.5,
		"tags":         []any{"a", "b"},
		"files":        []any{map[string]any{"bucket": "protected", "size": float64(12)}},
	}, doc)
}

func TestDecodeBatch_Invalid(t *testing.T) {
	_, err := DecodeBatch([]byte(`{"Records":`))
	assert.Error(t, err)
}

func TestRouter_InsertThenGet(t *testing.T) {
	// Given: an insert of a granule with no timestamp
	r, c := newTestRouter(t, false)
	doc := granule("g1", 100)

	// When: applying it
	outcome, err := r.Apply(context.Background(), insert(t, granulesTable, doc))

	// Then: the document is indexed unchanged plus a timestamp
	require.NoError(t, err)
	assert.Equal(t, telemetry.OutcomeApplied, outcome)
	got, ok := getOne(t, c, record.Granule, "g1")
	require.True(t, ok)
	assert.Equal(t, float64(fixedNow.UnixMilli()), got["timestamp"])
	delete(got, "timestamp")
	assert.Equal(t, doc, got)
}

func TestRouter_KeepsExistingTimestamp(t *testing.T) {
	r, c := newTestRouter(t, false)
	doc := granule("g1", 100)
	doc["timestamp"] = float64(42)

	_, err := r.Apply(context.Background(), insert(t, granulesTable, doc))
	require.NoError(t, err)

	got, _ := getOne(t, c, record.Granule, "g1")
	assert.Equal(t, float64(42), got["timestamp"])
}

func TestRouter_RemoveWritesTombstone(t *testing.T) {
	// Given: an indexed granule
	r, c := newTestRouter(t, false)
	ctx := context.Background()
	doc := granule("g1", 100)
	_, err := r.Apply(ctx, insert(t, granulesTable, doc))
	require.NoError(t, err)

	// When: the granule is removed
	outcome, err := r.Apply(ctx, remove(t, granulesTable, doc))

	// Then: the live document is gone and a tombstone keeps its files
	require.NoError(t, err)
	assert.Equal(t, telemetry.OutcomeRemoved, outcome)
	_, ok := getOne(t, c, record.Granule, "g1")
	assert.False(t, ok)

	tomb, ok := getOne(t, c, record.DeletedGranule, "g1")
	require.True(t, ok)
	assert.Equal(t, doc["files"], tomb["files"])
	assert.Equal(t, float64(fixedNow.UnixMilli()), tomb["deletedAt"])

	hits, err := c.Get(ctx, testAlias, record.DeletedGranule.Type, "g1")
	require.NoError(t, err)
	assert.Equal(t, "MOD09GQ___006", hits[0].Parent)
}

func TestRouter_ReinsertClearsTombstone(t *testing.T) {
	// Given: a deleted granule with its tombstone
	r, c := newTestRouter(t, false)
	ctx := context.Background()
	doc := granule("g1", 100)
	for _, ev := range []Event{insert(t, granulesTable, doc), remove(t, granulesTable, doc)} {
		_, err := r.Apply(ctx, ev)
		require.NoError(t, err)
	}

	// When: the same granule id is inserted again
	_, err := r.Apply(ctx, insert(t, granulesTable, granule("g1", 200)))
	require.NoError(t, err)

	// Then: it is live again and no tombstone remains
	_, ok := getOne(t, c, record.Granule, "g1")
	assert.True(t, ok)
	_, ok = getOne(t, c, record.DeletedGranule, "g1")
	assert.False(t, ok)
}

func TestRouter_ReapplyIsIdempotent(t *testing.T) {
	r, c := newTestRouter(t, false)
	ctx := context.Background()
	ev := insert(t, granulesTable, granule("g1", 100))

	for i := 0; i < 3; i++ {
		_, err := r.Apply(ctx, ev)
		require.NoError(t, err)
	}

	n, err := c.Count(ctx, testAlias, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestRouter_RemoveFromKeysOnly(t *testing.T) {
	// Given: an indexed execution and a key-only remove
	r, c := newTestRouter(t, false)
	ctx := context.Background()
	exec := record.Document{"arn": "arn:aws:states:exec:1", "status": "running"}
	_, err := r.Apply(ctx, insert(t, "test-ExecutionsTable", exec))
	require.NoError(t, err)

	ev := Event{
		EventName:      EventRemove,
		EventSourceARN: arn("test-ExecutionsTable"),
		DynamoDB:       StreamRecord{Keys: image(t, record.Document{"arn": "arn:aws:states:exec:1"})},
	}

	// When: applying it
	outcome, err := r.Apply(ctx, ev)

	// Then: the document is deleted with no tombstone, since executions have none
	require.NoError(t, err)
	assert.Equal(t, telemetry.OutcomeRemoved, outcome)
	_, ok := getOne(t, c, record.Execution, "arn:aws:states:exec:1")
	assert.False(t, ok)
}

func TestRouter_UnknownTableIgnored(t *testing.T) {
	r, c := newTestRouter(t, false)

	outcome, err := r.Apply(context.Background(), insert(t, "test-UntrackedTable", granule("g1", 1)))

	require.NoError(t, err)
	assert.Equal(t, telemetry.OutcomeIgnored, outcome)
	n, err := c.Count(context.Background(), testAlias, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRouter_HandleBatchIsolatesFailures(t *testing.T) {
	// Given: a batch whose second and fourth records cannot be applied
	r, c := newTestRouter(t, false)
	ctx := context.Background()
	batch := &Batch{Records: []Event{
		insert(t, granulesTable, granule("g1", 1)),
		insert(t, granulesTable, record.Document{"status": "missing id"}),
		insert(t, "test-UntrackedTable", granule("g9", 1)),
		{EventName: "TRUNCATE", EventSourceARN: arn(granulesTable)},
		insert(t, granulesTable, granule("g2", 1)),
		remove(t, granulesTable, granule("g1", 1)),
	}}

	// When: handling the batch
	report := r.HandleBatch(ctx, batch)

	// Then: failures are counted and the records after them still run
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Ignored)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 6, report.Total())
	require.Len(t, report.Errors, 2)
	assert.Equal(t, errors.ErrCodeCDCApplyFailed, errors.GetCode(report.Errors[0]))
	assert.ErrorIs(t, report.Errors[0], record.ErrMissingKey)

	_, ok := getOne(t, c, record.Granule, "g2")
	assert.True(t, ok)
}

func TestRouter_StaleGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("older modify is skipped", func(t *testing.T) {
		// Given: version 200 indexed
		r, c := newTestRouter(t, true)
		_, err := r.Apply(ctx, insert(t, granulesTable, granule("g1", 200)))
		require.NoError(t, err)

		// When: a delayed modify at version 100 arrives
		outcome, err := r.Apply(ctx, modify(t, granulesTable, granule("g1", 100)))

		// Then: it is skipped and the newer document stays
		require.NoError(t, err)
		assert.Equal(t, telemetry.OutcomeStale, outcome)
		got, _ := getOne(t, c, record.Granule, "g1")
		assert.Equal(t, float64(200), got["updatedAt"])
	})

	t.Run("index is consulted when the cache is cold", func(t *testing.T) {
		// Given: version 200 indexed by another router
		r, c := newTestRouter(t, true)
		_, err := r.Apply(ctx, insert(t, granulesTable, granule("g1", 200)))
		require.NoError(t, err)
		fresh, err := NewRouter(c, Config{Target: testAlias, Tables: map[string]string{granulesTable: "granule"}, StaleEventGuard: true, Logger: logging.Discard()})
		require.NoError(t, err)

		// When: a stale remove arrives at the fresh router
		outcome, err := fresh.Apply(ctx, remove(t, granulesTable, granule("g1", 150)))

		// Then: the live document survives and no tombstone is written
		require.NoError(t, err)
		assert.Equal(t, telemetry.OutcomeStale, outcome)
		_, ok := getOne(t, c, record.Granule, "g1")
		assert.True(t, ok)
		_, ok = getOne(t, c, record.DeletedGranule, "g1")
		assert.False(t, ok)
	})

	t.Run("equal and newer versions apply", func(t *testing.T) {
		r, _ := newTestRouter(t, true)
		_, err := r.Apply(ctx, insert(t, granulesTable, granule("g1", 200)))
		require.NoError(t, err)

		outcome, err := r.Apply(ctx, modify(t, granulesTable, granule("g1", 200)))
		require.NoError(t, err)
		assert.Equal(t, telemetry.OutcomeApplied, outcome)

		outcome, err = r.Apply(ctx, modify(t, granulesTable, granule("g1", 300)))
		require.NoError(t, err)
		assert.Equal(t, telemetry.OutcomeApplied, outcome)
	})

	t.Run("disabled guard applies in arrival order", func(t *testing.T) {
		r, c := newTestRouter(t, false)
		_, err := r.Apply(ctx, insert(t, granulesTable, granule("g1", 200)))
		require.NoError(t, err)

		outcome, err := r.Apply(ctx, modify(t, granulesTable, granule("g1", 100)))
		require.NoError(t, err)
		assert.Equal(t, telemetry.OutcomeApplied, outcome)
		got, _ := getOne(t, c, record.Granule, "g1")
		assert.Equal(t, float64(100), got["updatedAt"])
	})
}

func TestNewRouter_RejectsUnknownKind(t *testing.T) {
	c, err := store.Open(store.MemoryHost)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	_, err = NewRouter(c, Config{Target: testAlias, Tables: map[string]string{"t": "widget"}})
	assert.ErrorContains(t, err, "unknown kind")

	_, err = NewRouter(c, Config{})
	assert.Error(t, err)
}
