package search

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Aman-CERP/recordsync/internal/errors"
	"github.com/Aman-CERP/recordsync/internal/store"
)

// ParamField names the field Count buckets on.
const ParamField = "field"

// DefaultCountField is bucketed when a count request names no field.
const DefaultCountField = "status"

// Granule status values the summary derives progress from.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// CountResult holds terms buckets over the filtered set.
type CountResult struct {
	Meta  Meta           `json:"meta"`
	Count []store.Bucket `json:"count"`
}

// Count buckets the filtered set by the value of the field parameter.
func (e *Engine) Count(ctx context.Context, params Params) (*CountResult, error) {
	started := time.Now()

	field := params[ParamField]
	if field == "" {
		field = DefaultCountField
	}
	filters := make(Params, len(params))
	for k, v := range params {
		if k != ParamField {
			filters[k] = v
		}
	}

	t, err := e.translator.Translate(filters)
	if err != nil {
		return nil, errors.ValidationError(err.Error(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	res, err := e.client.Aggregate(ctx, e.target, t.Query, []store.Aggregation{
		{Name: "count", Type: store.AggTerms, Field: field},
	})
	e.metrics.ObserveQuery("count", started, err)
	if err != nil {
		return nil, e.indexError("count", err)
	}

	buckets := res["count"].Buckets
	if buckets == nil {
		buckets = []store.Bucket{}
	}
	var total uint64
	for _, b := range buckets {
		total += uint64(b.Count)
	}
	return &CountResult{Meta: e.meta(t, total), Count: buckets}, nil
}

// Summary is the granule dashboard over a filtered set.
type Summary struct {
	Total       uint64         `json:"total"`
	Collections int            `json:"collections"`
	Statuses    []store.Bucket `json:"statuses"`
	AvgDuration float64        `json:"avg_duration"`
	Failed      int            `json:"failed"`
	// Progress is (completed+failed)/total*100, 0 when total is 0.
	Progress float64 `json:"progress"`
}

// Summary computes collection cardinality, status buckets, average duration
// and progress over the filtered set.
func (e *Engine) Summary(ctx context.Context, params Params) (*Summary, error) {
	started := time.Now()

	t, err := e.translator.Translate(params)
	if err != nil {
		return nil, errors.ValidationError(err.Error(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	total, err := e.client.Count(ctx, e.target, t.Query)
	if err != nil {
		e.metrics.ObserveQuery("summary", started, err)
		return nil, e.indexError("summary", err)
	}

	res, err := e.client.Aggregate(ctx, e.target, t.Query, []store.Aggregation{
		{Name: "collections", Type: store.AggCardinality, Field: "collectionId"},
		{Name: "statuses", Type: store.AggTerms, Field: "status"},
		{Name: "duration", Type: store.AggAvg, Field: "duration"},
	})
	e.metrics.ObserveQuery("summary", started, err)
	if err != nil {
		return nil, e.indexError("summary", err)
	}

	s := &Summary{
		Total:       total,
		Collections: int(res["collections"].Value),
		Statuses:    res["statuses"].Buckets,
		AvgDuration: res["duration"].Value,
	}
	if s.Statuses == nil {
		s.Statuses = []store.Bucket{}
	}
	var completed int
	for _, b := range s.Statuses {
		switch b.Key {
		case StatusCompleted:
			completed = b.Count
		case StatusFailed:
			s.Failed = b.Count
		}
	}
	s.Progress = progress(completed, s.Failed, total)

	e.logger.Debug("summary_completed",
		slog.String("kind", e.kind.Type),
		slog.Uint64("total", total),
		slog.Float64("progress", s.Progress))
	return s, nil
}

func progress(completed, failed int, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed+failed) / float64(total) * 100
}

// AggregateGranuleCollections returns the distinct collectionId values among
// the matching documents, sorted.
func (e *Engine) AggregateGranuleCollections(ctx context.Context, params Params) ([]string, error) {
	started := time.Now()

	t, err := e.translator.Translate(params)
	if err != nil {
		return nil, errors.ValidationError(err.Error(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	res, err := e.client.Aggregate(ctx, e.target, t.Query, []store.Aggregation{
		{Name: "collections", Type: store.AggTerms, Field: "collectionId"},
	})
	e.metrics.ObserveQuery("collections", started, err)
	if err != nil {
		return nil, e.indexError("collections", err)
	}

	ids := make([]string, 0, len(res["collections"].Buckets))
	for _, b := range res["collections"].Buckets {
		ids = append(ids, b.Key)
	}
	sort.Strings(ids)
	return ids, nil
}
