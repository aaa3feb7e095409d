package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"

	"github.com/Aman-CERP/recordsync/internal/record"
)

// storedFields are the fields every search loads.
var storedFields = []string{SourceField, KindField, ParentField}

// aggregationPageSize is the page size used when streaming through a matching set.
const aggregationPageSize = 500

// Search runs a filtered search. With req.Scroll set it also opens a scroll
// context whose id is returned in the response.
func (c *BleveClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Scroll > 0 {
		return c.openScroll(ctx, req)
	}
	return c.search(ctx, req, nil)
}

// search runs one page. A non-nil after continues from that sort position.
func (c *BleveClient) search(ctx context.Context, req SearchRequest, after []string) (*SearchResponse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	idx, err := c.searchable(req.Target)
	if err != nil {
		return nil, err
	}

	q := req.Query
	if q == nil {
		q = bleve.NewMatchAllQuery()
	}
	size := req.Size
	if size <= 0 {
		size = DefaultSearchSize
	}

	sr := bleve.NewSearchRequestOptions(q, size, req.From, false)
	sr.Fields = storedFields
	if len(req.Sort) > 0 {
		sr.SortBy(req.Sort)
	}
	if after != nil {
		sr.From = 0
		sr.SearchAfter = after
	}

	res, err := idx.SearchInContext(ctx, sr)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", req.Target, err)
	}

	out := &SearchResponse{Total: res.Total, Hits: make([]Hit, 0, len(res.Hits))}
	for _, dm := range res.Hits {
		hit, err := toHit(dm, req.Fields)
		if err != nil {
			return nil, err
		}
		out.Hits = append(out.Hits, hit)
	}
	return out, nil
}

// toHit decodes a Bleve match into a Hit, projecting the source to fields.
func toHit(dm *search.DocumentMatch, fields []string) (Hit, error) {
	h := Hit{Index: dm.Index, sort: dm.Sort}
	if v, ok := dm.Fields[KindField].(string); ok {
		h.Kind = v
	}
	if v, ok := dm.Fields[ParentField].(string); ok {
		h.Parent = v
	}
	h.ID = strings.TrimPrefix(dm.ID, h.Kind+"/")

	raw, _ := dm.Fields[SourceField].(string)
	if raw == "" {
		h.Source = record.Document{}
		return h, nil
	}
	var doc record.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Hit{}, fmt.Errorf("decode source of %s: %w", dm.ID, err)
	}
	h.Source = project(doc, fields)
	return h, nil
}

// project keeps only the named top-level fields. No fields keeps everything.
func project(doc record.Document, fields []string) record.Document {
	if len(fields) == 0 {
		return doc
	}
	out := make(record.Document, len(fields))
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Count returns the number of documents matching q.
func (c *BleveClient) Count(ctx context.Context, target string, q Query) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	idx, err := c.searchable(target)
	if err != nil {
		return 0, err
	}
	if q == nil {
		q = bleve.NewMatchAllQuery()
	}

	res, err := idx.SearchInContext(ctx, bleve.NewSearchRequestOptions(q, 0, 0, false))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", target, err)
	}
	return res.Total, nil
}

// Aggregate streams through the documents matching q one page at a time and
// evaluates every aggregation over them.
func (c *BleveClient) Aggregate(ctx context.Context, target string, q Query, aggs []Aggregation) (map[string]AggregationResult, error) {
	accs := make([]*accumulator, len(aggs))
	for i, a := range aggs {
		if a.Name == "" || a.Field == "" {
			return nil, fmt.Errorf("aggregation %d needs a name and a field", i)
		}
		switch a.Type {
		case AggTerms, AggCardinality, AggAvg:
		default:
			return nil, fmt.Errorf("unknown aggregation type %q", a.Type)
		}
		accs[i] = &accumulator{agg: a, terms: make(map[string]int)}
	}

	err := c.walk(ctx, SearchRequest{Target: target, Query: q, Size: aggregationPageSize}, func(h Hit) error {
		for _, acc := range accs {
			acc.add(valuesAt(h.Source, acc.agg.Field))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]AggregationResult, len(accs))
	for _, acc := range accs {
		out[acc.agg.Name] = acc.result()
	}
	return out, nil
}

// walk visits every document matching req in _id order using search-after paging.
func (c *BleveClient) walk(ctx context.Context, req SearchRequest, visit func(Hit) error) error {
	req.Sort = []string{IDField}
	req.From = 0
	var after []string
	for {
		resp, err := c.search(ctx, req, after)
		if err != nil {
			return err
		}
		for _, h := range resp.Hits {
			if err := visit(h); err != nil {
				return err
			}
		}
		if len(resp.Hits) < req.Size {
			return nil
		}
		after = resp.Hits[len(resp.Hits)-1].sort
	}
}

// accumulator folds field values into one aggregation result.
type accumulator struct {
	agg   Aggregation
	terms map[string]int
	sum   float64
	n     int
}

func (a *accumulator) add(values []any) {
	for _, v := range values {
		switch a.agg.Type {
		case AggAvg:
			if f, ok := toFloat(v); ok {
				a.sum += f
				a.n++
			}
		default:
			a.terms[termKey(v)]++
		}
	}
}

func (a *accumulator) result() AggregationResult {
	switch a.agg.Type {
	case AggAvg:
		if a.n == 0 {
			return AggregationResult{}
		}
		return AggregationResult{Value: a.sum / float64(a.n)}
	case AggCardinality:
		return AggregationResult{Value: float64(len(a.terms))}
	}

	buckets := make([]Bucket, 0, len(a.terms))
	for k, n := range a.terms {
		buckets = append(buckets, Bucket{Key: k, Count: n})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Key < buckets[j].Key
	})
	if a.agg.Size > 0 && len(buckets) > a.agg.Size {
		buckets = buckets[:a.agg.Size]
	}
	return AggregationResult{Buckets: buckets, Value: float64(len(a.terms))}
}

// valuesAt returns the values at a dotted path, flattening arrays on the way.
func valuesAt(doc map[string]any, path string) []any {
	head, rest, nested := strings.Cut(path, ".")
	v, ok := doc[head]
	if !ok || v == nil {
		return nil
	}
	var out []any
	var visit func(any)
	visit = func(v any) {
		switch t := v.(type) {
		case []any:
			for _, e := range t {
				visit(e)
			}
		case map[string]any:
			if nested {
				out = append(out, valuesAt(t, rest)...)
			}
		case record.Document:
			if nested {
				out = append(out, valuesAt(t, rest)...)
			}
		default:
			if !nested && t != nil {
				out = append(out, t)
			}
		}
	}
	visit(v)
	return out
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func termKey(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
