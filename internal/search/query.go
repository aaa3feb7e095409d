// Package search translates API query-string parameters into index queries
// and runs them: paged record queries, single-record lookups, and the
// count and summary aggregations used by the stats endpoints.
package search

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/recordsync/internal/record"
	"github.com/Aman-CERP/recordsync/internal/store"
)

// Params are the query-string parameters of one API request.
type Params map[string]string

// Reserved parameters. Everything else is a field filter.
const (
	ParamLimit   = "limit"
	ParamPage    = "page"
	ParamSortBy  = "sort_by"
	ParamOrder   = "order"
	ParamSortKey = "sort_key"
	ParamPrefix  = "prefix"
	ParamInfix   = "infix"
	ParamFields  = "fields"
)

var reserved = map[string]bool{
	ParamLimit: true, ParamPage: true, ParamSortBy: true, ParamOrder: true,
	ParamSortKey: true, ParamPrefix: true, ParamInfix: true, ParamFields: true,
}

// Filter operator suffixes.
const (
	suffixIn     = "__in"
	suffixNot    = "__not"
	suffixExists = "__exists"
	suffixFrom   = "__from"
	suffixTo     = "__to"
)

// DefaultSort is applied when a request names no sort.
const DefaultSort = "-timestamp"

// MaxResultWindow bounds from+limit of a paged query. Deeper reads scroll.
const MaxResultWindow = 10000

// Bounds of an open date range. Bleve rejects dates outside the int64 nanosecond span.
var (
	minDate = time.Date(1700, 1, 1, 0, 0, 0, 0, time.UTC)
	maxDate = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Date strings match within this window. Numeric and datetime terms share one
// encoding, and inside the window a datetime range never reaches the terms of
// a positive epoch-millisecond value.
var (
	dateWindowStart = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	dateWindowEnd   = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Translated is a request translated into index terms.
type Translated struct {
	Query  query.Query
	Limit  int
	Page   int
	From   int
	Sort   []string
	Fields []string
}

// Translator turns Params into queries for one document kind.
type Translator struct {
	kind         record.Kind
	props        map[string]store.Property
	defaultLimit int
	maxLimit     int
}

// NewTranslator creates a translator for kind. The mapping decides how filter
// values are typed; unmapped fields are matched by inference.
func NewTranslator(kind record.Kind, mapping store.TypeMapping, defaultLimit, maxLimit int) *Translator {
	if maxLimit < 1 {
		maxLimit = 100
	}
	if defaultLimit < 1 || defaultLimit > maxLimit {
		defaultLimit = min(10, maxLimit)
	}
	props := make(map[string]store.Property)
	flatten("", mapping.Properties, props)
	return &Translator{kind: kind, props: props, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// flatten indexes nested properties by dotted path.
func flatten(prefix string, in map[string]store.Property, out map[string]store.Property) {
	for name, p := range in {
		path := prefix + name
		out[path] = p
		if len(p.Properties) > 0 {
			flatten(path+".", p.Properties, out)
		}
	}
}

// Translate builds the query, paging, sort and projection of a request.
// The query always restricts results to the translator's kind.
func (t *Translator) Translate(params Params) (*Translated, error) {
	limit := clamp(atoiOr(params[ParamLimit], t.defaultLimit), 1, t.maxLimit)
	page := atoiOr(params[ParamPage], 1)
	if page < 1 {
		page = 1
	}
	if page > 1 && page-1 > (MaxResultWindow-limit)/limit {
		return nil, fmt.Errorf("page %d with limit %d reads past the first %d results", page, limit, MaxResultWindow)
	}

	out := &Translated{
		Limit:  limit,
		Page:   page,
		From:   (page - 1) * limit,
		Sort:   t.sort(params),
		Fields: splitList(params[ParamFields]),
	}

	kindQuery := bleve.NewTermQuery(t.kind.Type)
	kindQuery.SetField(store.KindField)
	must := []query.Query{kindQuery}
	var mustNot []query.Query

	if v := params[ParamPrefix]; v != "" {
		q := bleve.NewPrefixQuery(v)
		q.SetField(t.kind.SearchField)
		must = append(must, q)
	}
	if v := params[ParamInfix]; v != "" {
		q := bleve.NewWildcardQuery("*" + escapeWildcard(v) + "*")
		q.SetField(t.kind.SearchField)
		must = append(must, q)
	}

	// Fixed order keeps translation deterministic
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "" && !reserved[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	ranges := map[string]*bounds{}
	for _, key := range keys {
		value := params[key]
		switch {
		case strings.HasSuffix(key, suffixIn):
			field := strings.TrimSuffix(key, suffixIn)
			var alts []query.Query
			for _, v := range splitList(value) {
				q, err := t.match(field, v)
				if err != nil {
					return nil, err
				}
				alts = append(alts, q)
			}
			if len(alts) == 0 {
				return nil, fmt.Errorf("%s needs at least one value", key)
			}
			must = append(must, bleve.NewDisjunctionQuery(alts...))

		case strings.HasSuffix(key, suffixNot):
			q, err := t.match(strings.TrimSuffix(key, suffixNot), value)
			if err != nil {
				return nil, err
			}
			mustNot = append(mustNot, q)

		case strings.HasSuffix(key, suffixExists):
			want, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("%s must be true or false, got %q", key, value)
			}
			q := t.exists(strings.TrimSuffix(key, suffixExists))
			if want {
				must = append(must, q)
			} else {
				mustNot = append(mustNot, q)
			}

		case strings.HasSuffix(key, suffixFrom):
			field := strings.TrimSuffix(key, suffixFrom)
			rangeFor(ranges, field).from = value

		case strings.HasSuffix(key, suffixTo):
			field := strings.TrimSuffix(key, suffixTo)
			rangeFor(ranges, field).to = value

		default:
			q, err := t.match(key, value)
			if err != nil {
				return nil, err
			}
			must = append(must, q)
		}
	}

	fields := make([]string, 0, len(ranges))
	for f := range ranges {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		q, err := t.rangeQuery(f, ranges[f])
		if err != nil {
			return nil, err
		}
		must = append(must, q)
	}

	b := bleve.NewBooleanQuery()
	b.AddMust(must...)
	if len(mustNot) > 0 {
		b.AddMustNot(mustNot...)
	}
	out.Query = b
	return out, nil
}

// sort resolves sort_by/order, then sort_key, then the default.
func (t *Translator) sort(params Params) []string {
	if by := params[ParamSortBy]; by != "" {
		if strings.EqualFold(params[ParamOrder], "asc") {
			return []string{by}
		}
		return []string{"-" + by}
	}
	if keys := splitList(params[ParamSortKey]); len(keys) > 0 {
		return keys
	}
	return []string{DefaultSort}
}

type bounds struct {
	from, to string
}

func rangeFor(m map[string]*bounds, field string) *bounds {
	if b, ok := m[field]; ok {
		return b
	}
	b := &bounds{}
	m[field] = b
	return b
}

// match builds an equality query for field=value, typed by the mapping.
func (t *Translator) match(field, value string) (query.Query, error) {
	prop, mapped := t.props[field]
	switch {
	case mapped && prop.Type == "boolean":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false, got %q", field, value)
		}
		return boolQuery(field, b), nil

	case mapped && prop.IsNumeric():
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return numericEq(field, f), nil
		}
		if prop.Type == "date" {
			ts, err := parseDate(value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", field, err)
			}
			return dateQuery(field, ts, ts), nil
		}
		return nil, fmt.Errorf("%s must be numeric, got %q", field, value)

	case mapped:
		return termQuery(field, value), nil
	}

	// Unmapped: the value may have been indexed as text, number or boolean
	alts := []query.Query{termQuery(field, value)}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		alts = append(alts, numericEq(field, f))
	}
	if b, err := strconv.ParseBool(value); err == nil && (value == "true" || value == "false") {
		alts = append(alts, boolQuery(field, b))
	}
	if len(alts) == 1 {
		return alts[0], nil
	}
	return bleve.NewDisjunctionQuery(alts...), nil
}

// exists matches documents with any value in field.
func (t *Translator) exists(field string) query.Query {
	lo, hi := -math.MaxFloat64, math.MaxFloat64
	anyNumber := bleve.NewNumericRangeInclusiveQuery(&lo, &hi, boolPtr(true), boolPtr(true))
	anyNumber.SetField(field)

	anyTerm := bleve.NewWildcardQuery("*")
	anyTerm.SetField(field)

	prop, mapped := t.props[field]
	switch {
	case mapped && prop.Type == "boolean":
		return bleve.NewDisjunctionQuery(boolQuery(field, true), boolQuery(field, false))
	case mapped && prop.Type == "date":
		anyDate := dateRange(field, minDate, maxDate)
		return bleve.NewDisjunctionQuery(anyNumber, anyDate)
	case mapped && prop.IsNumeric():
		return anyNumber
	case mapped:
		return anyTerm
	}
	return bleve.NewDisjunctionQuery(anyTerm, anyNumber, boolQuery(field, true), boolQuery(field, false))
}

// rangeQuery builds an inclusive range from __from/__to bounds.
func (t *Translator) rangeQuery(field string, b *bounds) (query.Query, error) {
	prop, mapped := t.props[field]

	lo, loErr := parseOptionalFloat(b.from)
	hi, hiErr := parseOptionalFloat(b.to)
	numeric := loErr == nil && hiErr == nil && (!mapped || prop.IsNumeric())
	if numeric {
		q := bleve.NewNumericRangeInclusiveQuery(lo, hi, boolPtr(true), boolPtr(true))
		q.SetField(field)
		return q, nil
	}

	if mapped && prop.Type == "date" {
		start, end := time.Time{}, time.Time{}
		var err error
		if b.from != "" {
			if start, err = parseDateBound(b.from); err != nil {
				return nil, fmt.Errorf("%s%s: %w", field, suffixFrom, err)
			}
		}
		if b.to != "" {
			if end, err = parseDateBound(b.to); err != nil {
				return nil, fmt.Errorf("%s%s: %w", field, suffixTo, err)
			}
		}
		return dateQuery(field, start, end), nil
	}

	if mapped && prop.IsNumeric() {
		return nil, fmt.Errorf("%s range bounds must be numeric", field)
	}
	q := bleve.NewTermRangeInclusiveQuery(b.from, b.to, boolPtr(true), boolPtr(true))
	q.SetField(field)
	return q, nil
}

func termQuery(field, value string) query.Query {
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	return q
}

func boolQuery(field string, v bool) query.Query {
	q := bleve.NewBoolFieldQuery(v)
	q.SetField(field)
	return q
}

func numericEq(field string, v float64) query.Query {
	q := bleve.NewNumericRangeInclusiveQuery(&v, &v, boolPtr(true), boolPtr(true))
	q.SetField(field)
	return q
}

// dateRange is inclusive. A zero bound is open.
func dateRange(field string, start, end time.Time) query.Query {
	q := bleve.NewDateRangeInclusiveQuery(start, end, boolPtr(true), boolPtr(true))
	q.SetField(field)
	return q
}

// dateQuery matches values between start and end inclusive whether they were
// indexed as epoch milliseconds or as date strings. A zero bound is open.
// Epoch values before 1970 are not matched.
func dateQuery(field string, start, end time.Time) query.Query {
	lo, hi := float64(1), float64(dateWindowEnd.UnixMilli())
	dStart, dEnd := dateWindowStart, dateWindowEnd
	if !start.IsZero() {
		lo = max(lo, float64(start.UnixMilli()))
		if start.After(dStart) {
			dStart = start
		}
	}
	if !end.IsZero() {
		hi = min(hi, float64(end.UnixMilli()))
		if end.Before(dEnd) {
			dEnd = end
		}
	}

	var alts []query.Query
	if lo <= hi {
		q := bleve.NewNumericRangeInclusiveQuery(&lo, &hi, boolPtr(true), boolPtr(true))
		q.SetField(field)
		alts = append(alts, q)
	}
	if !dStart.After(dEnd) {
		alts = append(alts, dateRange(field, dStart, dEnd))
	}
	switch len(alts) {
	case 0:
		return bleve.NewMatchNoneQuery()
	case 1:
		return alts[0]
	}
	return bleve.NewDisjunctionQuery(alts...)
}

// parseDateBound reads a range bound as epoch milliseconds or a date string.
func parseDateBound(v string) (time.Time, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	return parseDate(v)
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", v)
}

func parseOptionalFloat(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func escapeWildcard(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)
	return r.Replace(v)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func atoiOr(v string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func boolPtr(b bool) *bool {
	return &b
}
