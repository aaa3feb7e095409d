package cdc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/recordsync/internal/errors"
	"github.com/Aman-CERP/recordsync/internal/record"
	"github.com/Aman-CERP/recordsync/internal/store"
	"github.com/Aman-CERP/recordsync/internal/telemetry"
)

// Document fields the router reads or writes.
const (
	fieldTimestamp = "timestamp"
	fieldUpdatedAt = "updatedAt"
	fieldDeletedAt = "deletedAt"
	fieldFiles     = "files"
)

// Config configures a Router.
type Config struct {
	// Target is the index or alias written to. It must resolve to one index.
	Target string

	// Tables maps source table names to index type names. Events from other
	// tables are ignored.
	Tables map[string]string

	// StaleEventGuard skips MODIFY and REMOVE events whose updatedAt is
	// older than the version already indexed.
	StaleEventGuard bool

	// VersionCacheSize bounds the recently applied versions kept in memory.
	VersionCacheSize int

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Router applies change events to the index, one record at a time.
type Router struct {
	client   store.Client
	target   string
	tables   map[string]record.Kind
	guard    bool
	versions *lru.Cache[string, float64]
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewRouter validates the table mapping and creates a router.
func NewRouter(client store.Client, cfg Config) (*Router, error) {
	if client == nil {
		return nil, fmt.Errorf("cdc router: nil client")
	}
	if cfg.Target == "" {
		return nil, fmt.Errorf("cdc router: empty target")
	}

	tables := make(map[string]record.Kind, len(cfg.Tables))
	for table, typeName := range cfg.Tables {
		kind, ok := record.Lookup(typeName)
		if !ok {
			return nil, fmt.Errorf("cdc router: table %s maps to unknown kind %q", table, typeName)
		}
		tables[table] = kind
	}

	size := cfg.VersionCacheSize
	if size <= 0 {
		size = 4096
	}
	versions, err := lru.New[string, float64](size)
	if err != nil {
		return nil, fmt.Errorf("cdc router: version cache: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		client:   client,
		target:   cfg.Target,
		tables:   tables,
		guard:    cfg.StaleEventGuard,
		versions: versions,
		logger:   logger,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}, nil
}

// BatchReport counts the outcomes of one batch.
type BatchReport struct {
	Applied int `json:"applied"`
	Removed int `json:"removed"`
	Ignored int `json:"ignored"`
	Stale   int `json:"stale"`
	Failed  int `json:"failed"`

	// Errors holds one entry per failed record, in batch order.
	Errors []error `json:"-"`
}

// Total is the number of records the report covers.
func (r BatchReport) Total() int {
	return r.Applied + r.Removed + r.Ignored + r.Stale + r.Failed
}

// HandleBatch applies every record of the batch. A failing record is
// logged and counted; the rest of the batch still runs.
func (r *Router) HandleBatch(ctx context.Context, batch *Batch) BatchReport {
	var report BatchReport
	if batch == nil {
		return report
	}
	for i, ev := range batch.Records {
		outcome, err := r.Apply(ctx, ev)
		switch outcome {
		case telemetry.OutcomeApplied:
			report.Applied++
		case telemetry.OutcomeRemoved:
			report.Removed++
		case telemetry.OutcomeIgnored:
			report.Ignored++
		case telemetry.OutcomeStale:
			report.Stale++
		default:
			report.Failed++
			report.Errors = append(report.Errors, err)
			r.logger.Warn("cdc_record_failed",
				slog.Int("position", i),
				slog.String("event_id", ev.EventID),
				slog.String("event", ev.EventName),
				slog.String("table", ev.Table()),
				slog.String("error", err.Error()))
		}
	}
	r.logger.Info("cdc_batch_applied",
		slog.Int("records", len(batch.Records)),
		slog.Int("applied", report.Applied),
		slog.Int("removed", report.Removed),
		slog.Int("ignored", report.Ignored),
		slog.Int("stale", report.Stale),
		slog.Int("failed", report.Failed))
	return report
}

// Apply routes one event and returns its outcome. The error is set only for
// the failed outcome.
func (r *Router) Apply(ctx context.Context, ev Event) (string, error) {
	kind, ok := r.tables[ev.Table()]
	if !ok {
		r.metrics.CDCEvent("", telemetry.OutcomeIgnored)
		r.logger.Debug("cdc_record_ignored",
			slog.String("table", ev.Table()),
			slog.String("event", ev.EventName))
		return telemetry.OutcomeIgnored, nil
	}

	var (
		outcome string
		err     error
	)
	switch ev.EventName {
	case EventRemove:
		outcome, err = r.remove(ctx, kind, ev)
	case EventInsert, EventModify:
		outcome, err = r.upsert(ctx, kind, ev)
	default:
		err = fmt.Errorf("unknown event name %q", ev.EventName)
	}
	if err != nil {
		outcome = telemetry.OutcomeFailed
		err = errors.CDCApplyError(fmt.Sprintf("%s %s", ev.EventName, kind.Type), err).
			WithDetail("table", ev.Table())
	}
	r.metrics.CDCEvent(kind.Type, outcome)
	return outcome, err
}

func (r *Router) upsert(ctx context.Context, kind record.Kind, ev Event) (string, error) {
	doc, err := decodeImage(ev.DynamoDB.NewImage)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", fmt.Errorf("%s event has no new image", ev.EventName)
	}
	id, err := kind.ID(doc)
	if err != nil {
		return "", err
	}
	parent, err := kind.ParentID(doc)
	if err != nil {
		return "", err
	}

	if ev.EventName == EventModify {
		stale, err := r.stale(ctx, kind, id, doc)
		if err != nil {
			return "", err
		}
		if stale {
			r.logStale(kind, id, ev.EventName)
			return telemetry.OutcomeStale, nil
		}
	}

	if _, ok := doc[fieldTimestamp]; !ok {
		doc[fieldTimestamp] = float64(r.now().UnixMilli())
	}
	if err := r.client.Index(ctx, r.target, kind.Type, id, parent, doc); err != nil {
		return "", err
	}
	if kind.HasTombstone() {
		if err := r.client.Delete(ctx, r.target, kind.Tombstone.Type, id); err != nil {
			return "", fmt.Errorf("clear tombstone: %w", err)
		}
	}
	r.remember(kind, id, doc)

	r.logger.Debug("cdc_record_applied",
		slog.String("kind", kind.Type),
		slog.String("id", id),
		slog.String("event", ev.EventName))
	return telemetry.OutcomeApplied, nil
}

func (r *Router) remove(ctx context.Context, kind record.Kind, ev Event) (string, error) {
	img := ev.DynamoDB.OldImage
	if len(img) == 0 {
		img = ev.DynamoDB.Keys
	}
	doc, err := decodeImage(img)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", fmt.Errorf("REMOVE event has neither old image nor keys")
	}
	id, err := kind.ID(doc)
	if err != nil {
		return "", err
	}

	stale, err := r.stale(ctx, kind, id, doc)
	if err != nil {
		return "", err
	}
	if stale {
		r.logStale(kind, id, ev.EventName)
		return telemetry.OutcomeStale, nil
	}

	if err := r.client.Delete(ctx, r.target, kind.Type, id); err != nil {
		return "", err
	}

	if kind.HasTombstone() {
		if err := r.writeTombstone(ctx, kind, id, doc); err != nil {
			return "", err
		}
	}
	r.remember(kind, id, doc)

	r.logger.Debug("cdc_record_removed",
		slog.String("kind", kind.Type),
		slog.String("id", id),
		slog.Bool("tombstone", kind.HasTombstone()))
	return telemetry.OutcomeRemoved, nil
}

// writeTombstone records the deletion under the tombstone kind, keeping the
// old image and its file list.
func (r *Router) writeTombstone(ctx context.Context, kind record.Kind, id string, old record.Document) error {
	tomb := make(record.Document, len(old)+2)
	for k, v := range old {
		tomb[k] = v
	}
	if _, ok := tomb[fieldFiles]; !ok {
		tomb[fieldFiles] = []any{}
	}
	now := float64(r.now().UnixMilli())
	tomb[fieldDeletedAt] = now
	if _, ok := tomb[fieldTimestamp]; !ok {
		tomb[fieldTimestamp] = now
	}

	// Key-only removes may lack the parent; the tombstone is then unparented
	parent, err := kind.Tombstone.ParentID(tomb)
	if err != nil {
		parent = ""
	}
	if err := r.client.Index(ctx, r.target, kind.Tombstone.Type, id, parent, tomb); err != nil {
		return fmt.Errorf("write tombstone: %w", err)
	}
	return nil
}

func versionKey(kind record.Kind, id string) string {
	return kind.Type + "/" + id
}

func version(doc record.Document) (float64, bool) {
	switch v := doc[fieldUpdatedAt].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func (r *Router) remember(kind record.Kind, id string, doc record.Document) {
	if !r.guard {
		return
	}
	if v, ok := version(doc); ok {
		r.versions.Add(versionKey(kind, id), v)
	}
}

// stale reports whether doc is strictly older than the newest version seen
// for the id, from the cache or else the index.
func (r *Router) stale(ctx context.Context, kind record.Kind, id string, doc record.Document) (bool, error) {
	if !r.guard {
		return false, nil
	}
	incoming, ok := version(doc)
	if !ok {
		return false, nil
	}

	current, cached := r.versions.Get(versionKey(kind, id))
	if !cached {
		hits, err := r.client.Get(ctx, r.target, kind.Type, id)
		if err != nil {
			return false, fmt.Errorf("read indexed version: %w", err)
		}
		for _, h := range hits {
			if v, ok := version(h.Source); ok && v > current {
				current, cached = v, true
			}
		}
		if !cached {
			return false, nil
		}
	}
	return incoming < current, nil
}

func (r *Router) logStale(kind record.Kind, id, event string) {
	r.logger.Info("cdc_record_stale",
		slog.String("kind", kind.Type),
		slog.String("id", id),
		slog.String("event", event))
}
