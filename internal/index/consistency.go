package index

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/recordsync/internal/errors"
	"github.com/Aman-CERP/recordsync/internal/queue"
	"github.com/Aman-CERP/recordsync/internal/record"
	"github.com/Aman-CERP/recordsync/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyLiveAndDeleted is a record stored both live and as a tombstone.
	InconsistencyLiveAndDeleted InconsistencyType = iota
	// InconsistencyKeyMismatch is a document whose stored id differs from the
	// id its key fields derive, or whose key fields are missing.
	InconsistencyKeyMismatch
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyLiveAndDeleted:
		return "live_and_deleted"
	case InconsistencyKeyMismatch:
		return "key_mismatch"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type by name.
func (t InconsistencyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Inconsistency represents one detected issue.
type Inconsistency struct {
	Type    InconsistencyType `json:"type"`
	Kind    string            `json:"kind"`
	ID      string            `json:"id"`
	Details string            `json:"details"`

	// keepLive is what Repair does with a live-and-deleted pair.
	keepLive bool
	tomb     string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of documents read.
	Checked int `json:"checked"`
	// Inconsistencies contains all detected issues.
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	// Duration is how long the check took.
	Duration time.Duration `json:"duration_ns"`
}

// ConsistencyChecker validates that every stored document sits under the id
// its key fields derive, and that no record is both live and tombstoned.
type ConsistencyChecker struct {
	client store.Client
	cfg    queue.Config
	logger *slog.Logger
}

// NewConsistencyChecker creates a checker reading cfg.Target.
func NewConsistencyChecker(client store.Client, cfg queue.Config) *ConsistencyChecker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsistencyChecker{client: client, cfg: cfg, logger: logger}
}

// Check scans every kind. Tombstones are held in memory while their live
// kind is read; live documents stream through a scroll.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	res := &CheckResult{Inconsistencies: []Inconsistency{}}

	tombstones := make(map[string]map[string]record.Document)
	for _, k := range record.All() {
		if k.HasTombstone() {
			tombstones[k.Tombstone.Type] = make(map[string]record.Document)
		}
	}

	// Tombstone kinds first so live kinds can be matched against them
	kinds := record.All()
	ordered := make([]record.Kind, 0, len(kinds))
	for _, k := range kinds {
		if _, ok := tombstones[k.Type]; ok {
			ordered = append(ordered, k)
		}
	}
	for _, k := range kinds {
		if _, ok := tombstones[k.Type]; !ok {
			ordered = append(ordered, k)
		}
	}

	for _, kind := range ordered {
		q := queue.NewHitQueue(c.client, kind, c.cfg)
		for {
			h, ok, err := q.Shift(ctx)
			if err != nil {
				if stderrors.Is(err, store.ErrIndexNotFound) || stderrors.Is(err, store.ErrAliasNotFound) {
					return nil, errors.New(errors.ErrCodeIndexMissing, c.cfg.Target+" is not available", err)
				}
				return nil, errors.TransientIndexError("consistency check", err)
			}
			if !ok {
				break
			}
			res.Checked++

			if id, err := kind.ID(h.Source); err != nil || id != h.ID {
				res.Inconsistencies = append(res.Inconsistencies, Inconsistency{
					Type:    InconsistencyKeyMismatch,
					Kind:    kind.Type,
					ID:      h.ID,
					Details: keyDetails(id, err),
				})
			}

			if tombs, ok := tombstones[kind.Type]; ok {
				tombs[h.ID] = h.Source
				continue
			}
			if !kind.HasTombstone() {
				continue
			}
			tomb, ok := tombstones[kind.Tombstone.Type][h.ID]
			if !ok {
				continue
			}
			updated, deleted := millis(h.Source, "updatedAt"), millis(tomb, "deletedAt")
			res.Inconsistencies = append(res.Inconsistencies, Inconsistency{
				Type:     InconsistencyLiveAndDeleted,
				Kind:     kind.Type,
				ID:       h.ID,
				Details:  fmt.Sprintf("updatedAt %.0f, deletedAt %.0f", updated, deleted),
				keepLive: updated >= deleted,
				tomb:     kind.Tombstone.Type,
			})
		}
	}

	res.Duration = time.Since(start)
	c.logger.Info("consistency_checked",
		slog.String("target", c.cfg.Target),
		slog.Int("checked", res.Checked),
		slog.Int("inconsistencies", len(res.Inconsistencies)),
		slog.Duration("took", res.Duration))
	return res, nil
}

func keyDetails(derived string, err error) string {
	if err != nil {
		return err.Error()
	}
	return "key fields derive id " + derived
}

// Repair fixes detected inconsistencies and returns how many it fixed.
// - Live and deleted: the newer side wins; the live record wins a tie
// - Key mismatch: logged as warning (requires re-applying the record)
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) (int, error) {
	var errs []error
	repaired := 0
	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyLiveAndDeleted:
			typeName, side := issue.tomb, "tombstone"
			if !issue.keepLive {
				typeName, side = issue.Kind, "live"
			}
			if err := c.client.Delete(ctx, c.cfg.Target, typeName, issue.ID); err != nil {
				errs = append(errs, err)
				continue
			}
			repaired++
			c.logger.Info("inconsistency_repaired",
				slog.String("kind", issue.Kind),
				slog.String("id", issue.ID),
				slog.String("removed", side))
		case InconsistencyKeyMismatch:
			c.logger.Warn("key_mismatch_needs_reapply",
				slog.String("kind", issue.Kind),
				slog.String("id", issue.ID),
				slog.String("details", issue.Details))
		}
	}
	if len(errs) > 0 {
		return repaired, errors.TransientIndexError("repair", stderrors.Join(errs...))
	}
	return repaired, nil
}

// millis reads a numeric epoch-millisecond field. Anything else reads as 0.
func millis(doc record.Document, field string) float64 {
	switch v := doc[field].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
