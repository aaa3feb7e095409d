package index

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Aman-CERP/recordsync/internal/errors"
	"github.com/Aman-CERP/recordsync/internal/store"
	"github.com/Aman-CERP/recordsync/internal/telemetry"
)

// DefaultPrefix starts synthesized destination names.
const DefaultPrefix = "records"

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	// Prefix starts synthesized destination names.
	Prefix string

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Orchestrator runs reindex cutovers: copy the aliased index into a new
// one, then swap the alias in one atomic update.
type Orchestrator struct {
	client  store.Client
	prefix  string
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(client store.Client, cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		client:  client,
		prefix:  cfg.Prefix,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
	if o.prefix == "" {
		o.prefix = DefaultPrefix
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// DestinationName is the default destination for a reindex started at t:
// <prefix>-<year>-<month>-<day>, month and day unpadded.
func DestinationName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%d-%d-%d", prefix, t.Year(), int(t.Month()), t.Day())
}

// ReindexRequest names the indices of a reindex. Empty Source means the
// index behind Alias; empty Dest means today's DestinationName.
type ReindexRequest struct {
	Source string `json:"source,omitempty"`
	Dest   string `json:"dest,omitempty"`
	Alias  string `json:"alias"`
}

// ReindexResult reports a completed copy.
type ReindexResult struct {
	Source string              `json:"source"`
	Dest   string              `json:"dest"`
	Alias  string              `json:"alias"`
	Stats  *store.ReindexStats `json:"stats"`
}

// Reindex creates the destination with the source's mappings and copies
// every document into it. Readers keep using the source until
// CompleteReindex. Every precondition is checked before anything is created.
func (o *Orchestrator) Reindex(ctx context.Context, req ReindexRequest) (*ReindexResult, error) {
	plan, err := o.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	mappings, err := o.client.GetMapping(ctx, plan.Source)
	if err != nil {
		return nil, errors.New(errors.ErrCodeMappingFailed, "read mapping of "+plan.Source, err)
	}
	if err := o.client.CreateIndex(ctx, plan.Dest, mappings); err != nil {
		return nil, errors.New(errors.ErrCodeIndexOpen, "create destination "+plan.Dest, err)
	}

	o.logger.Info("reindex_copy_started",
		slog.String("source", plan.Source),
		slog.String("dest", plan.Dest),
		slog.String("alias", plan.Alias))

	stats, err := o.client.Reindex(ctx, plan.Source, plan.Dest)
	o.metrics.ReindexRun(err)
	if err != nil {
		return nil, errors.New(errors.ErrCodeReindexFailed,
			fmt.Sprintf("copy %s to %s", plan.Source, plan.Dest), err).
			WithSuggestion("the destination index was left in place; delete it before retrying")
	}
	plan.Stats = stats
	return plan, nil
}

// plan resolves source and destination and checks every precondition.
func (o *Orchestrator) plan(ctx context.Context, req ReindexRequest) (*ReindexResult, error) {
	if req.Alias == "" {
		return nil, errors.PreconditionError(errors.ErrCodeAliasMissing, "reindex needs an alias")
	}
	aliased, err := o.client.GetAlias(ctx, req.Alias)
	if stderrors.Is(err, store.ErrAliasNotFound) || (err == nil && len(aliased) == 0) {
		return nil, errors.PreconditionError(errors.ErrCodeAliasMissing,
			fmt.Sprintf("alias %s does not resolve to any index", req.Alias))
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeIndexUnavailable, "resolve alias "+req.Alias, err)
	}

	source := req.Source
	if source == "" {
		if len(aliased) > 1 {
			return nil, errors.PreconditionError(errors.ErrCodeAliasAmbiguous,
				fmt.Sprintf("alias %s points at %d indices; name the source", req.Alias, len(aliased))).
				WithDetail("indices", fmt.Sprint(aliased))
		}
		source = aliased[0]
	} else {
		exists, err := o.client.IndexExists(ctx, source)
		if err != nil {
			return nil, errors.New(errors.ErrCodeIndexUnavailable, "check index "+source, err)
		}
		if !exists {
			return nil, errors.PreconditionError(errors.ErrCodeIndexMissing,
				fmt.Sprintf("source index %s does not exist", source))
		}
		if !slices.Contains(aliased, source) {
			return nil, errors.PreconditionError(errors.ErrCodeSourceNotAliased,
				fmt.Sprintf("source index %s is not behind alias %s", source, req.Alias))
		}
	}

	dest := req.Dest
	if dest == "" {
		dest = DestinationName(o.prefix, o.now())
	}
	if dest == source {
		return nil, errors.PreconditionError(errors.ErrCodeSameIndex,
			fmt.Sprintf("source and destination are both %s", source))
	}
	exists, err := o.client.IndexExists(ctx, dest)
	if err != nil {
		return nil, errors.New(errors.ErrCodeIndexUnavailable, "check index "+dest, err)
	}
	if exists {
		return nil, errors.PreconditionError(errors.ErrCodeDestinationExists,
			fmt.Sprintf("destination index %s already exists", dest))
	}

	return &ReindexResult{Source: source, Dest: dest, Alias: req.Alias}, nil
}

// CompleteRequest names a finished reindex to cut over.
type CompleteRequest struct {
	Source       string `json:"source"`
	Dest         string `json:"dest"`
	Alias        string `json:"alias"`
	DeleteSource bool   `json:"delete_source"`
}

// CompleteResult reports a cutover.
type CompleteResult struct {
	Alias         string `json:"alias"`
	Index         string `json:"index"`
	SourceDeleted bool   `json:"source_deleted"`
}

// CompleteReindex moves the alias from source to destination in one alias
// update, then deletes the source if asked. The source is only deleted
// after the swap succeeded.
func (o *Orchestrator) CompleteReindex(ctx context.Context, req CompleteRequest) (*CompleteResult, error) {
	if req.Source == "" || req.Dest == "" || req.Alias == "" {
		return nil, errors.ValidationError("complete-reindex needs a source, a destination and an alias", nil)
	}
	if req.Source == req.Dest {
		return nil, errors.PreconditionError(errors.ErrCodeSameIndex,
			fmt.Sprintf("source and destination are both %s", req.Source))
	}
	for _, name := range []string{req.Source, req.Dest} {
		exists, err := o.client.IndexExists(ctx, name)
		if err != nil {
			return nil, errors.New(errors.ErrCodeIndexUnavailable, "check index "+name, err)
		}
		if !exists {
			return nil, errors.PreconditionError(errors.ErrCodeIndexMissing,
				fmt.Sprintf("index %s does not exist", name))
		}
	}

	err := o.client.UpdateAliases(ctx, []store.AliasAction{
		{Type: store.AliasRemove, Index: req.Source, Alias: req.Alias},
		{Type: store.AliasAdd, Index: req.Dest, Alias: req.Alias},
	})
	if err != nil {
		if stderrors.Is(err, store.ErrAliasNotFound) {
			return nil, errors.PreconditionError(errors.ErrCodeSourceNotAliased,
				fmt.Sprintf("alias %s is not attached to %s", req.Alias, req.Source))
		}
		return nil, errors.New(errors.ErrCodeIndexUnavailable, "swap alias "+req.Alias, err)
	}
	o.metrics.AliasSwapped()
	o.logger.Info("reindex_cutover_completed",
		slog.String("alias", req.Alias),
		slog.String("from", req.Source),
		slog.String("to", req.Dest))

	res := &CompleteResult{Alias: req.Alias, Index: req.Dest}
	if req.DeleteSource {
		if err := o.client.DeleteIndex(ctx, req.Source); err != nil {
			return res, errors.New(errors.ErrCodeIndexUnavailable, "delete source "+req.Source, err).
				WithSuggestion("the alias already points at " + req.Dest + "; delete the source by hand")
		}
		res.SourceDeleted = true
	}
	return res, nil
}

// GetStatus lists the reindex copies still running.
func (o *Orchestrator) GetStatus(ctx context.Context) ([]store.Task, error) {
	tasks, err := o.client.Tasks(ctx, "*reindex*")
	if err != nil {
		return nil, errors.New(errors.ErrCodeIndexUnavailable, "list reindex tasks", err)
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	return tasks, nil
}
