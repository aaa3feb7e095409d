package index

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/recordsync/internal/errors"
	"github.com/Aman-CERP/recordsync/internal/store"
	"github.com/Aman-CERP/recordsync/internal/telemetry"
)

// Mapping applies run this many at a time, or one at a time under reduced
// concurrency.
const (
	DefaultApplyConcurrency = 3
	reducedConcurrency      = 1
)

// BootstrapConfig configures Bootstrap.
type BootstrapConfig struct {
	// Index is created when absent.
	Index string
	// Alias is attached to Index when it resolves to nothing.
	Alias string
	// Mappings is the desired mapping set. Nil uses DesiredMappings.
	Mappings map[string]store.TypeMapping
	// ReducedConcurrency applies mappings one at a time.
	ReducedConcurrency bool

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// BootstrapResult reports what Bootstrap changed.
type BootstrapResult struct {
	// Index is the index the alias resolves to afterwards.
	Index         string   `json:"index"`
	Alias         string   `json:"alias"`
	Created       bool     `json:"created"`
	AliasAttached bool     `json:"alias_attached"`
	Applied       []string `json:"applied"`
}

// Bootstrap makes sure the index and alias exist and the live mapping covers
// the desired set. Running it against a current index changes nothing.
func Bootstrap(ctx context.Context, client store.Client, cfg BootstrapConfig) (*BootstrapResult, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Index == "" || cfg.Alias == "" {
		return nil, errors.ValidationError("bootstrap needs an index and an alias name", nil)
	}
	desired := cfg.Mappings
	if desired == nil {
		var err error
		if desired, err = DesiredMappings(); err != nil {
			return nil, errors.New(errors.ErrCodeMappingFailed, "load desired mappings", err)
		}
	}

	res := &BootstrapResult{Index: cfg.Index, Alias: cfg.Alias, Applied: []string{}}

	exists, err := client.IndexExists(ctx, cfg.Index)
	if err != nil {
		return nil, errors.New(errors.ErrCodeIndexUnavailable, "check index "+cfg.Index, err)
	}
	if !exists {
		if err := client.CreateIndex(ctx, cfg.Index, desired); err != nil {
			return nil, errors.New(errors.ErrCodeIndexOpen, "create index "+cfg.Index, err)
		}
		if err := client.PutAlias(ctx, cfg.Index, cfg.Alias); err != nil {
			return nil, errors.New(errors.ErrCodeIndexOpen, "attach alias "+cfg.Alias, err)
		}
		res.Created, res.AliasAttached = true, true
		logger.Info("bootstrap_index_created",
			slog.String("index", cfg.Index),
			slog.String("alias", cfg.Alias),
			slog.Int("types", len(desired)))
		return res, nil
	}

	live, attached, err := resolveLive(ctx, client, cfg.Index, cfg.Alias, logger)
	if err != nil {
		return nil, err
	}
	res.Index, res.AliasAttached = live, attached

	current, err := client.GetMapping(ctx, live)
	if err != nil {
		return nil, errors.New(errors.ErrCodeMappingFailed, "read mapping of "+live, err)
	}
	missing := FindMissingMappings(desired, current)

	limit := DefaultApplyConcurrency
	if cfg.ReducedConcurrency {
		limit = reducedConcurrency
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, name := range missing {
		g.Go(func() error {
			if err := client.PutMapping(gctx, live, name, desired[name]); err != nil {
				return fmt.Errorf("put mapping %s: %w", name, err)
			}
			cfg.Metrics.MappingApplied(name)
			mu.Lock()
			res.Applied = append(res.Applied, name)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.New(errors.ErrCodeMappingFailed, "apply mappings to "+live, err)
	}
	slices.Sort(res.Applied)

	logger.Info("bootstrap_mappings_applied",
		slog.String("index", live),
		slog.Int("applied", len(res.Applied)),
		slog.Int("concurrency", limit))
	return res, nil
}

// resolveLive returns the index alias resolves to, attaching alias to index
// if it resolves to nothing.
func resolveLive(ctx context.Context, client store.Client, index, alias string, logger *slog.Logger) (string, bool, error) {
	indices, err := client.GetAlias(ctx, alias)
	switch {
	case stderrors.Is(err, store.ErrAliasNotFound) || (err == nil && len(indices) == 0):
		if err := client.PutAlias(ctx, index, alias); err != nil {
			return "", false, errors.New(errors.ErrCodeIndexOpen, "attach alias "+alias, err)
		}
		logger.Info("bootstrap_alias_attached", slog.String("index", index), slog.String("alias", alias))
		return index, true, nil
	case err != nil:
		return "", false, errors.New(errors.ErrCodeIndexUnavailable, "resolve alias "+alias, err)
	case len(indices) == 1:
		return indices[0], false, nil
	default:
		logger.Warn("bootstrap_alias_ambiguous",
			slog.String("alias", alias),
			slog.Any("indices", indices),
			slog.String("using", index))
		return index, false, nil
	}
}
