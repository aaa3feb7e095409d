package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blevesearch/bleve/v2"
)

// reindexPageSize is the number of documents copied per batch.
const reindexPageSize = 500

// Reindex copies every document of source into dest in batches. The copy is
// recorded in the task ledger while it runs. dest must resolve to one index.
func (c *BleveClient) Reindex(ctx context.Context, source, dest string) (*ReindexStats, error) {
	c.mu.RLock()
	err := c.checkOpen()
	var dst bleve.Index
	if err == nil {
		_, err = c.resolve(source)
	}
	if err == nil {
		dst, err = c.resolveOne(dest)
	}
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	taskID, err := c.tasks.start(ctx, ReindexAction, source, dest)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	stats := &ReindexStats{TaskID: taskID}
	c.logger.Info("reindex_started",
		slog.String("task_id", taskID),
		slog.String("source", source),
		slog.String("dest", dest))

	page := make([]Hit, 0, reindexPageSize)
	flush := func() error {
		if len(page) == 0 {
			return nil
		}
		if err := c.copyBatch(ctx, dst, page, stats); err != nil {
			return err
		}
		page = page[:0]
		return c.tasks.progress(ctx, taskID, stats.Total)
	}

	err = c.walk(ctx, SearchRequest{Target: source, Size: reindexPageSize}, func(h Hit) error {
		page = append(page, h)
		if len(page) == reindexPageSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	stats.Took = time.Since(started)

	if ferr := c.tasks.finish(context.WithoutCancel(ctx), taskID, stats.Total, err); ferr != nil {
		c.logger.Warn("task_finish_failed",
			slog.String("task_id", taskID),
			slog.String("error", ferr.Error()))
	}
	if err != nil {
		c.logger.Error("reindex_failed",
			slog.String("task_id", taskID),
			slog.Int("copied", stats.Total),
			slog.String("error", err.Error()))
		return stats, fmt.Errorf("reindex %s to %s: %w", source, dest, err)
	}

	c.logger.Info("reindex_completed",
		slog.String("task_id", taskID),
		slog.Int("total", stats.Total),
		slog.Int("created", stats.Created),
		slog.Int("updated", stats.Updated),
		slog.Duration("took", stats.Took))
	return stats, nil
}

// copyBatch writes one page of hits into dst, counting overwrites as updates.
func (c *BleveClient) copyBatch(ctx context.Context, dst bleve.Index, hits []Hit, stats *ReindexStats) error {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = docKey(h.Kind, h.ID)
	}

	existing := make(map[string]struct{})
	probe := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery(ids), len(ids), 0, false)
	res, err := dst.SearchInContext(ctx, probe)
	if err != nil {
		return fmt.Errorf("probe destination: %w", err)
	}
	for _, dm := range res.Hits {
		existing[dm.ID] = struct{}{}
	}

	batch := dst.NewBatch()
	for i, h := range hits {
		body, err := indexBody(h.Kind, h.Parent, h.Source)
		if err != nil {
			return err
		}
		if err := batch.Index(ids[i], body); err != nil {
			return fmt.Errorf("batch %s: %w", ids[i], err)
		}
		if _, ok := existing[ids[i]]; ok {
			stats.Updated++
		} else {
			stats.Created++
		}
	}
	if err := dst.Batch(batch); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}

	stats.Total += len(hits)
	stats.Batches++
	return nil
}

// Tasks lists running tasks whose action matches the pattern.
func (c *BleveClient) Tasks(ctx context.Context, actionPattern string) ([]Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.tasks.running(ctx, actionPattern)
}
