package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recordsync/internal/cdc"
	"github.com/Aman-CERP/recordsync/internal/errors"
	"github.com/Aman-CERP/recordsync/internal/store"
)

// eventsOutput is the JSON printed by apply-events.
type eventsOutput struct {
	cdc.BatchReport
	Failures []string `json:"failures,omitempty"`
}

func newApplyEventsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply-events [file ...]",
		Short: "Apply table stream batches to the index",
		Long: `Read stream batches ({"Records": [...]} in the table stream JSON format)
from each file, or stdin when none is given, and apply them to search.alias.

Tables map to types by cdc.tables plus the <stack>-<Name>Table defaults.
A failing record is reported and the rest of the batch still runs; the
command exits non-zero if any record failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(client *store.BleveClient) error {
				router, err := cdc.NewRouter(client, cdc.Config{
					Target:           opts.cfg.Search.Alias,
					Tables:           opts.cfg.TableKinds(),
					StaleEventGuard:  opts.cfg.CDC.StaleEventGuard,
					VersionCacheSize: opts.cfg.CDC.VersionCacheSize,
					Logger:           opts.logger,
					Metrics:          opts.metrics,
				})
				if err != nil {
					return errors.ConfigError("configure change event router", err)
				}

				if len(args) == 0 {
					args = []string{"-"}
				}
				var out eventsOutput
				for _, path := range args {
					batch, err := readBatch(cmd, path)
					if err != nil {
						return err
					}
					report := router.HandleBatch(cmd.Context(), batch)
					out.Applied += report.Applied
					out.Removed += report.Removed
					out.Ignored += report.Ignored
					out.Stale += report.Stale
					out.Failed += report.Failed
					for _, e := range report.Errors {
						out.Failures = append(out.Failures, e.Error())
					}
				}
				if err := opts.out(cmd).JSON(out); err != nil {
					return err
				}
				if out.Failed > 0 {
					return errors.CDCApplyError(fmt.Sprintf("%d of %d records failed", out.Failed, out.Total()), nil)
				}
				return nil
			})
		},
	}
}

func readBatch(cmd *cobra.Command, path string) (*cdc.Batch, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.ValidationError("read stream batch "+path, err)
	}
	batch, err := cdc.DecodeBatch(data)
	if err != nil {
		return nil, errors.ValidationError("decode stream batch "+path, err)
	}
	return batch, nil
}
