package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recordsync/internal/index"
	"github.com/Aman-CERP/recordsync/internal/output"
	"github.com/Aman-CERP/recordsync/internal/store"
)

func newBootstrapCmd(opts *rootOptions) *cobra.Command {
	var reduced bool

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the index and alias and apply missing mappings",
		Long: `Create search.index behind search.alias if neither exists, then diff the
live mappings against the desired set and apply what is missing.

Running bootstrap against an up to date index changes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBootstrap(cmd.Context(), cmd, opts, reduced)
		},
	}

	cmd.Flags().BoolVar(&reduced, "reduced-concurrency", false, "Apply mappings one at a time")
	return cmd
}

func runBootstrap(ctx context.Context, cmd *cobra.Command, opts *rootOptions, reduced bool) error {
	return opts.withClient(func(client *store.BleveClient) error {
		res, err := index.Bootstrap(ctx, client, index.BootstrapConfig{
			Index:              opts.cfg.Search.Index,
			Alias:              opts.cfg.Search.Alias,
			ReducedConcurrency: reduced || opts.cfg.ReducedConcurrency,
			Logger:             opts.logger,
			Metrics:            opts.metrics,
		})
		if err != nil {
			return err
		}
		return opts.out(cmd).JSON(res)
	})
}

func newOrchestrator(opts *rootOptions, client *store.BleveClient) *index.Orchestrator {
	return index.NewOrchestrator(client, index.OrchestratorConfig{
		Prefix:  opts.cfg.Reindex.Prefix,
		Logger:  opts.logger,
		Metrics: opts.metrics,
	})
}

func newReindexCmd(opts *rootOptions) *cobra.Command {
	var req index.ReindexRequest

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Copy the aliased index into a new index",
		Long: `Create a destination index with the source's mappings and copy every
document into it. Readers keep using the source until complete-reindex.

The source defaults to the single index behind the alias and the
destination to <reindex.prefix>-<year>-<month>-<day>.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.Alias == "" {
				req.Alias = opts.cfg.Search.Alias
			}
			return opts.withClient(func(client *store.BleveClient) error {
				res, err := newOrchestrator(opts, client).Reindex(cmd.Context(), req)
				if err != nil {
					return err
				}
				if err := opts.out(cmd).JSON(res); err != nil {
					return err
				}
				status := output.New(cmd.ErrOrStderr())
				status.Successf("copied %d documents from %s into %s", res.Stats.Total, res.Source, res.Dest)
				status.Status("", "readers still use "+res.Source+"; run complete-reindex --source "+res.Source+" --dest "+res.Dest)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Source, "source", "", "Source index (default: the index behind the alias)")
	cmd.Flags().StringVar(&req.Dest, "dest", "", "Destination index (default: dated name)")
	cmd.Flags().StringVar(&req.Alias, "alias", "", "Alias readers use (default: search.alias)")
	return cmd
}

func newCompleteReindexCmd(opts *rootOptions) *cobra.Command {
	var req index.CompleteRequest

	cmd := &cobra.Command{
		Use:   "complete-reindex",
		Short: "Move the alias from the source to the destination index",
		Long: `Swap the alias from --source to --dest in one atomic alias update.
With --delete-source the source index is deleted after the swap.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.Alias == "" {
				req.Alias = opts.cfg.Search.Alias
			}
			return opts.withClient(func(client *store.BleveClient) error {
				res, err := newOrchestrator(opts, client).CompleteReindex(cmd.Context(), req)
				if res != nil {
					if jerr := opts.out(cmd).JSON(res); jerr != nil {
						return jerr
					}
				}
				if err != nil {
					if res != nil {
						output.New(cmd.ErrOrStderr()).Warningf("alias %s moved to %s but %s was not deleted", res.Alias, res.Index, req.Source)
					}
					return err
				}
				output.New(cmd.ErrOrStderr()).Successf("alias %s now points at %s", res.Alias, res.Index)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Source, "source", "", "Index the alias points at now")
	cmd.Flags().StringVar(&req.Dest, "dest", "", "Index the alias should point at")
	cmd.Flags().StringVar(&req.Alias, "alias", "", "Alias to move (default: search.alias)")
	cmd.Flags().BoolVar(&req.DeleteSource, "delete-source", false, "Delete the source index after the swap")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("dest")
	return cmd
}

func newReindexStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex-status",
		Short: "List reindex copies still running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *store.BleveClient) error {
				tasks, err := newOrchestrator(opts, client).GetStatus(cmd.Context())
				if err != nil {
					return err
				}
				return opts.out(cmd).JSON(tasks)
			})
		},
	}
}

type checkOutput struct {
	*index.CheckResult
	Repaired *int `json:"repaired,omitempty"`
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report records that are both live and deleted, or stored under the wrong id",
		Long: `Scroll through every kind behind search.alias and report granules that
also have a deletedgranule tombstone, and documents whose key fields derive
a different id than the one they are stored under.

With --repair the older side of each live and deleted pair is removed.
Id mismatches are only reported; re-apply those records from their table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *store.BleveClient) error {
				checker := index.NewConsistencyChecker(client, opts.queueConfig())
				res, err := checker.Check(cmd.Context())
				if err != nil {
					return err
				}
				out := checkOutput{CheckResult: res}
				if repair {
					n, err := checker.Repair(cmd.Context(), res.Inconsistencies)
					out.Repaired = &n
					if err != nil {
						_ = opts.out(cmd).JSON(out)
						return err
					}
				}
				if err := opts.out(cmd).JSON(out); err != nil {
					return err
				}
				status := output.New(cmd.ErrOrStderr())
				if len(res.Inconsistencies) == 0 {
					status.Successf("checked %d documents, no inconsistencies", res.Checked)
				} else if !repair {
					status.Warningf("found %d inconsistencies; run check --repair to fix live and deleted pairs", len(res.Inconsistencies))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Remove the older side of each live and deleted pair")
	return cmd
}
