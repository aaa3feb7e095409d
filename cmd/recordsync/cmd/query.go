package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recordsync/internal/errors"
	"github.com/Aman-CERP/recordsync/internal/index"
	"github.com/Aman-CERP/recordsync/internal/record"
	"github.com/Aman-CERP/recordsync/internal/search"
	"github.com/Aman-CERP/recordsync/internal/store"
)

// kindNames lists the type names accepted as the <type> argument.
func kindNames() string {
	names := make([]string, 0, len(record.All()))
	for _, k := range record.All() {
		names = append(names, k.Type)
	}
	return strings.Join(names, ", ")
}

// parseParams turns key=value arguments into query parameters.
func parseParams(args []string) (search.Params, error) {
	params := make(search.Params, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, errors.ValidationError(fmt.Sprintf("parameter %q is not key=value", arg), nil)
		}
		params[key] = value
	}
	return params, nil
}

// tableFor returns the source table feeding typeName, for response meta.
func tableFor(tables map[string]string, typeName string) string {
	var names []string
	for table, t := range tables {
		if t == typeName {
			names = append(names, table)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

// newEngine builds a read engine for the named type against search.alias.
func (o *rootOptions) newEngine(client *store.BleveClient, typeName string) (*search.Engine, error) {
	kind, ok := record.Lookup(typeName)
	if !ok {
		return nil, errors.ValidationError(fmt.Sprintf("unknown type %q", typeName), nil).
			WithSuggestion("use one of: " + kindNames())
	}
	mappings, err := index.DesiredMappings()
	if err != nil {
		return nil, errors.New(errors.ErrCodeMappingFailed, "load desired mappings", err)
	}

	sc := o.cfg.Search
	return search.NewEngine(client, kind, mappings[kind.Type], search.EngineConfig{
		Target:       sc.Alias,
		DefaultLimit: sc.DefaultLimit,
		MaxLimit:     sc.MaxLimit,
		Timeout:      sc.RequestTimeout,
		Name:         sc.MetaName,
		Stack:        sc.Stack,
		Table:        tableFor(o.cfg.TableKinds(), kind.Type),
	}, search.WithLogger(o.logger), search.WithMetrics(o.metrics))
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <type> [key=value ...]",
		Short: "Run a filtered, sorted, paged query",
		Long: `Query records of one type. Parameters follow the REST query conventions:

  limit, page            paging (limit is clamped to search.max_limit)
  sort_by, order         single sort field, order asc or desc (default desc)
  sort_key               comma separated fields, a leading - sorts descending
  prefix, infix          match on the type's search field
  fields                 comma separated projection of returned fields
  <field>                exact match
  <field>__in            any of a comma separated list
  <field>__not           exclude a value
  <field>__exists        true or false
  <field>__from/__to     inclusive range

Example:
  recordsync query granule status=completed collectionId=MOD09GQ___006 limit=5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			return opts.withClient(func(client *store.BleveClient) error {
				engine, err := opts.newEngine(client, args[0])
				if err != nil {
					return err
				}
				res, err := engine.Query(cmd.Context(), params)
				if err != nil {
					return err
				}
				return opts.out(cmd).JSON(res)
			})
		},
	}
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	var parent string

	cmd := &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Get one record by id",
		Long: `Get one record by id. A missing record prints {"detail": "Record not found"}.
For granules, --parent narrows the lookup to one collection.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(client *store.BleveClient) error {
				engine, err := opts.newEngine(client, args[0])
				if err != nil {
					return err
				}
				res, err := engine.Get(cmd.Context(), args[1], parent)
				if err != nil {
					return err
				}
				return opts.out(cmd).JSON(res.Body())
			})
		},
	}

	cmd.Flags().StringVar(&parent, "parent", "", "Parent id (collection id for granules)")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summaries and aggregations over indexed records",
	}
	cmd.AddCommand(newStatsSummaryCmd(opts))
	cmd.AddCommand(newStatsCountCmd(opts))
	cmd.AddCommand(newStatsCollectionsCmd(opts))
	return cmd
}

func newStatsSummaryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary [key=value ...]",
		Short: "Granule totals, failures, average duration and progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args)
			if err != nil {
				return err
			}
			return opts.withClient(func(client *store.BleveClient) error {
				engine, err := opts.newEngine(client, record.Granule.Type)
				if err != nil {
					return err
				}
				res, err := engine.Summary(cmd.Context(), params)
				if err != nil {
					return err
				}
				return opts.out(cmd).JSON(res)
			})
		},
	}
}

func newStatsCountCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count <type> [field=<name>] [key=value ...]",
		Short: "Count records by the values of one field (default status)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			return opts.withClient(func(client *store.BleveClient) error {
				engine, err := opts.newEngine(client, args[0])
				if err != nil {
					return err
				}
				res, err := engine.Count(cmd.Context(), params)
				if err != nil {
					return err
				}
				return opts.out(cmd).JSON(res)
			})
		},
	}
}

func newStatsCollectionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collections [key=value ...]",
		Short: "List the collection ids of the matching granules",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args)
			if err != nil {
				return err
			}
			return opts.withClient(func(client *store.BleveClient) error {
				engine, err := opts.newEngine(client, record.Granule.Type)
				if err != nil {
					return err
				}
				ids, err := engine.AggregateGranuleCollections(cmd.Context(), params)
				if err != nil {
					return err
				}
				return opts.out(cmd).JSON(ids)
			})
		},
	}
}
