// Package cmd provides the CLI commands for recordsync.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recordsync/internal/config"
	"github.com/Aman-CERP/recordsync/internal/errors"
	"github.com/Aman-CERP/recordsync/internal/logging"
	"github.com/Aman-CERP/recordsync/internal/output"
	"github.com/Aman-CERP/recordsync/internal/profiling"
	"github.com/Aman-CERP/recordsync/internal/store"
	"github.com/Aman-CERP/recordsync/internal/telemetry"
	"github.com/Aman-CERP/recordsync/pkg/version"
)

// rootOptions carries the persistent flags and what PersistentPreRunE
// derives from them.
type rootOptions struct {
	configPath  string
	debug       bool
	showMetrics bool
	profile     profiling.Config

	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	cleanup  func()
	profiler *profiling.Session
}

// NewRootCmd creates the root command for the recordsync CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "recordsync",
		Short: "Keep a search index in sync with table change streams",
		Long: `recordsync maintains a search index of ingest records (collections,
granules, executions, PDRs, providers, rules, async operations and
reconciliation reports).

It applies table change events to the index, answers filtered queries and
statistics, migrates mappings, and cuts readers over to reindexed copies
behind a stable alias.

Every command prints JSON on stdout. An in-memory host (the default) lives
for one command only; set search.host to a directory to keep the index.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.teardown(cmd)
		},
	}

	cmd.SetVersionTemplate("recordsync version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: ./"+config.FileName+")")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.recordsync/logs/")
	cmd.PersistentFlags().BoolVar(&opts.showMetrics, "metrics", false, "Print collected metrics to stderr on exit")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newBootstrapCmd(opts))
	cmd.AddCommand(newReindexCmd(opts))
	cmd.AddCommand(newCompleteReindexCmd(opts))
	cmd.AddCommand(newReindexStatusCmd(opts))
	cmd.AddCommand(newCheckCmd(opts))
	cmd.AddCommand(newQueryCmd(opts))
	cmd.AddCommand(newGetCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newApplyEventsCmd(opts))
	cmd.AddCommand(newExportCmd(opts))
	cmd.AddCommand(newBucketFilesCmd(opts))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a failure the way operators read it.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, errors.FormatForCLI(err))
	}
	return err
}

// setup loads configuration, installs the logger and creates the metrics registry.
func (o *rootOptions) setup(_ *cobra.Command, _ []string) error {
	var err error
	if o.configPath != "" {
		o.cfg, err = config.LoadFile(o.configPath)
	} else {
		var dir string
		if dir, err = os.Getwd(); err == nil {
			o.cfg, err = config.Load(dir)
		}
	}
	if err != nil {
		return errors.ConfigError("load configuration", err)
	}

	logCfg := logging.Config{Level: o.cfg.LogLevel}
	if o.debug {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	o.logger, o.cleanup = logger, cleanup
	slog.SetDefault(logger)
	if o.debug {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	o.registry = prometheus.NewRegistry()
	o.metrics = telemetry.NewMetrics(o.registry)

	if o.profile.Enabled() {
		if o.profiler, err = profiling.Start(o.profile); err != nil {
			return err
		}
	}
	return nil
}

func (o *rootOptions) teardown(cmd *cobra.Command) error {
	defer func() {
		if o.cleanup != nil {
			o.cleanup()
		}
	}()
	if err := o.profiler.Stop(); err != nil {
		return err
	}
	if o.showMetrics && o.registry != nil {
		return telemetry.WriteText(cmd.ErrOrStderr(), o.registry)
	}
	return nil
}

// openClient connects to the configured index host. Callers close it.
func (o *rootOptions) openClient() (*store.BleveClient, error) {
	c, err := store.Open(o.cfg.Search.Host, store.WithLogger(o.logger))
	if err != nil {
		return nil, errors.New(errors.ErrCodeIndexOpen, "open index host "+o.cfg.Search.Host, err).
			WithSuggestion("check search.host, or stop the other recordsync process holding the host")
	}
	return c, nil
}

func (o *rootOptions) out(cmd *cobra.Command) *output.Writer {
	return output.New(cmd.OutOrStdout())
}

// withClient opens the index host for the duration of fn.
func (o *rootOptions) withClient(fn func(*store.BleveClient) error) error {
	client, err := o.openClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	return fn(client)
}
