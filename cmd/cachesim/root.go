package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sarchlab/cachelab/config"
	"github.com/sarchlab/cachelab/harness"
	"github.com/sarchlab/cachelab/logging"
	"github.com/sarchlab/cachelab/record"
)

// errMismatches is returned when verification finds diverging data.
var errMismatches = errors.New("data mismatches detected")

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "cachesim",
		Short: "Simulate a set-associative write-back cache.",
		Long: `cachesim drives synthetic workloads or access traces through a ` +
			`set-associative, write-back, write-allocate cache with random ` +
			`replacement and reports hit rates and memory traffic.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a TOML, YAML or JSON run configuration")
	flags.StringSliceVar(&opts.envFiles, "env-file", nil, "Environment files to load (default .env)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error, disabled")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: console or json")

	root.AddCommand(
		newRunCmd(opts),
		newTraceCmd(opts),
		newConfigCmd(opts),
	)

	return root
}

// load resolves the run configuration and builds the logger. Flags take
// precedence over the environment, which takes precedence over the file.
func (o *globalOptions) load(cmd *cobra.Command) (*config.RunConfig, zerolog.Logger, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return nil, zerolog.Nop(), err
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}

	logger := logging.NewFromConfigValues(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())

	return cfg, logger, nil
}

// outputOptions are shared by run and trace.
type outputOptions struct {
	format     string
	record     bool
	recordPath string
}

func (o *outputOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.format, "format", "text", "Output format: text, csv or json")
	cmd.Flags().BoolVar(&o.record, "record", false, "Store results in a SQLite database")
	cmd.Flags().StringVar(&o.recordPath, "record-path", "", "SQLite database path (default cachesim_<id>.sqlite3)")
}

func (o *outputOptions) apply(cmd *cobra.Command, cfg *config.RunConfig) {
	if cmd.Flags().Changed("record") {
		cfg.Record.Enabled = o.record
	}
	if o.recordPath != "" {
		cfg.Record.Path = o.recordPath
		cfg.Record.Enabled = true
	}
}

func (o *outputOptions) validate() error {
	switch o.format {
	case "text", "csv", "json":
		return nil
	default:
		return fmt.Errorf("unknown output format %q", o.format)
	}
}

// finish prints, optionally records, and reports mismatches as an error.
func (o *outputOptions) finish(
	h *harness.Harness,
	cfg *config.RunConfig,
	logger zerolog.Logger,
	results []harness.Result,
) error {
	var err error
	switch o.format {
	case "csv":
		err = h.PrintCSV(results)
	case "json":
		err = h.PrintJSON(results)
	default:
		h.PrintResults(results)
	}
	if err != nil {
		return err
	}

	if cfg.Record.Enabled {
		if err := store(cfg.Record.Path, logger, results); err != nil {
			return err
		}
	}

	summary := harness.Summarize(results)
	if summary.TotalMismatches > 0 {
		return fmt.Errorf("%w: %d", errMismatches, summary.TotalMismatches)
	}
	return nil
}

func store(path string, logger zerolog.Logger, results []harness.Result) error {
	rec, err := record.NewSQLiteRecorder(path)
	if err != nil {
		return err
	}

	for _, r := range results {
		if err := rec.Record(r); err != nil {
			_ = rec.Close()
			return err
		}
	}

	if err := rec.Close(); err != nil {
		return err
	}

	logger.Info().Str("path", rec.Path()).Int("results", len(results)).Msg("results recorded")
	return nil
}
