// Package cmd implements the mudgate command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"grimm.is/mudgate/internal/brand"
	"grimm.is/mudgate/internal/config"
	"grimm.is/mudgate/internal/logging"
	"grimm.is/mudgate/internal/metrics"
	"grimm.is/mudgate/internal/pipeline"
	"grimm.is/mudgate/internal/state"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configFile string
	logLevel   string
}

// NewRootCommand builds the mudgate command tree.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   brand.BinaryName,
		Short: brand.Description,
		Long: brand.Name + ` compiles Manufacturer Usage Description (RFC 8520) files into
iptables rule scripts and enforces them for each configured device.

Commands:
  run       Fetch, verify, compile and enforce devices once
  watch     Keep devices enforced, refreshing on cache-validity
  inspect   Print the policy model of a local MUD file
  down      Remove the rules of a device
  status    Show the last run and loaded rules per device
  check     Validate the configuration file
  version   Print version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", brand.DefaultConfigPath(), "configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	root.AddCommand(
		newRunCommand(g),
		newWatchCommand(g),
		newInspectCommand(g),
		newDownCommand(g),
		newStatusCommand(g),
		newCheckCommand(g),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// env is what most commands need: config, logger and run history.
type env struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *state.SQLiteStore
	runs   *state.RunBucket
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
}

// loadEnv loads the config and configures the default logger.
func loadEnv(g *globalFlags) (*env, error) {
	cfg, err := config.LoadFile(g.configFile)
	if err != nil {
		return nil, err
	}

	levelName := cfg.LogLevel
	if g.logLevel != "" {
		levelName = g.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{Level: level, Output: os.Stderr, JSON: cfg.LogJSON})
	logging.SetDefault(logger)

	return &env{cfg: cfg, logger: logger}, nil
}

// openHistory opens the run history database under the state directory.
func (e *env) openHistory() error {
	if err := os.MkdirAll(e.cfg.StateDir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	store, err := state.NewSQLiteStore(state.DefaultOptions(e.cfg.DatabasePath()))
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	runs, err := state.NewRunBucket(store)
	if err != nil {
		store.Close()
		return err
	}
	e.store, e.runs = store, runs
	return nil
}

func (e *env) newRunner(opts pipeline.Options) (*pipeline.Runner, error) {
	opts.Runs = e.runs
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	opts.Logger = e.logger.WithComponent("pipeline")
	return pipeline.NewRunner(e.cfg, opts)
}
