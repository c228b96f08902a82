// Package cli wires configuration, storage and the milestone engine behind
// the hitobot command line.
//
// Command structure:
//
//	hitobot
//	├── serve                       # chat bot, daily scheduler, metrics
//	├── import [--reset]            # load the schedule workbook
//	├── sweep [--dry-run] [--lead]  # run the notification sweep once
//	├── show <id>
//	├── complete <id>
//	├── replan <id> <date>
//	└── settings get|set
//
// Every command reads the YAML file given by --config and then applies
// HITOBOT_* environment variables and explicit flags on top.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rahul/hitobot/internal/milestone"
	"github.com/rahul/hitobot/internal/observability"
	"github.com/rahul/hitobot/internal/store"
	"github.com/rahul/hitobot/pkg/config"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

type options struct {
	configFile string
	v          *viper.Viper
	// now is the wall clock; tests pin it.
	now func() time.Time
}

func BuildCLI() *cobra.Command {
	return buildCLI(&options{v: config.NewViper(), now: time.Now})
}

func buildCLI(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hitobot",
		Short: "hitobot: procurement milestone tracker and reminder bot",
		Long: `hitobot tracks the milestones of procurement requests:
- completes and replans milestones, cascading later dates
- reports on-time, upcoming and delayed requests
- reminds responsible parties ahead of their deadlines on Telegram and Discord`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file path (YAML)")
	flags.String("db", "", "SQLite database path")
	flags.String("timezone", "", "IANA timezone for \"today\"")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: json, console, auto")
	for key, flag := range map[string]string{
		config.KeyDBPath:    "db",
		config.KeyTimezone:  "timezone",
		config.KeyLogLevel:  "log-level",
		config.KeyLogFormat: "log-format",
	} {
		_ = opts.v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(buildServeCommand(opts))
	rootCmd.AddCommand(buildImportCommand(opts))
	rootCmd.AddCommand(buildSweepCommand(opts))
	rootCmd.AddCommand(buildShowCommand(opts))
	rootCmd.AddCommand(buildCompleteCommand(opts))
	rootCmd.AddCommand(buildReplanCommand(opts))
	rootCmd.AddCommand(buildSettingsCommand(opts))

	return rootCmd
}

// runtime is the shared state every command starts from.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	loc     *time.Location
	catalog *milestone.Catalog
	store   *store.Store
	engine  *milestone.Engine
	metrics *observability.Collector
	now     func() time.Time
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return nil, err
	}
	cfg.Override(opts.v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openRuntime(opts *options) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	cat, err := cfg.BuildCatalog()
	if err != nil {
		return nil, err
	}

	metrics := observability.NewCollector()
	st, err := store.Open(cfg.Storage.Path, cat,
		store.WithLogger(logger),
		store.WithRetryTimeout(cfg.Storage.RetryMaxElapsed),
		store.WithOpObserver(metrics.ObserveStoreOp),
	)
	if err != nil {
		return nil, err
	}

	engine := milestone.NewEngine(cat, st,
		milestone.WithClock(opts.now),
		milestone.WithLocation(loc),
		milestone.WithLogger(logger),
		milestone.WithObserver(metrics),
	)
	return &runtime{
		cfg:     cfg,
		logger:  logger,
		loc:     loc,
		catalog: cat,
		store:   st,
		engine:  engine,
		metrics: metrics,
		now:     opts.now,
	}, nil
}

func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("Closing store failed", zap.Error(err))
	}
	_ = rt.logger.Sync()
}

// withRuntime opens the runtime for a command and closes it afterwards.
func withRuntime(opts *options, fn func(cmd *cobra.Command, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(opts)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd, rt, args)
	}
}
