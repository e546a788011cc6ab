package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/streamwatch/tender-risk/internal/artifacts"
	"github.com/streamwatch/tender-risk/internal/config"
	"github.com/streamwatch/tender-risk/internal/database"
	apperrors "github.com/streamwatch/tender-risk/internal/errors"
	"github.com/streamwatch/tender-risk/internal/monitoring"
	"github.com/streamwatch/tender-risk/internal/pipeline"
)

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *monitoring.Logger
	metrics *monitoring.Metrics
	tracer  *monitoring.Tracer
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "tenderrisk",
		Short: "Corruption-risk scoring for procurement tenders",
		Long: `tenderrisk scores yearly procurement datasets with red-flag rules and an
isolation forest, trains a classifier on the resulting risk scores, and serves
predictions over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./"+config.DefaultFile+")")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("input-dir", "", "directory holding the yearly input datasets")
	flags.String("output-dir", "", "directory for scores and predictions files")
	flags.String("model-dir", "", "artifact store directory")
	flags.Int("workers", 0, "files scored in parallel")

	for key, flag := range map[string]string{
		"log.level":       "log-level",
		"data.input_dir":  "input-dir",
		"data.output_dir": "output-dir",
		"model.dir":       "model-dir",
		"batch.workers":   "workers",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		a.runCmd(),
		a.scoreCmd(),
		a.trainCmd(),
		a.serveCmd(),
		a.historyCmd(),
	)
	return root
}

// init loads configuration and installs the process-wide logger.
func (a *app) init() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = monitoring.NewLogger(os.Stdout, monitoring.ParseLevel(cfg.Log.Level))
	slog.SetDefault(a.logger.Logger)
	a.metrics = monitoring.NewMetrics()
	a.tracer = monitoring.NewTracer("tenderrisk", a.logger)

	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("Using config file", "path", used)
	}
	return nil
}

// openRegistry opens the run registry. A registry that cannot be opened is
// logged and skipped; the artifact store stays authoritative.
func (a *app) openRegistry() (*database.RegistryService, func()) {
	if a.cfg.Registry.Path == "" {
		return nil, func() {}
	}
	db, err := database.NewDB(a.cfg.Registry.Path)
	if err != nil {
		a.logger.Warn("Run registry unavailable", "path", a.cfg.Registry.Path, "error", err)
		return nil, func() {}
	}
	return database.NewRegistryService(database.NewRepository(db)), func() {
		apperrors.SafeClose(db, "run registry")
	}
}

func (a *app) store() *artifacts.Store {
	return artifacts.NewStore(a.cfg.Model.Dir)
}

func (a *app) pipeline(registry *database.RegistryService) *pipeline.Pipeline {
	return pipeline.New(a.cfg.Pipeline(), a.store(), registry, a.logger, a.metrics)
}

// stage runs fn in a traced span and logs memory use afterwards.
func (a *app) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	err := monitoring.TraceFunction(ctx, a.tracer, name, fn)
	a.logger.MemoryLogger(name, monitoring.ReadMemory())
	return apperrors.WrapError(err, "%s", name)
}
