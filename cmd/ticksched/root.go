package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	yaml "github.com/goccy/go-yaml"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vrtos/internal/app"
	"vrtos/internal/config"
	"vrtos/internal/console"
	"vrtos/internal/logx"
	"vrtos/internal/sched"
	"vrtos/internal/tracestore"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ticksched",
		Short:         "Tick-driven preemptive priority scheduler demo",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "config.yml", "path to config yaml (missing file = defaults)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (trace, debug, info, warn, error); overrides config")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format (console, json); overrides config")

	root.AddCommand(newRunCmd(), newConfigCmd(), newEventsCmd())
	return root
}

func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	// stdout belongs to the tasks' messages.
	return cfg, logx.New(cfg.Log.Level, cfg.Log.Format, os.Stderr), nil
}

func newRunCmd() *cobra.Command {
	var (
		ticks   int64
		virtual bool
		csvPath string
		dbPath  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create the configured tasks and start the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("virtual") {
				cfg.Kernel.VirtualTime = virtual
			}
			if csvPath != "" {
				cfg.Trace.CSV = csvPath
			}
			if dbPath != "" {
				cfg.Trace.DB = dbPath
			}
			if cfg.Kernel.VirtualTime && ticks <= 0 {
				return fmt.Errorf("virtual time needs --ticks, it would never stop")
			}

			deps := app.Deps{
				Out:       console.New(os.Stdout),
				Log:       log,
				TickLimit: sched.Tick(ticks),
			}
			if cfg.Trace.CSV != "" {
				f, err := os.Create(cfg.Trace.CSV)
				if err != nil {
					return fmt.Errorf("opening trace file: %w", err)
				}
				defer f.Close()
				tr := sched.NewCSVTracer(f)
				tr.IncludeTicks = cfg.Trace.Ticks
				deps.Tracers = append(deps.Tracers, tr)
			}
			if cfg.Trace.DB != "" {
				store, err := tracestore.Open(cfg.Trace.DB, tracestore.Options{TickMS: cfg.Kernel.TickMS, Log: log})
				if err != nil {
					return fmt.Errorf("opening trace db: %w", err)
				}
				defer func() {
					if err := store.Close(); err != nil {
						log.Warn().Err(err).Msg("closing trace db")
					}
					if n := store.Dropped(); n > 0 {
						log.Warn().Uint64("dropped", n).Msg("trace db could not keep up")
					}
				}()
				log.Info().Str("run_id", store.RunID()).Str("db", cfg.Trace.DB).Msg("recording events")
				deps.Tracers = append(deps.Tracers, store)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := app.Run(ctx, cfg, deps); err != nil {
				log.Error().Err(err).Msg("run failed")
				return err
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&ticks, "ticks", 0, "halt after this many ticks (0 = until interrupted)")
	cmd.Flags().BoolVar(&virtual, "virtual", false, "use virtual time (runs as fast as possible, needs --ticks)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "write scheduler events to this CSV file")
	cmd.Flags().StringVar(&dbPath, "trace-db", "", "record scheduler events in this SQLite database")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newEventsCmd() *cobra.Command {
	var (
		dbPath string
		runID  string
		kind   string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded runs, or the events of one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			if runID == "" {
				runs, err := tracestore.Runs(ctx, dbPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%-36s  %-30s  %7s  %8s  %7s\n", "RUN", "STARTED", "TICK_MS", "EVENTS", "DROPPED")
				for _, r := range runs {
					fmt.Fprintf(w, "%-36s  %-30s  %7d  %8d  %7d\n", r.ID, r.StartedAt, r.TickMS, r.Events, r.Dropped)
				}
				return nil
			}

			evs, err := tracestore.Events(ctx, dbPath, runID, kind)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%8s  %-9s  %-20s  %4s  %s\n", "TICK", "EVENT", "TASK", "PRIO", "DETAIL")
			for _, e := range evs {
				task := "-"
				if e.TaskID != 0 {
					task = fmt.Sprintf("%s(%d)", e.Task, e.TaskID)
				}
				fmt.Fprintf(w, "%8d  %-9s  %-20s  %4d  %s\n", e.Tick, e.Kind, task, e.Priority, e.Detail)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "trace.db", "SQLite event database")
	cmd.Flags().StringVar(&runID, "run", "", "run id (empty = list runs)")
	cmd.Flags().StringVar(&kind, "kind", "", "only events of this kind (Dispatch, Delay, Wake, ...)")
	return cmd
}
