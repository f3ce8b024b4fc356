// Package main is the operator CLI for the strategy lab: offline archetype
// and recycle evaluation, plus one-shot cycles, scans and loop listings
// against the configured stores.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"strategy-lab/internal/app"
	"strategy-lab/internal/archetype"
	"strategy-lab/internal/config"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/failure"
	"strategy-lab/internal/orchestrator"
	"strategy-lab/internal/recycle"
	"strategy-lab/internal/scheduler"
)

var (
	postgresDSN   string
	clickhouseDSN string
	useMemory     bool
	settingsPath  string
	generators    []string
	logLevel      string

	resolveArchetype string
	resolveRules     string
	resolveTimeframe string

	recycleArchetype string
	recycleTimeframe string
	recycleMetrics   string
	recycleSharpes   []float64
	recycleRework    int
	recycleRegime    string

	cycleRegime string
)

func main() {
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "labctl",
		Short:         "Strategy lab operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&postgresDSN, "postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	pf.StringVar(&clickhouseDSN, "clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	pf.BoolVar(&useMemory, "use-memory", false, "Use in-memory storage")
	pf.StringVar(&settingsPath, "settings", os.Getenv("LAB_SETTINGS"), "Operator settings YAML file")
	pf.StringSliceVar(&generators, "generator", nil, "Research provider endpoints in priority order")
	pf.StringVar(&logLevel, "log-level", "warn", "Log level")

	root.AddCommand(resolveCmd(), recycleCmd(), cycleCmd(), scanCmd(), loopsCmd())
	return root
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <strategy name>",
		Short: "Resolve the archetype and evaluation thresholds of a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := archetype.Resolve(archetype.Input{
				Explicit:     resolveArchetype,
				RulesJSON:    []byte(resolveRules),
				StrategyName: args[0],
				Timeframe:    resolveTimeframe,
			})
			if err != nil {
				return fmt.Errorf("%q: %w", args[0], err)
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&resolveArchetype, "archetype", "", "Explicit archetype")
	cmd.Flags().StringVar(&resolveRules, "rules", "", "Rules JSON that may embed an archetype")
	cmd.Flags().StringVar(&resolveTimeframe, "timeframe", "1h", "Strategy timeframe")
	return cmd
}

func recycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recycle",
		Short: "Evaluate a bot snapshot offline and print the recycle verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			var m domain.BotMetrics
			if recycleMetrics != "" {
				if err := json.Unmarshal([]byte(recycleMetrics), &m); err != nil {
					return fmt.Errorf("parse --metrics: %w", err)
				}
			}
			bot := &domain.Bot{
				ID:             "offline",
				ArchetypeName:  archetype.Normalize(recycleArchetype),
				Timeframe:      recycleTimeframe,
				ReworkAttempts: recycleRework,
				Metrics:        m,
			}
			report := failure.NewDetector(failure.DefaultThresholds()).Detect(failure.Input{
				Bot:               bot,
				GenerationSharpes: recycleSharpes,
				Regime:            domain.Regime(recycleRegime),
				Now:               time.Now(),
			})
			return printJSON(struct {
				Failure    failure.Report     `json:"failure"`
				Evaluation recycle.Evaluation `json:"evaluation"`
			}{report, recycle.Evaluate(bot, report)})
		},
	}
	f := cmd.Flags()
	f.StringVar(&recycleArchetype, "archetype", "", "Bot archetype")
	f.StringVar(&recycleTimeframe, "timeframe", "1h", "Bot timeframe")
	f.StringVar(&recycleMetrics, "metrics", "", `Metrics JSON, e.g. {"trades":45,"days":30,"sharpe":-0.5}`)
	f.Float64SliceVar(&recycleSharpes, "generation-sharpes", nil, "Generation Sharpe ratios, oldest first")
	f.IntVar(&recycleRework, "rework", 0, "Rework attempts so far")
	f.StringVar(&recycleRegime, "regime", "", "Current market regime")
	return cmd
}

func cycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one forced research cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *orchestrator.Engine) error {
				if cycleRegime != "" {
					e.SetRegime(domain.Regime(cycleRegime))
				}
				report, err := e.RunCycle(ctx, orchestrator.CycleRequest{Trigger: scheduler.TriggerManual, Force: true})
				if report != nil {
					if perr := printJSON(report); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&cycleRegime, "regime", "", "Regime to score under")
	return cmd
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one failure scan over trial bots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *orchestrator.Engine) error {
				report, err := e.ScanFailures(ctx)
				if err != nil {
					return err
				}
				// feedback cycles started by the scan
				e.Wait()
				return printJSON(report)
			})
		},
	}
}

func loopsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "loops",
		Short: "List active feedback loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *orchestrator.Engine) error {
				loops, err := e.Loops().Active(ctx)
				if err != nil {
					return err
				}
				return printJSON(loops)
			})
		},
	}
}

func withEngine(ctx context.Context, fn func(context.Context, *orchestrator.Engine) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := app.NewLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	settings := config.Default()
	if settingsPath != "" {
		if settings, err = config.Load(settingsPath); err != nil {
			return err
		}
	}

	stores, cleanup, err := app.OpenStores(ctx, app.StoreConfig{
		UseMemory:     useMemory,
		PostgresDSN:   postgresDSN,
		ClickhouseDSN: clickhouseDSN,
	}, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	engine := orchestrator.New(orchestrator.Options{
		Candidates:  stores.Candidates,
		Bots:        stores.Bots,
		Generations: stores.Generations,
		Jobs:        stores.Jobs,
		Loops:       stores.Loops,
		Activity:    stores.Activity,
		Generator:   app.NewGenerator(app.GeneratorConfig{Endpoints: generators}, logger),
		Settings:    config.NewStore(settings),
		Logger:      logger,
	})
	logger.Debug("engine ready", zap.Bool("memory", useMemory))
	return fn(ctx, engine)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
