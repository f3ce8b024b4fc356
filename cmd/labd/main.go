// Package main runs the strategy lab service:
// - Research cycles on the adaptive schedule, plus regime and feedback triggers
// - Failure scans over trial bots, recycling and feedback loops
// - HTTP endpoints for health, metrics, status, settings and loops
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"strategy-lab/internal/app"
	"strategy-lab/internal/config"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/feedback"
	"strategy-lab/internal/observability"
	"strategy-lab/internal/orchestrator"
	"strategy-lab/internal/regimefeed"
	"strategy-lab/internal/scheduler"
)

func main() {
	// Missing .env is fine; real env vars win
	_ = godotenv.Load()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (activity log)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	migrate := flag.Bool("migrate", true, "Apply embedded migrations on start")
	settingsPath := flag.String("settings", os.Getenv("LAB_SETTINGS"), "Operator settings YAML file")
	generators := flag.StringSlice("generator", splitEnv("LAB_GENERATORS"), "Research provider endpoints in priority order")
	generatorKey := flag.String("generator-key", os.Getenv("LAB_GENERATOR_KEY"), "Bearer token for research providers")
	generatorTimeout := flag.Duration("generator-timeout", 2*time.Minute, "Per-request research provider timeout")
	regimeEndpoint := flag.String("regime-ws", os.Getenv("LAB_REGIME_WS"), "Regime feed WebSocket endpoint")
	regimeSymbols := flag.StringSlice("regime-symbols", []string{"BTC-USD"}, "Symbols to subscribe on the regime feed")
	tickInterval := flag.Duration("tick-interval", orchestrator.DefaultTickInterval, "Scheduler tick interval")
	scanInterval := flag.Duration("scan-interval", orchestrator.DefaultScanInterval, "Failure scan interval")
	scanWorkers := flag.Int("scan-workers", orchestrator.DefaultScanWorkers, "Concurrent failure detections")
	httpAddr := flag.String("http-addr", ":9090", "HTTP address for health, metrics and status")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger, err := app.NewLogger(*logLevel)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	defer logger.Sync()

	settings := config.Default()
	if *settingsPath != "" {
		if settings, err = config.Load(*settingsPath); err != nil {
			logger.Fatal("load settings", zap.String("path", *settingsPath), zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := app.OpenStores(ctx, app.StoreConfig{
		UseMemory:     *useMemory,
		PostgresDSN:   *postgresDSN,
		ClickhouseDSN: *clickhouseDSN,
		Migrate:       *migrate,
	}, logger)
	if err != nil {
		logger.Fatal("create stores", zap.Error(err))
	}
	defer cleanup()

	engine := orchestrator.New(orchestrator.Options{
		Candidates:  stores.Candidates,
		Bots:        stores.Bots,
		Generations: stores.Generations,
		Jobs:        stores.Jobs,
		Loops:       stores.Loops,
		Activity:    stores.Activity,
		Generator: app.NewGenerator(app.GeneratorConfig{
			Endpoints: *generators,
			APIKey:    *generatorKey,
			Timeout:   *generatorTimeout,
		}, logger),
		Settings:     config.NewStore(settings),
		TickInterval: *tickInterval,
		ScanInterval: *scanInterval,
		ScanWorkers:  *scanWorkers,
		Logger:       logger,
	})

	srv := &server{engine: engine, settingsPath: *settingsPath, baseCtx: ctx, logger: logger.Named("http")}
	httpServer := &http.Server{Addr: *httpAddr, Handler: srv.routes(), ReadHeaderTimeout: 10 * time.Second}

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown requested", zap.String("signal", sig.String()))
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn("second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go func() {
		logger.Info("http server listening", zap.String("addr", *httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
		}
	}()

	if *regimeEndpoint != "" {
		go runRegimeFeed(ctx, engine, *regimeEndpoint, *regimeSymbols, logger)
	}

	err = engine.RunLoop(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = httpServer.Shutdown(shutdownCtx)
	shutdownCancel()
	close(done)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("engine stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// runRegimeFeed forwards regime changes to the engine until ctx is done.
func runRegimeFeed(ctx context.Context, engine *orchestrator.Engine, endpoint string, symbols []string, logger *zap.Logger) {
	cfg := regimefeed.DefaultConfig()
	client, err := regimefeed.Dial(ctx, endpoint, symbols, &cfg, logger)
	if err != nil {
		logger.Error("regime feed unavailable, scoring without regime", zap.Error(err))
		return
	}
	defer client.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-client.Updates():
			if !ok {
				return
			}
			if engine.OnRegimeChange(ctx, u.Regime) {
				logger.Info("regime change triggered cycle",
					zap.String("from", string(u.Previous)),
					zap.String("to", string(u.Regime)),
				)
			}
		}
	}
}

func splitEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

type server struct {
	engine       *orchestrator.Engine
	settingsPath string
	baseCtx      context.Context // outlives requests; forced cycles run on it
	logger       *zap.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /settings", s.handleGetSettings)
	mux.HandleFunc("PUT /settings", s.handlePutSettings)
	mux.HandleFunc("GET /loops", s.handleLoops)
	mux.HandleFunc("POST /loops/{id}/abandon", s.handleAbandon)
	mux.HandleFunc("POST /cycle", s.handleCycle)
	mux.HandleFunc("POST /regime", s.handleRegime)
	return mux
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Settings().Get())
}

// handlePutSettings replaces the settings; values are clamped, not rejected.
func (s *server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	next := s.engine.Settings().Get()
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	applied := s.engine.Settings().Replace(next)
	if s.settingsPath != "" {
		if err := config.Save(s.settingsPath, applied); err != nil {
			s.logger.Error("persist settings failed", zap.String("path", s.settingsPath), zap.Error(err))
		}
	}
	s.logger.Info("settings updated",
		zap.Int("auto_promote_threshold", applied.AutoPromoteThreshold),
		zap.Bool("require_manual_approval", applied.RequireManualApproval),
	)
	writeJSON(w, http.StatusOK, applied)
}

func (s *server) handleLoops(w http.ResponseWriter, r *http.Request) {
	loops, err := s.engine.Loops().Active(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, loops)
}

func (s *server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	loop, err := s.engine.Loops().Abandon(r.Context(), r.PathValue("id"), body.Note)
	switch {
	case errors.Is(err, feedback.ErrLoopNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, feedback.ErrMissingNote), errors.Is(err, feedback.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, loop)
	}
}

func (s *server) handleCycle(w http.ResponseWriter, _ *http.Request) {
	if !s.engine.Trigger(s.baseCtx, orchestrator.CycleRequest{Trigger: scheduler.TriggerManual, Force: true}) {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "dropped", "reason": "cycle running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// handleRegime accepts a manual regime override when no feed is configured.
func (s *server) handleRegime(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Regime domain.Regime `json:"regime"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !body.Regime.IsKnown() {
		writeError(w, http.StatusBadRequest, errors.New("unknown regime"))
		return
	}
	triggered := s.engine.OnRegimeChange(s.baseCtx, body.Regime)
	writeJSON(w, http.StatusOK, map[string]any{"regime": body.Regime, "cycle_triggered": triggered})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
