// Package app wires stores, generators and loggers for the lab binaries.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"strategy-lab/internal/generator"
	"strategy-lab/internal/storage"
	chstore "strategy-lab/internal/storage/clickhouse"
	"strategy-lab/internal/storage/memory"
	"strategy-lab/internal/storage/migrations"
	pgstore "strategy-lab/internal/storage/postgres"
)

// Stores holds every storage implementation the engine needs.
type Stores struct {
	Candidates  storage.CandidateStore
	Bots        storage.BotStore
	Generations storage.GenerationStore
	Jobs        storage.JobStore
	Loops       storage.FeedbackLoopStore
	Activity    storage.ActivityStore
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	UseMemory     bool
	PostgresDSN   string
	ClickhouseDSN string
	Migrate       bool
}

// OpenStores creates the stores. The returned cleanup closes connections.
// Without a ClickHouse DSN the activity log stays in memory.
func OpenStores(ctx context.Context, cfg StoreConfig, logger *zap.Logger) (*Stores, func(), error) {
	if cfg.UseMemory {
		return memoryStores(), func() {}, nil
	}
	if cfg.PostgresDSN == "" {
		return nil, nil, fmt.Errorf("postgres dsn is required without --use-memory")
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if cfg.Migrate {
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("postgres migrations applied", zap.Strings("versions", applied))
		}
	}

	stores := &Stores{
		Candidates:  pgstore.NewCandidateStore(pool),
		Bots:        pgstore.NewBotStore(pool),
		Generations: pgstore.NewGenerationStore(pool),
		Jobs:        pgstore.NewJobStore(pool),
		Loops:       pgstore.NewFeedbackLoopStore(pool),
		Activity:    memory.NewActivityStore(),
	}
	if cfg.ClickhouseDSN == "" {
		logger.Warn("no clickhouse dsn, activity log kept in memory")
		return stores, pool.Close, nil
	}

	var conn *chstore.Conn
	if cfg.Migrate {
		conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
	} else {
		conn, err = chstore.NewConn(ctx, cfg.ClickhouseDSN)
	}
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	stores.Activity = chstore.NewActivityStore(conn)

	cleanup := func() {
		conn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

func memoryStores() *Stores {
	return &Stores{
		Candidates:  memory.NewCandidateStore(),
		Bots:        memory.NewBotStore(),
		Generations: memory.NewGenerationStore(),
		Jobs:        memory.NewJobStore(),
		Loops:       memory.NewFeedbackLoopStore(),
		Activity:    memory.NewActivityStore(),
	}
}

// GeneratorConfig lists research providers in priority order.
type GeneratorConfig struct {
	Endpoints []string
	APIKey    string
	Timeout   time.Duration
	Retries   int
}

// NewGenerator builds a cascade over the HTTP providers. With no endpoints
// the deterministic fixtures are used.
func NewGenerator(cfg GeneratorConfig, logger *zap.Logger) generator.Generator {
	var providers []generator.Generator
	for i, endpoint := range cfg.Endpoints {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" {
			continue
		}
		opts := []generator.HTTPOption{
			generator.WithName(fmt.Sprintf("http-%d", i)),
			generator.WithLogger(logger),
		}
		if cfg.APIKey != "" {
			opts = append(opts, generator.WithAPIKey(cfg.APIKey))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, generator.WithTimeout(cfg.Timeout))
		}
		if cfg.Retries > 0 {
			opts = append(opts, generator.WithMaxRetries(cfg.Retries))
		}
		providers = append(providers, generator.NewHTTPGenerator(endpoint, opts...))
	}
	if len(providers) == 0 {
		logger.Warn("no generator endpoints, using fixtures")
		providers = append(providers, &generator.Stub{Label: "fixtures", Drafts: generator.Fixtures()})
	}
	return generator.NewCascade(logger, providers...)
}

// NewLogger builds a production logger, or a development one at debug level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	if lvl == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
