// Package app assembles the assistant's components: tracing, database,
// Genkit, model client, tools, and the orchestration loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lilybot/lily/db"
	"github.com/lilybot/lily/internal/agent"
	"github.com/lilybot/lily/internal/catalog"
	"github.com/lilybot/lily/internal/config"
	"github.com/lilybot/lily/internal/genai"
	"github.com/lilybot/lily/internal/ingest"
	"github.com/lilybot/lily/internal/knowledge"
	"github.com/lilybot/lily/internal/log"
	"github.com/lilybot/lily/internal/observability"
	"github.com/lilybot/lily/internal/session"
	"github.com/lilybot/lily/internal/tools"
)

// guideHosts are the sites fetch_guide may read from.
var guideHosts = []string{"www.partselect.com", "partselect.com"}

// App holds every initialized component. Construct with Setup, release
// with Close.
type App struct {
	Config *config.Config
	Logger log.Logger

	DBPool   *pgxpool.Pool
	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	Knowledge *knowledge.Store
	Catalog   *catalog.Store
	Model     *genai.Client

	Tools      []agent.Tool
	Dispatcher *agent.Dispatcher
	Controller *agent.Controller
	Sessions   *session.Registry
	Importer   *ingest.Importer

	otelCleanup func()
	dbCleanup   func()
}

// Setup creates and initializes the application. On failure, everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	// Tracing registers with Genkit's tracer provider, so it must be
	// wired before genkit.Init.
	a.otelCleanup = observability.SetupTracing(ctx, cfg.Tracing, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	a.Knowledge = knowledge.NewStore(pool, embedder, logger)
	a.Catalog = catalog.NewStore(pool, logger)

	model, err := genai.New(genai.Config{
		Genkit:    g,
		ModelName: cfg.ModelName,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	a.Model = model

	a.Tools = provideTools(a.Knowledge, a.Catalog, model, cfg, logger)
	a.Dispatcher = agent.NewDispatcher(a.Tools,
		time.Duration(cfg.ToolTimeoutSecs)*time.Second, logger)

	a.Controller = agent.NewController(model, a.Dispatcher, model, model, logger,
		agent.WithMaxRetries(cfg.MaxRetries),
		agent.WithDefaultTools("search_repairs", "search_blogs"),
	)

	a.Sessions = session.NewRegistry()
	a.Importer = ingest.NewImporter(pool, a.Knowledge, os.TempDir(), logger)

	logger.Info("application initialized",
		"model", cfg.ModelName,
		"embedder", cfg.EmbedderModel,
		"tools", len(a.Tools))
	return a, nil
}

// Close releases resources in reverse initialization order. Safe to call
// on a partially initialized App.
func (a *App) Close() error {
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

// provideDBPool migrates the schema and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideTools builds the retrieval tool set. The relevance grader is the
// model client itself when grading is enabled.
func provideTools(kb *knowledge.Store, cat *catalog.Store, model *genai.Client, cfg *config.Config, logger log.Logger) []agent.Tool {
	searchCfg := tools.SearchConfig{
		TopK:   cfg.RetrievalTopK,
		Cutoff: cfg.RelevanceCutoff,
	}
	if cfg.GradingEnabled {
		searchCfg.Grader = model
	}

	return []agent.Tool{
		tools.NewRepairSearch(kb, searchCfg, logger),
		tools.NewBlogSearch(kb, searchCfg, logger),
		tools.NewPartsLookup(cat, 5, logger),
		tools.NewSymptomsLookup(cat, 8, logger),
		tools.NewGuideFetch(nil, guideHosts, logger),
	}
}
