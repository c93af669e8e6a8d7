// Command retrievald runs the hybrid retrieval engine: an HTTP search and
// indexing API, an optional Kafka ingestion consumer, and a Prometheus
// metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/docstore"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/embed"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/engine"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/ingest"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/server"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/config"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/health"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/kafka"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/logger"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/metrics"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/postgres"
	pkgredis "github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting retrieval engine",
		"port", cfg.Server.Port,
		"embedding_provider", cfg.Embedding.Provider,
		"dimensions", cfg.Embedding.Dimensions,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	provider := buildProvider(cfg.Embedding)
	slog.Info("embedding provider ready", "provider", provider.Name())

	var store docstore.Store = docstore.NewMemory()
	var pgClient *postgres.Client
	if cfg.Postgres.Enabled() {
		pgClient, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pgClient.Close()
		store = docstore.NewPostgres(pgClient)
		slog.Info("document store: postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	} else {
		slog.Warn("document store: in-memory, documents will not survive restarts")
	}

	eng := engine.New(*cfg, provider, store, m)
	defer eng.Close()

	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, remote cache tier disabled", "error", err)
		} else {
			defer redisClient.Close()
			eng.AttachRemoteCache(redisClient)
			slog.Info("remote cache tier enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if err := eng.LoadFromStore(ctx); err != nil {
		slog.Error("failed to rebuild index", "error", err)
		os.Exit(1)
	}

	if cfg.Kafka.Enabled() {
		completions := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer completions.Close()
		handler := ingest.HandleMessage(eng, completions)
		consumer := ingest.New(kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest, handler))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("ingest consumer error", "error", err)
			}
		}()
		slog.Info("ingest consumer started",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topics.DocumentIngest,
		)
	}

	checker := health.NewChecker()
	checker.Register("engine", func(ctx context.Context) health.ComponentHealth {
		if err := eng.Healthy(); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		stats := eng.Stats()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents, %d vectors", stats.Documents, stats.Vectors),
		}
	})
	if pgClient != nil {
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			if err := pgClient.DB.PingContext(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}
	if redisClient != nil {
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := redisClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
		slog.Info("metrics server listening", "port", cfg.Metrics.Port)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(server.NewHandler(eng), checker, m, cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("retrieval engine listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("retrieval engine stopped")
}

// buildProvider constructs the configured embedding provider wrapped in an
// LRU cache.
func buildProvider(cfg config.EmbeddingConfig) embed.Provider {
	var inner embed.Provider
	switch cfg.Provider {
	case "http":
		inner = embed.NewRemote(cfg)
	default:
		inner = embed.NewStatic(cfg.Dimensions)
	}
	if cfg.CacheSize > 0 {
		return embed.NewCached(inner, cfg.CacheSize)
	}
	return inner
}
