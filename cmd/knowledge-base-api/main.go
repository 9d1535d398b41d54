// Package main provides the knowledge base API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-api/handlers"
	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-api/middleware"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/authz"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/blobfs"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/cache"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/chat"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/config"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/embedding"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/ingest"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/search"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/service"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/tokenizer"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/upload"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/vectorstore"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "knowledge-base",
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Msg("Starting knowledge base API")

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("Server stopped")
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver := storage.DriverSQLite
	if cfg.Database.Driver == "postgres" {
		driver = storage.DriverPostgres
	}
	db, err := storage.Open(ctx, driver, cfg.DatabaseDSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if driver == storage.DriverPostgres {
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.Postgres.ConnMaxLifetime)
	}

	if err := storage.NewMigrator(db, driver).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	fs, err := blobfs.NewLocal(cfg.Storage.BasePath)
	if err != nil {
		return fmt.Errorf("open blob storage: %w", err)
	}

	var cacheClient cache.Client
	if cfg.Cache.Driver == "redis" {
		cacheClient, err = cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	} else {
		cacheClient = cache.NewMemoryClient()
	}
	defer cacheClient.Close()

	embedder, err := embedding.NewClient(embedding.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimension:  cfg.Embedding.Dimension,
		Timeout:    cfg.Embedding.Timeout,
		MaxRetries: cfg.Embedding.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("create embedding client: %w", err)
	}

	chatClient, err := chat.NewClient(chat.Config{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Chat.Model,
		Timeout: cfg.Chat.Timeout,
	})
	if err != nil {
		return fmt.Errorf("create chat client: %w", err)
	}

	repos := storage.NewRepositories(db)
	vectors := vectorstore.New(cfg.Embedding.Dimension)
	auth := authz.New(repos.Libraries, repos.Permissions, logger)

	indexer := ingest.NewIndexer(db, fs, vectors, embedder, tokenizer.NewHeuristic(),
		ingest.IndexerConfig{
			MaxTokensPerChunk: cfg.Indexing.MaxTokensPerChunk,
			Sections: ingest.SectionReaderConfig{
				MaxTokensPerSection:        cfg.Indexing.MaxTokensPerSection,
				MinTokensPerSection:        cfg.Indexing.MinTokensPerSection,
				MinChunksPerSection:        cfg.Indexing.MinChunksPerSection,
				LookaheadBufferSize:        cfg.Indexing.LookaheadBufferSize,
				StdDevMultiplier:           cfg.Indexing.StdDevMultiplier,
				MinimumSimilarityThreshold: cfg.Indexing.MinimumSimilarityThreshold,
				TokenStrictnessThreshold:   cfg.Indexing.TokenStrictnessThreshold,
			},
		}, logger)

	searcher := search.New(embedder, vectors, repos, search.Config{
		DefaultTopK: cfg.Search.DefaultTopK,
		MaxTopK:     cfg.Search.MaxTopK,
	}, logger)

	svc := service.New(repos, auth, fs, vectors, searcher, indexer, logger)

	uploads := upload.NewManager(cacheClient, fs, db, auth, indexer, upload.ManagerConfig{
		MaxFileSize: cfg.Storage.MaxFileSize,
		SessionTTL:  cfg.Upload.SessionTTL,
	}, logger)

	if err := svc.RehydrateVectors(ctx); err != nil {
		return fmt.Errorf("rehydrate vectors: %w", err)
	}

	router := NewRouter(AppConfig{
		RequestTimeout: cfg.Server.WriteTimeout,
		Auth: middleware.AuthConfig{
			Enabled:       cfg.Auth.Enabled,
			SigningSecret: cfg.Auth.SigningSecret,
		},
	}, AppHandlers{
		Libraries: handlers.NewLibraryHandler(logger, svc),
		Files:     handlers.NewFileHandler(logger, svc),
		Uploads:   handlers.NewUploadHandler(logger, uploads),
		Search:    handlers.NewSearchHandler(logger, svc),
		Chat:      handlers.NewChatHandler(logger, svc, chatClient),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		uploads.RunJanitor(ctx, cfg.Upload.JanitorInterval)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
			return srv.Close()
		}
		return nil
	})

	return g.Wait()
}
