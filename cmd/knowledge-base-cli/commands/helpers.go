package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/blobfs"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/config"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/embedding"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/ingest"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/tokenizer"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/vectorstore"
)

// cliUserEmail identifies the implicit local administrator the CLI acts as.
const cliUserEmail = "cli@localhost"

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func cliLogger() *observability.Logger {
	level := "error"
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		ServiceName: "knowledge-base-cli",
	})
}

func storageDriver(cfg *config.Config) string {
	if cfg.Database.Driver == "postgres" {
		return storage.DriverPostgres
	}
	return storage.DriverSQLite
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := storage.Open(ctx, storageDriver(cfg), cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// ensureCLIUser returns the local administrator user, creating it on first
// use so freshly migrated databases work out of the box.
func ensureCLIUser(ctx context.Context, repos *storage.Repositories) (*storage.User, error) {
	user, err := repos.Users.GetByEmail(ctx, cliUserEmail)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("look up CLI user: %w", err)
	}

	user = &storage.User{Email: cliUserEmail, PasswordHash: "-", IsActive: true}
	if err := repos.Users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create CLI user: %w", err)
	}
	return user, nil
}

func newEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	return embedding.NewClient(embedding.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimension:  cfg.Embedding.Dimension,
		Timeout:    cfg.Embedding.Timeout,
		MaxRetries: cfg.Embedding.MaxRetries,
	})
}

func newIndexer(cfg *config.Config, db *sql.DB, fs blobfs.FS, vectors *vectorstore.Store, embedder embedding.Embedder, log *observability.Logger) *ingest.Indexer {
	return ingest.NewIndexer(db, fs, vectors, embedder, tokenizer.NewHeuristic(),
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
		}, log)
}
