package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-cli/ui"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/search"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/vectorstore"
)

var (
	searchLibraryID string
	searchTopK      int
	searchShowText  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search a library and print ranked sections",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchLibraryID, "library", "", "Library ID (required)")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "Maximum chunk matches to retrieve (0 = server default)")
	searchCmd.Flags().BoolVar(&searchShowText, "text", false, "Print the assembled context text")
	searchCmd.MarkFlagRequired("library")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := cliLogger()

	libraryID, err := uuid.Parse(searchLibraryID)
	if err != nil {
		return fmt.Errorf("invalid library ID %q", searchLibraryID)
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	repos := storage.NewRepositories(db)

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}

	// The CLI runs out of process, so the vector index is rebuilt from
	// persisted embeddings before querying.
	vectors := vectorstore.New(cfg.Embedding.Dimension)
	spin := ui.NewSpinner("Loading vector index...")
	spin.Start()
	loaded, err := vectors.Rehydrate(ctx, libraryID, repos.Chunks)
	spin.Stop()
	if err != nil {
		return fmt.Errorf("load vector index: %w", err)
	}
	ui.Verbose("loaded %d vectors", loaded)

	searcher := search.New(embedder, vectors, repos, search.Config{
		DefaultTopK: cfg.Search.DefaultTopK,
		MaxTopK:     cfg.Search.MaxTopK,
	}, log)

	query := strings.Join(args, " ")
	result := searcher.Search(ctx, libraryID, query, searchTopK)
	if !result.Success {
		ui.Error("Search failed: %s", result.Error)
		if result.Retryable {
			ui.Warning("The failure is transient; try again.")
		}
		return fmt.Errorf("search failed")
	}

	if len(result.Entries) == 0 {
		ui.Info("No matching sections.")
		return nil
	}

	ui.Section(fmt.Sprintf("Results for %q", query))
	bold := color.New(color.Bold)
	for i, entry := range result.Entries {
		bold.Printf("%d. section %d of file %s\n", i+1, entry.Section.SectionIndex, entry.Section.FileID)
		fmt.Printf("   relevance %d  (max_sim %.3f, mean_top_k %.3f, coverage %.3f)\n",
			entry.Metrics.RelevanceScore, entry.Metrics.MaxSim, entry.Metrics.MeanTopK, entry.Metrics.Coverage)
	}

	if searchShowText {
		fmt.Println()
		fmt.Println(result.Context)
	}
	return nil
}
