package commands

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-cli/ui"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/blobfs"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/ingest"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/vectorstore"
)

var (
	indexLibraryID   string
	indexLibraryName string
	indexContentType string
)

var indexCmd = &cobra.Command{
	Use:   "index <file>",
	Short: "Upload and index a document into a library",
	Long: `Copies a local document into blob storage, registers it in the
library catalog, and runs the segmentation, chunking, and embedding
pipeline so the document becomes searchable.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexLibraryID, "library", "", "Library ID (required unless --create-library is given)")
	indexCmd.Flags().StringVar(&indexLibraryName, "create-library", "", "Create a library with this name and index into it")
	indexCmd.Flags().StringVar(&indexContentType, "content-type", "text/markdown", "Content type of the document")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := cliLogger()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	repos := storage.NewRepositories(db)
	user, err := ensureCLIUser(ctx, repos)
	if err != nil {
		return err
	}

	library, err := resolveLibrary(ctx, repos, user.ID)
	if err != nil {
		return err
	}

	fs, err := blobfs.NewLocal(cfg.Storage.BasePath)
	if err != nil {
		return fmt.Errorf("open blob storage: %w", err)
	}

	sourcePath := args[0]
	info, err := os.Stat(sourcePath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", sourcePath, err)
	}
	if info.Size() > cfg.Storage.MaxFileSize {
		return fmt.Errorf("%s exceeds the configured size limit of %d bytes", sourcePath, cfg.Storage.MaxFileSize)
	}

	ui.Section("Document Indexing")
	ui.Info("Library: %s (%s)", library.Name, library.ID)
	ui.Info("Document: %s (%d bytes)", sourcePath, info.Size())

	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", sourcePath, err)
	}
	defer source.Close()

	fileID := uuid.New()
	fileName := filepath.Base(sourcePath)
	blobPath := path.Join("libraries", library.ID.String(), fileID.String(), fileName)

	bar := ui.NewProgressBar(info.Size(), "Copying")
	hasher := sha256.New()
	written, err := fs.Write(ctx, blobPath, io.TeeReader(io.TeeReader(source, hasher), bar))
	bar.Finish()
	if err != nil {
		return fmt.Errorf("copy to blob storage: %w", err)
	}

	now := time.Now()
	file := &storage.LibraryFile{
		ID:               fileID,
		LibraryID:        library.ID,
		OriginalFileName: fileName,
		ContentType:      indexContentType,
		SizeInBytes:      written,
		RelativePath:     blobPath,
		Hash:             hasher.Sum(nil),
		UploadedByUserID: user.ID,
		UploadedAt:       now,
	}
	if err := repos.LibraryFiles.Create(ctx, file); err != nil {
		return fmt.Errorf("register file: %w", err)
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	vectors := vectorstore.New(cfg.Embedding.Dimension)
	indexer := newIndexer(cfg, db, fs, vectors, embedder, log)

	spin := ui.NewSpinner("Indexing (segmenting, embedding, sectioning)...")
	spin.Start()
	outcome, err := indexer.Index(ctx, ingest.FileSource{
		FileID:    fileID,
		LibraryID: library.ID,
		Name:      fileName,
		BlobPath:  blobPath,
	})
	spin.Stop()
	if err != nil {
		ui.Error("Indexing failed: %v", err)
		return err
	}

	sections, err := repos.Sections.ListByFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("list sections: %w", err)
	}

	ui.Success("File %s %s: %d sections, %d vectors", fileID, outcome, len(sections), vectors.Count(library.ID))
	return nil
}

func resolveLibrary(ctx context.Context, repos *storage.Repositories, ownerID uuid.UUID) (*storage.Library, error) {
	if indexLibraryName != "" {
		library := &storage.Library{Name: indexLibraryName, OwnerID: ownerID}
		if err := repos.Libraries.Create(ctx, library); err != nil {
			return nil, fmt.Errorf("create library: %w", err)
		}
		ui.Verbose("created library %s", library.ID)
		return library, nil
	}

	libraryID, err := uuid.Parse(indexLibraryID)
	if err != nil {
		return nil, fmt.Errorf("invalid library ID %q (or pass --create-library)", indexLibraryID)
	}
	library, err := repos.Libraries.GetByID(ctx, libraryID)
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}
	return library, nil
}
