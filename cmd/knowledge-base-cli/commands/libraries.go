package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-cli/ui"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
)

var librariesCmd = &cobra.Command{
	Use:   "libraries",
	Short: "List libraries visible to the CLI user",
	RunE:  runLibraries,
}

func init() {
	rootCmd.AddCommand(librariesCmd)
}

func runLibraries(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

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

	libraries, err := repos.Libraries.ListForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list libraries: %w", err)
	}

	if len(libraries) == 0 {
		ui.Info("No libraries. Create one with: knowledge-base index --create-library <name> <file>")
		return nil
	}

	bold := color.New(color.Bold)
	for _, library := range libraries {
		files, err := repos.LibraryFiles.ListByLibrary(ctx, library.ID)
		if err != nil {
			return fmt.Errorf("list files: %w", err)
		}

		visibility := "private"
		if library.IsPublic {
			visibility = "public"
		}
		bold.Printf("%s  %s\n", library.ID, library.Name)
		fmt.Printf("    %s, %d files, created %s\n", visibility, len(files), library.CreatedAt.Format("2006-01-02"))
	}
	return nil
}
