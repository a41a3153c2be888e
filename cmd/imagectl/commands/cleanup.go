package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edgeimage/imagectl/pkg/db"
	"github.com/edgeimage/imagectl/pkg/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	cleanupOrphaned bool
	cleanupFailed   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up leftover workspaces and failed runs",
	Long: `Clean up resources left behind by interrupted runs:
  --orphaned   Remove staging workspaces left in the workspace root
  --failed     Delete failed runs from the ledger`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Remove orphaned staging workspaces")
	cleanupCmd.Flags().BoolVar(&cleanupFailed, "failed", false, "Delete failed runs from the ledger")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !cleanupOrphaned && !cleanupFailed {
		return fmt.Errorf("must specify --orphaned or --failed")
	}

	if cleanupOrphaned {
		if err := cleanupOrphanedWorkspaces(cfg.WorkRoot); err != nil {
			return err
		}
	}

	if cleanupFailed {
		if err := cleanupFailedRuns(cfg.SQLitePath); err != nil {
			return err
		}
	}

	return nil
}

// cleanupOrphanedWorkspaces removes staging directories a crashed run left
// behind. Workspaces are UUID-named directories directly under the
// workspace root; anything else is left alone.
func cleanupOrphanedWorkspaces(workRoot string) error {
	if workRoot == "" {
		workRoot = os.TempDir()
	}

	fmt.Printf("🔍 Scanning %s for orphaned workspaces...\n", workRoot)

	entries, err := os.ReadDir(workRoot)
	if err != nil {
		return errors.Wrap(err, "failed to read workspace root")
	}

	orphanCount := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}

		orphanPath := filepath.Join(workRoot, entry.Name())
		if err := os.RemoveAll(orphanPath); err != nil {
			fmt.Printf("⚠️  Failed to remove workspace %s: %v\n", entry.Name(), err)
		} else {
			fmt.Printf("🗑️  Removed orphaned workspace: %s\n", entry.Name())
			orphanCount++
		}
	}

	fmt.Printf("✅ Removed %d orphaned workspaces\n", orphanCount)
	return nil
}

// cleanupFailedRuns deletes failed runs from the ledger
func cleanupFailedRuns(sqlitePath string) error {
	repo, err := db.NewRepository(sqlitePath)
	if err != nil {
		return errors.Wrap(err, "ledger init failed")
	}
	defer repo.Close()

	runs, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	removed := 0
	for _, run := range runs {
		if run.Status != db.StatusFailed {
			continue
		}
		if err := repo.Delete(run.ID); err != nil {
			fmt.Printf("⚠️  Failed to delete run %d: %v\n", run.ID, err)
			continue
		}
		removed++
	}

	fmt.Printf("✅ Deleted %d failed runs\n", removed)
	return nil
}
