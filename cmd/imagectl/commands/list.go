package commands

import (
	"context"
	"fmt"

	"github.com/edgeimage/imagectl/pkg/db"
	"github.com/edgeimage/imagectl/pkg/errors"
	"github.com/edgeimage/imagectl/pkg/storage"
	"github.com/spf13/cobra"
)

var listRemote bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List provisioning runs and their status",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listRemote, "remote", false, "List published artifacts in the S3 bucket instead of local runs")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if listRemote {
		return listRemoteArtifacts(cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix)
	}

	// Ensure ledger directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "ledger init failed")
	}
	defer repo.Close()

	runs, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-5s %-35s %-25s %-10s %-35s\n", "ID", "IMAGE", "OPERATION", "STATUS", "OUTPUT")
	fmt.Println("-----------------------------------------------------------------------------------------------------------------")

	for _, run := range runs {
		output := run.OutputPath
		if output == "" {
			output = "-"
		}

		fmt.Printf("%-5d %-35s %-25s %-10s %-35s\n",
			run.ID, run.Image, run.Operation, run.Status, output)
	}

	return nil
}

// listRemoteArtifacts lists the objects published under the configured
// prefix
func listRemoteArtifacts(bucket, region, prefix string) error {
	if bucket == "" {
		return errors.Tagf(errors.ErrPrecondition, "s3-bucket must be set to list remote artifacts")
	}

	ctx := context.Background()
	s3Client, err := storage.NewClient(ctx, bucket, region)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	keys, err := s3Client.ListObjects(ctx, prefix)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(keys) == 0 {
		fmt.Printf("No artifacts under s3://%s/%s\n", bucket, prefix)
		return nil
	}

	for _, key := range keys {
		fmt.Printf("s3://%s/%s\n", bucket, key)
	}
	return nil
}
