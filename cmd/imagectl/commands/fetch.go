package commands

import (
	"context"
	"fmt"
	"path"

	"github.com/edgeimage/imagectl/pkg/errors"
	"github.com/edgeimage/imagectl/pkg/storage"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <s3-key> [local-path]",
	Short: "Download a published artifact from S3",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s3Key := args[0]

	localPath := path.Base(s3Key)
	if len(args) == 2 {
		localPath = args[1]
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.S3Bucket == "" {
		return errors.Tagf(errors.ErrPrecondition, "s3-bucket must be set to fetch")
	}

	s3Client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	result, err := s3Client.Download(ctx, s3Key, localPath)
	if err != nil {
		return errors.Wrap(err, "download failed")
	}

	fmt.Printf("✅ fetched: %s (%d bytes, sha256 %s)\n", result.LocalPath, result.Size, result.SHA256)
	return nil
}
