package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgeimage/imagectl/pkg/db"
	"github.com/edgeimage/imagectl/pkg/errors"
	"github.com/edgeimage/imagectl/pkg/storage"
	"github.com/edgeimage/imagectl/pkg/update"
	"github.com/edgeimage/imagectl/pkg/workflow"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
)

var (
	publishGenerateBmap      bool
	publishTargetCompression string
	publishProvider          string
	publishName              string
	publishVersion           string
	publishManufacturer      string
	publishModel             string
)

var publishCmd = &cobra.Command{
	Use:   "publish <image>",
	Short: "Repack an image and upload it with its bmap to S3",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().BoolVarP(&publishGenerateBmap, "generate-bmap", "b", true, "Generate and upload a bmap file")
	publishCmd.Flags().StringVarP(&publishTargetCompression, "target-compression", "c", "xz", "Compress the published image (gzip, xz, zstd)")
	publishCmd.Flags().StringVar(&publishProvider, "provider", "", "Update provider for the import manifest")
	publishCmd.Flags().StringVar(&publishName, "name", "", "Update name for the import manifest")
	publishCmd.Flags().StringVar(&publishVersion, "version", "", "Update version; set to generate and upload an import manifest")
	publishCmd.Flags().StringVar(&publishManufacturer, "manufacturer", "", "Compatible device manufacturer for the import manifest")
	publishCmd.Flags().StringVar(&publishModel, "model", "", "Compatible device model for the import manifest")
}

// manifestParams validates the import manifest flags: all of provider,
// name, and version are required as soon as one of them is set
func manifestParams() (*update.Params, error) {
	if publishProvider == "" && publishName == "" && publishVersion == "" {
		return nil, nil
	}
	if publishProvider == "" || publishName == "" || publishVersion == "" {
		return nil, errors.Tagf(errors.ErrPrecondition,
			"--provider, --name, and --version must all be set to publish an import manifest")
	}
	return &update.Params{
		Provider:     publishProvider,
		Name:         publishName,
		Version:      publishVersion,
		Manufacturer: publishManufacturer,
		Model:        publishModel,
	}, nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	imageFile := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.S3Bucket == "" {
		return errors.Tagf(errors.ErrPrecondition, "s3-bucket must be set to publish")
	}

	// Ensure all necessary directories exist
	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.WorkRoot); err != nil {
		return err
	}

	opts, err := pipelineOptions(cfg, publishGenerateBmap, publishTargetCompression)
	if err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "ledger init failed")
	}
	defer repo.Close()

	s3Client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := workflow.NewMachine(repo, s3Client, opts, nil, cfg.FSMMaxRetries)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	manifest, err := manifestParams()
	if err != nil {
		return err
	}

	req := &workflow.PublishRequest{
		ImagePath: imageFile,
		S3Prefix:  cfg.S3Prefix,
		Manifest:  manifest,
	}
	resp := &workflow.PublishResponse{}

	version, err := start(ctx, imageFile, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}

	slog.Info("fsm started", "version", version)

	if err := manager.Wait(ctx, version); err != nil {
		return errors.Wrap(err, "FSM execution failed")
	}

	fmt.Printf("✅ published: s3://%s/%s\n", cfg.S3Bucket, resp.ImageKey)
	if resp.BmapKey != "" {
		fmt.Printf("   bmap:      s3://%s/%s\n", cfg.S3Bucket, resp.BmapKey)
	}
	if resp.ManifestKey != "" {
		fmt.Printf("   manifest:  s3://%s/%s\n", cfg.S3Bucket, resp.ManifestKey)
	}

	return nil
}
