package commands

import (
	"github.com/edgeimage/imagectl/pkg/imagefs"
	"github.com/spf13/cobra"
)

var (
	fileGenerateBmap      bool
	fileTargetCompression string
)

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Copy files into and out of image partitions",
}

var copyToImageCmd = &cobra.Command{
	Use:   "copy-to-image <image> <src:partition:dest>...",
	Short: "Copy host files into image partitions",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runCopyToImage,
}

var copyFromImageCmd = &cobra.Command{
	Use:   "copy-from-image <image> <partition:src:dest>...",
	Short: "Copy files out of image partitions to the host",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runCopyFromImage,
}

func init() {
	rootCmd.AddCommand(fileCmd)
	fileCmd.AddCommand(copyToImageCmd)
	fileCmd.AddCommand(copyFromImageCmd)

	copyToImageCmd.Flags().BoolVarP(&fileGenerateBmap, "generate-bmap", "b", false, "Generate a bmap file next to the output image")
	copyToImageCmd.Flags().StringVarP(&fileTargetCompression, "target-compression", "c", "", "Compress the output image (gzip, xz, zstd)")
}

func runCopyToImage(cmd *cobra.Command, args []string) error {
	imageFile := args[0]

	targets := make([]imagefs.CopyTarget, 0, len(args)-1)
	for _, spec := range args[1:] {
		tgt, err := imagefs.ParseCopyTarget(spec)
		if err != nil {
			return err
		}
		targets = append(targets, tgt)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := pipelineOptions(cfg, fileGenerateBmap, fileTargetCompression)
	if err != nil {
		return err
	}

	mutate := imagefs.InjectFiles(targets, newValidator(cfg))
	return executeMutation(cfg, "file-copy-to", imageFile, opts, mutate)
}

func runCopyFromImage(cmd *cobra.Command, args []string) error {
	imageFile := args[0]

	targets := make([]imagefs.ExtractTarget, 0, len(args)-1)
	for _, spec := range args[1:] {
		tgt, err := imagefs.ParseExtractTarget(spec)
		if err != nil {
			return err
		}
		targets = append(targets, tgt)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := pipelineOptions(cfg, false, "")
	if err != nil {
		return err
	}

	mutate := imagefs.ExtractFiles(targets)
	return executeMutation(cfg, "file-copy-from", imageFile, opts, mutate)
}
