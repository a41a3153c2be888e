package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/edgeimage/imagectl/pkg/errors"
	"github.com/edgeimage/imagectl/pkg/imagefs"
	"github.com/edgeimage/imagectl/pkg/registry"
	"github.com/spf13/cobra"
)

var (
	dockerGenerateBmap      bool
	dockerTargetCompression string
	dockerArch              string
	dockerPartition         string
	dockerDest              string
)

var dockerCmd = &cobra.Command{
	Use:   "docker",
	Short: "Inject container images as device payloads",
}

var dockerInjectCmd = &cobra.Command{
	Use:   "inject <image> <ref>",
	Short: "Pull a container image, flatten it, and inject it into a partition",
	Args:  cobra.ExactArgs(2),
	RunE:  runDockerInject,
}

func init() {
	rootCmd.AddCommand(dockerCmd)
	dockerCmd.AddCommand(dockerInjectCmd)

	dockerInjectCmd.Flags().BoolVarP(&dockerGenerateBmap, "generate-bmap", "b", false, "Generate a bmap file next to the output image")
	dockerInjectCmd.Flags().StringVarP(&dockerTargetCompression, "target-compression", "c", "", "Compress the output image (gzip, xz, zstd)")
	dockerInjectCmd.Flags().StringVar(&dockerArch, "arch", "arm64", "Target CPU architecture of the pulled image")
	dockerInjectCmd.Flags().StringVar(&dockerPartition, "partition", imagefs.FactoryPartition, "Partition receiving the payload")
	dockerInjectCmd.Flags().StringVar(&dockerDest, "dest", "", "In-partition destination, must end in .tar.gz (default /payload/<ref>.tar.gz)")
}

func runDockerInject(cmd *cobra.Command, args []string) error {
	imageFile, ref := args[0], args[1]

	if dockerDest != "" && !strings.HasSuffix(dockerDest, ".tar.gz") {
		return errors.Tagf(errors.ErrPrecondition, "destination %s must end in .tar.gz", dockerDest)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := pipelineOptions(cfg, dockerGenerateBmap, dockerTargetCompression)
	if err != nil {
		return err
	}

	validator := newValidator(cfg)

	archiveDir, err := os.MkdirTemp(cfg.WorkRoot, "payload-")
	if err != nil {
		return errors.Wrap(err, "failed to create payload directory")
	}
	defer os.RemoveAll(archiveDir)

	archive := filepath.Join(archiveDir, archiveName(ref))
	if _, err := registry.PullFlattened(context.Background(), ref, dockerArch, archive, validator); err != nil {
		return err
	}

	targets := imagefs.ContainerPayload(archive, dockerPartition, dockerDest)
	mutate := imagefs.InjectFiles(targets, validator)
	return executeMutation(cfg, "docker-inject", imageFile, opts, mutate)
}

// archiveName flattens a registry reference into a payload file name
func archiveName(ref string) string {
	name := strings.NewReplacer("/", "_", ":", "_", "@", "_").Replace(ref)
	return name + ".tar.gz"
}
