package commands

import (
	"fmt"

	"github.com/edgeimage/imagectl/pkg/imagefs"
	"github.com/edgeimage/imagectl/pkg/update"
	"github.com/spf13/cobra"
)

var (
	updateGenerateBmap      bool
	updateTargetCompression string

	manifestProvider     string
	manifestName         string
	manifestVersion      string
	manifestManufacturer string
	manifestModel        string
	manifestCompatID     string
	manifestHandler      string
	manifestScript       string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Provision the device update agent",
}

var updateSetConfigCmd = &cobra.Command{
	Use:   "set-config <image> <du-config.json>",
	Short: "Install the update agent configuration into the factory partition",
	Args:  cobra.ExactArgs(2),
	RunE:  runUpdateSetConfig,
}

var updateImportManifestCmd = &cobra.Command{
	Use:   "create-import-manifest <image>",
	Short: "Generate an import manifest for a provisioned image artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdateImportManifest,
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.AddCommand(updateSetConfigCmd)
	updateCmd.AddCommand(updateImportManifestCmd)

	updateSetConfigCmd.Flags().BoolVarP(&updateGenerateBmap, "generate-bmap", "b", false, "Generate a bmap file next to the output image")
	updateSetConfigCmd.Flags().StringVarP(&updateTargetCompression, "target-compression", "c", "", "Compress the output image (gzip, xz, zstd)")

	updateImportManifestCmd.Flags().StringVar(&manifestProvider, "provider", "", "Update provider")
	updateImportManifestCmd.Flags().StringVar(&manifestName, "name", "", "Update name")
	updateImportManifestCmd.Flags().StringVar(&manifestVersion, "version", "", "Update version")
	updateImportManifestCmd.Flags().StringVar(&manifestManufacturer, "manufacturer", "", "Compatible device manufacturer")
	updateImportManifestCmd.Flags().StringVar(&manifestModel, "model", "", "Compatible device model")
	updateImportManifestCmd.Flags().StringVar(&manifestCompatID, "compat-id", "", "Compatibility id")
	updateImportManifestCmd.Flags().StringVar(&manifestHandler, "handler", "", "Install handler (default "+update.DefaultHandler+")")
	updateImportManifestCmd.Flags().StringVar(&manifestScript, "script", "", "Install script listed as an extra payload")
	updateImportManifestCmd.MarkFlagRequired("provider")
	updateImportManifestCmd.MarkFlagRequired("name")
	updateImportManifestCmd.MarkFlagRequired("version")
}

func runUpdateSetConfig(cmd *cobra.Command, args []string) error {
	imageFile := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := pipelineOptions(cfg, updateGenerateBmap, updateTargetCompression)
	if err != nil {
		return err
	}

	targets := imagefs.UpdateConfig(args[1])
	mutate := imagefs.InjectFiles(targets, newValidator(cfg))
	return executeMutation(cfg, "update-set-config", imageFile, opts, mutate)
}

func runUpdateImportManifest(cmd *cobra.Command, args []string) error {
	manifestPath, err := update.CreateImportManifest(args[0], update.Params{
		Provider:     manifestProvider,
		Name:         manifestName,
		Version:      manifestVersion,
		Manufacturer: manifestManufacturer,
		Model:        manifestModel,
		CompatID:     manifestCompatID,
		Handler:      manifestHandler,
		ScriptPath:   manifestScript,
	})
	if err != nil {
		return err
	}

	fmt.Printf("✅ import manifest: %s\n", manifestPath)
	return nil
}
