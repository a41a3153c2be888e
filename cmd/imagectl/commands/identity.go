package commands

import (
	"github.com/edgeimage/imagectl/pkg/imagefs"
	"github.com/spf13/cobra"
)

var (
	identityGenerateBmap      bool
	identityTargetCompression string
	identityPayloads          []string
	identityFullChain         string
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Provision device identity configuration and certificates",
}

var identitySetConfigCmd = &cobra.Command{
	Use:   "set-config <image> <config.toml>",
	Short: "Install an identity service configuration into the factory partition",
	Args:  cobra.ExactArgs(2),
	RunE:  runIdentitySetConfig,
}

var identitySetCertCmd = &cobra.Command{
	Use:   "set-device-certificate <image> <cert.pem> <key.pem>",
	Short: "Install a device identity certificate and key into the cert partition",
	Args:  cobra.ExactArgs(3),
	RunE:  runIdentitySetCert,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identitySetConfigCmd)
	identityCmd.AddCommand(identitySetCertCmd)

	for _, cmd := range []*cobra.Command{identitySetConfigCmd, identitySetCertCmd} {
		cmd.Flags().BoolVarP(&identityGenerateBmap, "generate-bmap", "b", false, "Generate a bmap file next to the output image")
		cmd.Flags().StringVarP(&identityTargetCompression, "target-compression", "c", "", "Compress the output image (gzip, xz, zstd)")
	}
	identitySetConfigCmd.Flags().StringArrayVarP(&identityPayloads, "payload", "p", nil, "Extra payload file referenced by the config (repeatable)")
	identitySetCertCmd.Flags().StringVar(&identityFullChain, "full-chain", "", "Issuing chain installed as the enrollment trust anchor")
}

func runIdentitySetConfig(cmd *cobra.Command, args []string) error {
	imageFile := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := pipelineOptions(cfg, identityGenerateBmap, identityTargetCompression)
	if err != nil {
		return err
	}

	targets := imagefs.IdentityConfig(args[1], identityPayloads)
	mutate := imagefs.InjectFiles(targets, newValidator(cfg))
	return executeMutation(cfg, "identity-set-config", imageFile, opts, mutate)
}

func runIdentitySetCert(cmd *cobra.Command, args []string) error {
	imageFile := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := pipelineOptions(cfg, identityGenerateBmap, identityTargetCompression)
	if err != nil {
		return err
	}

	targets := imagefs.DeviceCertificate(args[1], args[2], identityFullChain)
	mutate := imagefs.InjectFiles(targets, newValidator(cfg))
	return executeMutation(cfg, "identity-set-device-certificate", imageFile, opts, mutate)
}
