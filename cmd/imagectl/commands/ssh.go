package commands

import (
	"github.com/edgeimage/imagectl/pkg/imagefs"
	"github.com/spf13/cobra"
)

var (
	sshGenerateBmap      bool
	sshTargetCompression string
)

var sshCmd = &cobra.Command{
	Use:   "ssh",
	Short: "Provision SSH trust anchors",
}

var sshSetCertificateCmd = &cobra.Command{
	Use:   "set-certificate <image> <root-ca.pub>",
	Short: "Install the root CA that validates SSH tunnel certificates",
	Args:  cobra.ExactArgs(2),
	RunE:  runSSHSetCertificate,
}

func init() {
	rootCmd.AddCommand(sshCmd)
	sshCmd.AddCommand(sshSetCertificateCmd)

	sshSetCertificateCmd.Flags().BoolVarP(&sshGenerateBmap, "generate-bmap", "b", false, "Generate a bmap file next to the output image")
	sshSetCertificateCmd.Flags().StringVarP(&sshTargetCompression, "target-compression", "c", "", "Compress the output image (gzip, xz, zstd)")
}

func runSSHSetCertificate(cmd *cobra.Command, args []string) error {
	imageFile := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := pipelineOptions(cfg, sshGenerateBmap, sshTargetCompression)
	if err != nil {
		return err
	}

	targets := imagefs.SSHRootCA(args[1])
	mutate := imagefs.InjectFiles(targets, newValidator(cfg))
	return executeMutation(cfg, "ssh-set-certificate", imageFile, opts, mutate)
}
