package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "imagectl",
	Short: "Transactional provisioning for embedded device images",
	Long:  `Stages .wic device images into a guarded workspace, applies a single mutation (file injection, identity, certificates, container payloads), and writes the outputs back atomically with optional bmap and recompression.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/runs.db", "SQLite run ledger path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm.db", "FSM BoltDB path")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket for published artifacts")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().String("s3-prefix", "images", "S3 key prefix for published artifacts")
	rootCmd.PersistentFlags().String("work-root", "", "Parent directory for staging workspaces (default system temp)")
	rootCmd.PersistentFlags().Int64("max-payload-size", 2*1024*1024*1024, "Max size of a single injected payload in bytes")
	rootCmd.PersistentFlags().Int64("max-total-size", 20*1024*1024*1024, "Max total injected size per run")
	rootCmd.PersistentFlags().Float64("max-compression-ratio", 100.0, "Max payload expansion ratio")

	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
	viper.BindPFlag("s3-bucket", rootCmd.PersistentFlags().Lookup("s3-bucket"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
	viper.BindPFlag("s3-prefix", rootCmd.PersistentFlags().Lookup("s3-prefix"))
	viper.BindPFlag("work-root", rootCmd.PersistentFlags().Lookup("work-root"))
	viper.BindPFlag("max-payload-size", rootCmd.PersistentFlags().Lookup("max-payload-size"))
	viper.BindPFlag("max-total-size", rootCmd.PersistentFlags().Lookup("max-total-size"))
	viper.BindPFlag("max-compression-ratio", rootCmd.PersistentFlags().Lookup("max-compression-ratio"))
}
