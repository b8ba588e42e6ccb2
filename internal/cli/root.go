// Package cli wires the components together behind the multisavex command.
package cli

import (
	"os"

	"github.com/go-kit/log"
	"github.com/spf13/cobra"

	"github.com/bbr/multisavex/internal/logger"
)

// Version is injected via ldflags.
var Version = "dev"

var envName string

var rootCmd = &cobra.Command{
	Use:           "multisavex",
	Short:         "Telegram bot that downloads Instagram and TikTok media",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envName, "env", "local", "environment to run in, loads .env.<env> (local, prod)")
	rootCmd.AddCommand(serveCmd, cleanupCmd, statsCmd)
}

// Execute runs the root command and exits non-zero when it fails.
func Execute() {
	logger.CheckFatal(log.NewLogfmtLogger(os.Stderr), "running multisavex", rootCmd.Execute())
}
