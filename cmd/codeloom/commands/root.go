// Package commands provides the CLI commands for the Codeloom client.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codeloom-ai/codeloom-go/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel  string
	logPretty bool
)

var rootCmd = &cobra.Command{
	Use:   "codeloom",
	Short: "Codeloom - realtime AI code generation client",
	Long: `Codeloom is a client for the Codeloom realtime code generation backend.

Run 'codeloom chat' to start a generation request, or 'codeloom serve-stub'
to run a local stub backend for development.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A .env in the working directory supplies CODELOOM_* overrides.
		_ = godotenv.Load()

		logging.Init(logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Pretty: logPretty,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "Human-readable log output")

	rootCmd.SetVersionTemplate(fmt.Sprintf("codeloom %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveStubCmd)
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
