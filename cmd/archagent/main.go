// Archagent turns natural-language requirements into AWS diagram-as-code designs.
//
// A run loops Generate → Render → Validate until the validator's score reaches the
// acceptance threshold or the cycle budget is spent.
//
// Usage:
//
//	# Start the HTTP API
//	archagent serve
//
//	# Design something from the terminal
//	archagent run --tui "static website on S3 behind CloudFront"
//
//	# Run a Temporal worker
//	archagent worker
//
// Configuration is read from ~/.config/archagent/config.yaml and ARCHAGENT_* environment
// variables. A .env file in the working directory is loaded first.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides the default config file location
	configPath string
	// envFile is loaded into the environment before the config
	envFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "archagent",
	Short: "Design AWS architectures as diagram-as-code",
	Long: `archagent asks a model for an AWS diagram-as-code design, renders it with awsdac,
has a second model review the diagram, and refines the design until it is accepted.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadEnv,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/archagent/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadEnv loads the dotenv file. A missing file is not an error.
func loadEnv(cmd *cobra.Command, args []string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "archagent by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}
