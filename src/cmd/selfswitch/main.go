package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	flagConfig  string
	flagEnvFile string
	flagServer  string
	flagVerbose bool
)

// rootCmd is the base command for selfswitch.
var rootCmd = &cobra.Command{
	Use:   "selfswitch",
	Short: "Self-updating release switcher",
	Long: `selfswitch discovers releases of an application on GitHub, caches their
artifacts locally and switches the running process to another version.

Run "selfswitch serve" inside the application host; the remaining commands
talk to a running instance over gRPC.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "optional .env file loaded before the configuration")
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "localhost:50051", "gRPC address of a running instance")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	for _, cmd := range newRemoteCmds() {
		rootCmd.AddCommand(cmd)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
