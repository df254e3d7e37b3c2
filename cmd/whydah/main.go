// Command whydah serves per-service configuration from a Git repository.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "whydah",
	Short: "Serve service configuration from a Git repository",
	Long: `whydah clones a repository holding one config.json per service directory,
keeps the valid configs in memory and serves them over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./whydah.{yaml,json,toml})")
	rootCmd.AddCommand(serveCmd, validateCmd, getCmd, setCmd, refreshCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
