package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "deepdistill-cli",
	Short: "A CLI client for the DeepDistill service",
	Long:  `A command-line interface for submitting files and URLs to DeepDistill, following task progress and triggering exports.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Whoops. There was an error while executing your CLI: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	def := os.Getenv("DEEPDISTILL_URL")
	if def == "" {
		def = "http://localhost:8006"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", def, "DeepDistill server address")
}
