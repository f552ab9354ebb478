// Package main provides the entry point for the application autopilot: the
// HTTP control surface, one-shot runs, and the operator commands around them.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Job portal application autopilot",
	Long: `autopilot signs in to a job portal, walks the search result pages, scores each
listing against a match policy, and applies to the ones that pass, answering
the application chatbot along the way.`,
	SilenceUsage: true,
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
