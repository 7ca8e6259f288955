// Package main provides the entry point for the jobdigest CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "jobdigest",
	Short: "Job posting digest pipeline",
	Long:  "jobdigest ingests job postings from configured feeds, deduplicates them within and across runs, and delivers net-new postings to downstream channels without redelivering.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
