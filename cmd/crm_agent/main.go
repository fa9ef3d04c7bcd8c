// Package main provides the entry point for the CRM agent backend.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "crm_agent",
	Short: "CRM Agent backend",
	Long:  "CRM Agent registers browser-automation projects and executes them asynchronously through a remote agent service, tracking status and results via REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
