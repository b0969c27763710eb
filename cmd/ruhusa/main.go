// Ruhusa is an HR assistant that answers PTO and expense questions and files
// requests through a deterministic policy engine.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ruhusa",
	Short: "Ruhusa, an HR assistant for time off and expenses.",
	Long: `Ruhusa lets employees check PTO balances, request time off and file
expenses in plain language. Every request is evaluated by a deterministic
policy engine, recorded in an append-only audit trail and either
auto-approved or escalated to the employee's manager.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default $RUHUSA_CONFIG or ~/.ruhusa/config.yaml)")
	rootCmd.AddCommand(serveCmd, chatCmd, queryCmd, mcpCmd, seedCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
