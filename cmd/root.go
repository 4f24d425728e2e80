package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "remittance",
	Short: "Cross-border payment orchestration service",
	Long:  "A remittance service that quotes, collects, converts and pays out cross-border payments, with lifecycle webhooks and recovery jobs.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
