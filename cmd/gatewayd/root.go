package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "Local-first AI assistant gateway",
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
