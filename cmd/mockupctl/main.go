package main

import (
	"fmt"
	"log"
	"os"

	"github.com/dunamismax/mockupflow/internal/enhance"
	"github.com/spf13/cobra"
)

var logger = log.New(os.Stderr, "[mockupctl] ", log.LstdFlags|log.Lmsgprefix)

var rootCmd = &cobra.Command{
	Use:   "mockupctl",
	Short: "Compose, generate and enhance product mockups from local files",
	// Every subcommand may upscale, so libvips is brought up before any of
	// them run.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := enhance.Startup(); err != nil {
			return fmt.Errorf("image runtime: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		enhance.Shutdown()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
