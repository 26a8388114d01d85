package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	backend    string
	storePath  string

	cfg *Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ydoc",
	Short: "Inspect, merge and archive replicated document updates",
	Long: `ydoc works on binary update files as produced by Document.Update.
It can merge and diff them, dump the containers they describe, and keep
document history as content-addressed blobs in an archive.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), opts))
		slog.SetDefault(logger)

		c, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if backend != "" {
			c.Archive.Backend = backend
		}
		if storePath != "" {
			c.Archive.Path = storePath
		}
		cfg = c
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Archive backend: memory, file, s3 or badger")
	rootCmd.PersistentFlags().StringVar(&storePath, "path", "", "Archive directory for the file and badger backends")
}
