package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/markb/mentionbot/internal/config"
	"github.com/markb/mentionbot/internal/log"
	"github.com/markb/mentionbot/internal/observability"
)

// Version information set via ldflags at build time
var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

// cfg and tel are set up once before any subcommand runs.
var (
	cfg config.Config
	tel *observability.Telemetry
)

var rootCmd = &cobra.Command{
	Use:   "mentionbot",
	Short: "Credential and signing toolkit for a mention-reply bot",
	Long: `mentionbot keeps the OAuth 2.0 token pair for a bot account fresh,
signs OAuth 1.0a requests, answers webhook CRC challenges and serves the
authorization callback.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			loaded.Log.Level = level
		}
		if storeType, _ := cmd.Flags().GetString("store"); storeType != "" {
			loaded.Store.Type, err = parseStoreType(storeType)
			if err != nil {
				return err
			}
		}
		if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
			loaded.Store.SQLitePath = dbPath
		}
		cfg = loaded
		if err := log.Init(&cfg.Log); err != nil {
			return err
		}

		observability.Version = Version
		tel, _, err = observability.Init(cmd.Context(), &cfg.Telemetry)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if tel != nil {
			tel.Cleanup()
		}
		return log.Close()
	},
}

func init() {
	rootCmd.SetVersionTemplate("mentionbot version {{.Version}}\n")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("store", "", "Token store: memory, sqlite, redis or s3")
	rootCmd.PersistentFlags().String("db", "", "Path to the SQLite database (sqlite store)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
