package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ytingest/config"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ytingest",
	Short: "Ingest a YouTube channel into a document store",
	Long: `ytingest discovers a channel's playlists through the YouTube Data API,
records every playlist and video of the channel in a document store and
downloads transcripts, within per-run read, write and API budgets.

Configuration is read from ytingest.json (or --config), then .env, then
YTINGEST_* environment variables, then --log-level and --store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ytingest.json)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("store", "", "document store: memory, file or mongo")

	// Keep the default logger usable before config is loaded.
	slog.SetDefault(newLogger(os.Stderr, "info", "text"))
}

func initConfig(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	logger.Debug("configuration loaded",
		"channel_id", cfg.ChannelID,
		"store_backend", cfg.StoreBackend,
		"redis", cfg.RedisAddr != "")
	return nil
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
