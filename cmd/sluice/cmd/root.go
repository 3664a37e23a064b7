// Package cmd implements the CLI commands for sluice.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sluicedev/sluice/internal/cache"
	"github.com/sluicedev/sluice/internal/config"
	"github.com/sluicedev/sluice/internal/observability"
	"github.com/sluicedev/sluice/internal/plugin"
	"github.com/sluicedev/sluice/internal/plugins"
	"github.com/sluicedev/sluice/internal/session"
	"github.com/sluicedev/sluice/internal/version"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "sluice",
	Short:   "Live stream and VOD extraction engine",
	Version: version.Short(),
	Long: `sluice resolves media page and playlist URLs to playable streams and
pipes the raw stream bytes to a file or stdout.

It ships handlers for direct HLS playlists (hls://, *.m3u8), plain HTTP
byte streams (httpstream://) and local files (file://), and selects
qualities by conventional names like "720p", "1080p60", "best" and
"worst".`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return initRuntime(cmd)
	}

	// CLI flags override config and environment values only when
	// explicitly set.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, /etc/sluice, $HOME/.sluice)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initRuntime loads configuration and builds the process logger.
func initRuntime(cmd *cobra.Command) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = f.Value.String()
	}
	if f := cmd.Flags().Lookup("log-format"); f != nil && f.Changed {
		cfg.Logging.Format = f.Value.String()
	}

	logger = observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)
	return nil
}

// newSession assembles a session with the built-in handlers and the
// plugin cache.
func newSession() (*session.Session, error) {
	registry := plugin.NewRegistry()
	if err := plugins.LoadBuiltin(registry); err != nil {
		return nil, fmt.Errorf("loading builtin plugins: %w", err)
	}

	store, err := cache.New(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("opening plugin cache: %w", err)
	}

	return session.New(cfg, logger,
		session.WithRegistry(registry),
		session.WithCache(store),
	)
}
