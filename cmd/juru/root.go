package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/harunnryd/juru/pkg/juru"
	"github.com/harunnryd/juru/pkg/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "juru",
	Short: "Live captioning and interpretation",
	Long: `juru turns live speech into a refined transcript and a running
translation. It serves browser and phone sessions, and can transcribe and
translate recorded files offline.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "juru.yaml", "Path to the config file (YAML, TOML or JSON)")
}

func loadConfig() (juru.Config, error) {
	return juru.LoadConfig(configPath)
}

// stderrLogger keeps stdout free for command output.
func stderrLogger(cfg juru.Config) *slog.Logger {
	return logging.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}

// newEngine builds an engine with every built-in provider registered.
func newEngine(cfg juru.Config, logger *slog.Logger, watch, transports bool, banner io.Writer) (*juru.Engine, error) {
	providers := juru.NewProviderRegistry()
	registerProviders(providers)
	opts := juru.EngineOptions{
		Config:       cfg,
		Providers:    providers,
		Logger:       logger,
		NoTransports: !transports,
		BannerOutput: banner,
	}
	if watch {
		opts.ConfigPath = configPath
	}
	return juru.NewEngine(opts)
}
