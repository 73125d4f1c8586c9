package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harunnryd/juru/pkg/pipeline"
	"github.com/harunnryd/juru/pkg/transports/console"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caption server",
	Long: `Starts the caption websocket and control API, the phone transport when
enabled, and optionally a console view of one session. Stops on SIGINT or
SIGTERM after draining live sessions.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var logger *slog.Logger
	banner := cmd.OutOrStdout()
	if cfg.Console.Enabled {
		logger = stderrLogger(cfg)
		banner = cmd.ErrOrStderr()
	}
	app, err := newEngine(cfg, logger, true, true, banner)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Start(ctx); err != nil {
		_ = app.Stop()
		return err
	}

	if cfg.Console.Enabled {
		id := cfg.Console.Session
		if id == "" {
			id = "console"
		}
		sess, err := app.Session(id, pipeline.OriginBrowser)
		if err != nil {
			_ = app.Stop()
			return err
		}
		updates, unsubscribe := sess.Subscribe()
		defer unsubscribe()
		renderer := console.NewRenderer(console.Config{
			Width: cfg.Console.Width,
			Lines: cfg.Console.Lines,
			Clear: true,
		}, console.DefaultTheme())
		go func() {
			_ = renderer.Run(ctx, cmd.OutOrStdout(), updates)
		}()
	}

	<-ctx.Done()
	return app.Stop()
}
