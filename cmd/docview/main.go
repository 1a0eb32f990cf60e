package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dgallion1/docview/internal/apiclient"
	"github.com/dgallion1/docview/internal/appctx"
	"github.com/dgallion1/docview/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfg config.Config
	log *slog.Logger
	app *appctx.Context
)

var rootCmd = &cobra.Command{
	Use:   "docview",
	Short: "Preview, review and chat with knowledge-base documents",
	Long: `docview renders documents page by page as you scroll, streams review
suggestions for an uploaded file, and streams chat answers from a knowledge space.

Run 'docview serve' to expose the same operations to a browser shell over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		log = newLogger(cmd.Name() == "serve", cfg.LogLevel)
		app = appctx.New(cfg.SessionFile, log)
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newLogger returns a JSON logger for the long-running service and a text
// logger on stderr for interactive commands.
func newLogger(service bool, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if service {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func newClient() *apiclient.Client {
	return apiclient.NewClient(cfg.APIURL, app.Session, cfg.HTTPTimeout)
}
