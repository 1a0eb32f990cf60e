package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dgallion1/docview/internal/api"
	"github.com/dgallion1/docview/internal/apiclient"
	"github.com/dgallion1/docview/internal/document"
	"github.com/dgallion1/docview/internal/preview"
	"github.com/dgallion1/docview/internal/render"
	"github.com/dgallion1/docview/internal/review"
	"github.com/dgallion1/docview/internal/source"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local preview service",
	Long: `Serves the preview, review and chat operations over HTTP for a browser
shell. Requests must carry DOCVIEW_API_KEY as X-API-Key or a bearer token.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newViewer(client *apiclient.Client) *preview.Viewer {
	opts := preview.Options{
		PageWidth: cfg.NominalPageWidth,
		Lookahead: cfg.PageLookahead,
		Behind:    cfg.PageBehind,
		Debounce:  cfg.RenderDebounce,
	}
	return preview.NewViewer(source.NewResolver(client, cfg.MaxPreviewBytes), document.PDFDecoder{}, render.NewStats(cfg.StatsWindow), opts, log)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateServe(); err != nil {
		log.Error("invalid configuration", "error", err)
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	client := newClient()
	defer client.Close()
	viewer := newViewer(client)
	defer viewer.Close()
	reviewer := review.NewReviewer(client, log, cfg.MaxPreviewBytes)

	srv := api.NewServer(ctx, viewer, reviewer, client, app, log, cfg)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		log.Info("starting docview", "port", cfg.Port, "api_url", cfg.APIURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down...")
		reviewer.Reset()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		return err
	}
	return nil
}
