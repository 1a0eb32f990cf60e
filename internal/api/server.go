package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/dgallion1/docview/internal/appctx"
	"github.com/dgallion1/docview/internal/chat"
	"github.com/dgallion1/docview/internal/config"
	"github.com/dgallion1/docview/internal/preview"
	"github.com/dgallion1/docview/internal/review"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the local HTTP facade a browser shell talks to.
type Server struct {
	router   chi.Router
	viewer   *preview.Viewer
	reviewer *review.Reviewer
	chatAPI  chat.API
	app      *appctx.Context
	log      *slog.Logger
	cfg      config.Config

	// Review streams outlive the request that started them.
	baseCtx context.Context

	chatMu sync.Mutex
	chats  map[string]*chatEntry
}

// NewServer wires the handlers. ctx bounds background work such as review
// streams.
func NewServer(ctx context.Context, viewer *preview.Viewer, reviewer *review.Reviewer, chatAPI chat.API, app *appctx.Context, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		viewer:   viewer,
		reviewer: reviewer,
		chatAPI:  chatAPI,
		app:      app,
		log:      log,
		cfg:      cfg,
		baseCtx:  ctx,
		chats:    make(map[string]*chatEntry),
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.DocviewAPIKey, s.log))

		r.Get("/api/status", s.handleStatus)

		r.Route("/api/preview", func(r chi.Router) {
			r.Get("/", s.handlePreviewStatus)
			r.Post("/upload", s.handlePreviewUpload)
			r.Post("/documents/{docID}", s.handlePreviewRemote)
			r.Post("/scroll", s.handlePreviewScroll)
			r.Get("/pages", s.handlePreviewPages)
			r.Get("/html", s.handlePreviewHTML)
			r.Delete("/", s.handlePreviewClose)
		})

		r.Route("/api/review", func(r chi.Router) {
			r.Get("/", s.handleReviewSession)
			r.Post("/upload", s.handleReviewUpload)
			r.Post("/start", s.handleReviewStart)
			r.Get("/content", s.handleReviewContent)
			r.Post("/accept", s.handleReviewAccept)
			r.Get("/download", s.handleReviewDownload)
			r.Delete("/", s.handleReviewReset)
		})

		r.Route("/api/chat/{space}", func(r chi.Router) {
			r.Get("/messages", s.handleChatMessages)
			r.Post("/messages", s.handleChatSend)
			r.Post("/cancel", s.handleChatCancel)
			r.Delete("/messages", s.handleChatClear)
		})

		r.Get("/api/stats/render", s.handleRenderStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": s.app.Session.UserID(),
		"loading": s.app.Loading.Active(),
	})
}
