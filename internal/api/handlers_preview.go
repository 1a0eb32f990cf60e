package api

import (
	"errors"
	"net/http"

	"github.com/dgallion1/docview/internal/apiclient"
	"github.com/dgallion1/docview/internal/document"
	"github.com/dgallion1/docview/internal/render"
	"github.com/dgallion1/docview/internal/source"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handlePreviewStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.viewer.Status())
}

func (s *Server) handlePreviewUpload(w http.ResponseWriter, r *http.Request) {
	up, code, err := readUpload(w, r, s.cfg.MaxPreviewBytes)
	if err != nil {
		jsonError(w, err.Error(), code)
		return
	}
	s.loadPreview(w, r, source.Blob(up.name, up.data))
}

func (s *Server) handlePreviewRemote(w http.ResponseWriter, r *http.Request) {
	s.loadPreview(w, r, source.Remote(chi.URLParam(r, "docID")))
}

func (s *Server) loadPreview(w http.ResponseWriter, r *http.Request, src source.RenderSource) {
	done := s.app.Loading.Begin()
	defer done()

	st, err := s.viewer.Load(r.Context(), src)
	if err != nil {
		code := loadErrorStatus(err)
		writeJSON(w, code, map[string]any{"error": err.Error(), "preview": st})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func loadErrorStatus(err error) int {
	var (
		se *source.SourceError
		fe *apiclient.FetchError
		de *document.DecodeError
	)
	switch {
	case errors.As(err, &se):
		return http.StatusBadRequest
	case errors.As(err, &de):
		return http.StatusUnprocessableEntity
	case errors.As(err, &fe):
		if fe.StatusCode == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case errors.Is(err, render.ErrSuperseded):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

type scrollRequest struct {
	Offset float64 `json:"offset"`
	// Wait renders synchronously and returns the pages; otherwise the window is
	// debounced and rendered in the background.
	Wait bool `json:"wait"`
}

func (s *Server) handlePreviewScroll(w http.ResponseWriter, r *http.Request) {
	var req scrollRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Wait {
		s.viewer.ScrollLater(req.Offset)
		writeJSON(w, http.StatusAccepted, s.viewer.Status())
		return
	}

	pages, err := s.viewer.Scroll(r.Context(), req.Offset)
	switch {
	case errors.Is(err, render.ErrSuperseded):
		jsonError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"preview": s.viewer.Status(),
		"pages":   pages,
	})
}

func (s *Server) handlePreviewPages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"preview": s.viewer.Status(),
		"pages":   s.viewer.Pages(),
	})
}

func (s *Server) handlePreviewHTML(w http.ResponseWriter, r *http.Request) {
	out, ok := s.viewer.DocxHTML()
	if !ok {
		jsonError(w, "no html preview loaded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(out))
}

func (s *Server) handlePreviewClose(w http.ResponseWriter, r *http.Request) {
	s.viewer.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRenderStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"window": s.cfg.StatsWindow.String(),
		"stats":  s.viewer.Stats(),
	})
}
