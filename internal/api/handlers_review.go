package api

import (
	"errors"
	"net/http"

	"github.com/dgallion1/docview/internal/preview"
	"github.com/dgallion1/docview/internal/review"
)

func (s *Server) handleReviewUpload(w http.ResponseWriter, r *http.Request) {
	up, code, err := readUpload(w, r, s.cfg.MaxPreviewBytes)
	if err != nil {
		jsonError(w, err.Error(), code)
		return
	}

	done := s.app.Loading.Begin()
	defer done()
	sess, err := s.reviewer.Upload(r.Context(), up.name, up.data)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type startRequest struct {
	CheckFormat      *bool `json:"check_format"`
	VerifyReferences *bool `json:"verify_references"`
	SuggestContent   *bool `json:"suggest_content"`
}

func (req startRequest) options() review.Options {
	opts := review.AllChecks
	if req.CheckFormat != nil {
		opts.CheckFormat = *req.CheckFormat
	}
	if req.VerifyReferences != nil {
		opts.VerifyReferences = *req.VerifyReferences
	}
	if req.SuggestContent != nil {
		opts.SuggestContent = *req.SuggestContent
	}
	return opts
}

func (s *Server) handleReviewStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.reviewer.StartReview(s.baseCtx, req.options()); err != nil {
		jsonError(w, err.Error(), reviewErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusAccepted, s.reviewer.Snapshot())
}

func (s *Server) handleReviewSession(w http.ResponseWriter, r *http.Request) {
	sess := s.reviewer.Snapshot()
	sev := review.Severity(r.URL.Query().Get("severity"))
	writeJSON(w, http.StatusOK, map[string]any{
		"session":     sess,
		"counts":      sess.Counts(),
		"suggestions": review.FilterBySeverity(sess.Suggestions, sev),
	})
}

func (s *Server) handleReviewContent(w http.ResponseWriter, r *http.Request) {
	sess := s.reviewer.Snapshot()
	if sess.DocumentContent == "" {
		jsonError(w, "document content not available yet", http.StatusNotFound)
		return
	}
	out, err := preview.TextHTML(sess.FileName, sess.DocumentContent)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(out))
}

type acceptRequest struct {
	SuggestionIDs []string `json:"suggestion_ids"`
	All           bool     `json:"all"`
}

func (s *Server) handleReviewAccept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.All && len(req.SuggestionIDs) == 0 {
		jsonError(w, "suggestion_ids or all is required", http.StatusBadRequest)
		return
	}
	n, err := s.reviewer.Accept(r.Context(), req.SuggestionIDs, req.All)
	if err != nil {
		jsonError(w, err.Error(), reviewErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": n})
}

func (s *Server) handleReviewDownload(w http.ResponseWriter, r *http.Request) {
	sess := s.reviewer.Snapshot()
	data, err := s.reviewer.Download(r.Context())
	if err != nil {
		jsonError(w, err.Error(), reviewErrorStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+sanitizeFilename("reviewed_"+sess.FileName)+`"`)
	w.Write(data)
}

func (s *Server) handleReviewReset(w http.ResponseWriter, r *http.Request) {
	s.reviewer.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func reviewErrorStatus(err error) int {
	switch {
	case errors.Is(err, review.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, review.ErrReviewInProgress):
		return http.StatusConflict
	}
	return http.StatusBadGateway
}
