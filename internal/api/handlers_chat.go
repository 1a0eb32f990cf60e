package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/dgallion1/docview/internal/chat"
	"github.com/go-chi/chi/v5"
)

// maxChatSessions bounds the conversations kept in memory, one per space.
const maxChatSessions = 32

var errTooManyChats = errors.New("too many active chat sessions")

type chatEntry struct {
	sess *chat.Session
	used time.Time
}

// chatSession returns the conversation for a space. With create set a missing
// one is started, evicting the least recently used idle conversation when
// the limit is reached.
func (s *Server) chatSession(space string, create bool) (*chat.Session, error) {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	if e, ok := s.chats[space]; ok {
		e.used = time.Now()
		return e.sess, nil
	}
	if !create {
		return nil, nil
	}
	if len(s.chats) >= maxChatSessions {
		victim := ""
		var oldest time.Time
		for key, e := range s.chats {
			if busy(e.sess.State()) {
				continue
			}
			if victim == "" || e.used.Before(oldest) {
				victim, oldest = key, e.used
			}
		}
		if victim == "" {
			return nil, errTooManyChats
		}
		s.chats[victim].sess.Clear()
		delete(s.chats, victim)
		s.log.Info("chat session evicted", "space", victim)
	}
	sess := chat.NewSession(s.chatAPI, space, s.log)
	s.chats[space] = &chatEntry{sess: sess, used: time.Now()}
	return sess, nil
}

func busy(st chat.State) bool {
	return st == chat.StateSending || st == chat.StateReceiving
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.chatSession(chi.URLParam(r, "space"), false)
	if sess == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"state":    chat.StateIdle,
			"messages": []chat.Message{},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    sess.State(),
		"messages": sess.Messages(),
	})
}

type sendRequest struct {
	Question    string   `json:"question"`
	DocumentIDs []string `json:"document_ids"`
	Limit       int      `json:"limit"`
}

// handleChatSend starts a reply, or cancels the one in flight.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := s.chatSession(chi.URLParam(r, "space"), true)
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if req.DocumentIDs != nil || req.Limit > 0 {
		sess.SetScope(req.DocumentIDs, req.Limit)
	}

	started, err := sess.Send(s.baseCtx, req.Question)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	code := http.StatusAccepted
	if !started {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{
		"started": started,
		"state":   sess.State(),
	})
}

func (s *Server) handleChatCancel(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.chatSession(chi.URLParam(r, "space"), false)
	if sess == nil {
		jsonError(w, chat.ErrIdle.Error(), http.StatusConflict)
		return
	}
	if err := sess.Cancel(); err != nil {
		if errors.Is(err, chat.ErrIdle) {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": sess.State()})
}

// handleChatClear drops the conversation for a space.
func (s *Server) handleChatClear(w http.ResponseWriter, r *http.Request) {
	space := chi.URLParam(r, "space")
	s.chatMu.Lock()
	e, ok := s.chats[space]
	delete(s.chats, space)
	s.chatMu.Unlock()
	if ok {
		e.sess.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}
