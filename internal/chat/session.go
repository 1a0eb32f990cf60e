package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgallion1/docview/internal/apiclient"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusAborted   Status = "aborted"
	StatusError     Status = "error"
)

type Message struct {
	Role    Role     `json:"role"`
	Text    string   `json:"text"`
	HTML    string   `json:"html,omitempty"`
	Sources []Source `json:"sources,omitempty"`
	Status  Status   `json:"status"`
}

type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateReceiving State = "receiving"
	StateDone      State = "done"
	StateAborted   State = "aborted"
	StateErrored   State = "errored"
)

// StoppedText is the system message appended once when a reply is cancelled.
const StoppedText = "Generation stopped."

var (
	// ErrAborted reports a reply cancelled by the user. The partial text is kept.
	ErrAborted = errors.New("chat reply aborted")
	ErrIdle    = errors.New("no chat request in flight")
)

// API opens chat streams.
type API interface {
	OpenChatStream(ctx context.Context, space string, cr apiclient.ChatRequest) (io.ReadCloser, error)
}

// Session holds one conversation with at most one outstanding request.
type Session struct {
	api      API
	space    string
	consumer *Consumer
	md       goldmark.Markdown
	log      *slog.Logger

	mu          sync.Mutex
	documentIDs []string
	limit       int
	state       State
	messages    []Message
	reply       int // index of the assistant message being streamed
	req         uint64
	cancel      context.CancelFunc
	done        chan struct{}
	err         error
}

func NewSession(api API, space string, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		api:      api,
		space:    space,
		consumer: NewConsumer(log),
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM)),
		log:      log.With("space", space),
		limit:    5,
		state:    StateIdle,
		reply:    -1,
	}
}

// SetScope restricts later questions to the given documents and sets how
// many chunks the server retrieves. An empty slice means every document; nil
// and a non-positive limit keep the current values.
func (s *Session) SetScope(documentIDs []string, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if documentIDs != nil {
		s.documentIDs = append([]string{}, documentIDs...)
	}
	if limit > 0 {
		s.limit = limit
	}
}

// Send asks question. While a reply is in flight, Send cancels it instead and
// returns false.
func (s *Session) Send(ctx context.Context, question string) (bool, error) {
	question = strings.TrimSpace(question)

	s.mu.Lock()
	if s.state == StateSending || s.state == StateReceiving {
		s.mu.Unlock()
		s.Cancel()
		return false, nil
	}
	if question == "" {
		s.mu.Unlock()
		return false, errors.New("empty question")
	}
	s.req++
	req := s.req
	reqCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.err = nil
	s.state = StateSending
	s.messages = append(s.messages,
		Message{Role: RoleUser, Text: question, Status: StatusDone},
		Message{Role: RoleAssistant, Status: StatusPending},
	)
	s.reply = len(s.messages) - 1
	cr := apiclient.ChatRequest{
		SpaceID:     s.space,
		Question:    question,
		DocumentIDs: append([]string(nil), s.documentIDs...),
		Limit:       s.limit,
	}
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		s.run(reqCtx, req, cr)
	}()
	return true, nil
}

func (s *Session) run(ctx context.Context, req uint64, cr apiclient.ChatRequest) {
	body, err := s.api.OpenChatStream(ctx, s.space, cr)
	if err != nil {
		if ctx.Err() != nil {
			s.abort(req)
			return
		}
		s.fail(req, fmt.Errorf("chat request failed: %w", err))
		return
	}
	defer body.Close()

	if !s.update(req, func() {
		s.state = StateReceiving
		s.messages[s.reply].Status = StatusStreaming
	}) {
		return
	}

	finished := false
	err = s.consumer.Stream(ctx, body, func(ev Event) error {
		switch ev.Kind {
		case EventSources:
			s.update(req, func() { s.messages[s.reply].Sources = ev.Sources })
		case EventToken, EventRefusal:
			s.update(req, func() { s.appendLocked(ev.Content) })
		case EventError:
			msg := ev.Message
			if msg == "" {
				msg = "chat stream error"
			}
			s.fail(req, errors.New(msg))
			finished = true
			return errStop
		case EventDone:
			s.update(req, func() {
				m := &s.messages[s.reply]
				if m.Text == "" && ev.Message != "" {
					s.appendLocked(ev.Message)
				}
				if len(ev.Sources) > 0 {
					m.Sources = ev.Sources
				}
				m.Status = StatusDone
				s.state = StateDone
			})
			finished = true
			return errStop
		}
		return nil
	})
	switch {
	case finished || errors.Is(err, errStop):
	case ctx.Err() != nil:
		s.abort(req)
	case err != nil:
		s.fail(req, err)
	default:
		s.update(req, func() {
			s.messages[s.reply].Status = StatusDone
			s.state = StateDone
		})
	}
}

var errStop = errors.New("stop")

// update applies fn if req is still the live request.
func (s *Session) update(req uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req != s.req || (s.state != StateSending && s.state != StateReceiving) {
		return false
	}
	fn()
	return true
}

func (s *Session) fail(req uint64, err error) {
	applied := s.update(req, func() {
		s.state = StateErrored
		s.err = err
		m := &s.messages[s.reply]
		m.Status = StatusError
		if m.Text == "" {
			m.Text = err.Error()
			m.HTML = ""
		}
	})
	if applied {
		s.log.Warn("chat reply failed", "error", err)
	}
}

func (s *Session) appendLocked(text string) {
	if text == "" {
		return
	}
	m := &s.messages[s.reply]
	m.Text += text
	m.HTML = s.renderLocked(m.Text)
	if s.state == StateSending {
		s.state = StateReceiving
		m.Status = StatusStreaming
	}
}

func (s *Session) renderLocked(text string) string {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(text), &buf); err != nil {
		return ""
	}
	return buf.String()
}

// Cancel aborts the in-flight reply, keeping the text received so far and
// appending a single system message. It returns ErrIdle when nothing is in
// flight.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.state != StateSending && s.state != StateReceiving {
		s.mu.Unlock()
		return ErrIdle
	}
	s.abortLocked()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.log.Info("chat reply cancelled")
	return nil
}

// abort records the end of req when its context was cancelled from outside.
func (s *Session) abort(req uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req == s.req && (s.state == StateSending || s.state == StateReceiving) {
		s.abortLocked()
	}
}

func (s *Session) abortLocked() {
	s.state = StateAborted
	s.err = ErrAborted
	s.messages[s.reply].Status = StatusAborted
	s.messages = append(s.messages, Message{Role: RoleSystem, Text: StoppedText, Status: StatusDone})
}

// Wait blocks until the current request ends and returns its assistant
// message. A cancelled reply returns ErrAborted with the partial message.
func (s *Session) Wait(ctx context.Context) (Message, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reply < 0 {
		return Message{}, ErrIdle
	}
	return s.messages[s.reply], s.err
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the conversation.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Clear drops the conversation, cancelling any reply in flight.
func (s *Session) Clear() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.req++
	s.state = StateIdle
	s.messages = nil
	s.reply = -1
	s.err = nil
	s.mu.Unlock()
}
