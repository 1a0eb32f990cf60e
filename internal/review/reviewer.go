package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgallion1/docview/internal/apiclient"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateStreaming  State = "streaming"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

var (
	ErrReviewInProgress = errors.New("review already in progress")
	ErrNoSession        = errors.New("no document uploaded")
	errStaleSession     = errors.New("review session replaced")
)

// Session is a snapshot of one review session.
type Session struct {
	ID              string       `json:"session_id"`
	FileName        string       `json:"file_name"`
	FileType        string       `json:"file_type"`
	State           State        `json:"state"`
	Suggestions     []Suggestion `json:"suggestions"`
	AcceptedIDs     []string     `json:"accepted_ids"`
	DocumentContent string       `json:"document_content"`
	Error           string       `json:"error,omitempty"`
}

// Counts tallies the session's suggestions by severity.
func (s Session) Counts() Counts { return CountBySeverity(s.Suggestions) }

// API is the subset of the REST client the reviewer needs.
type API interface {
	UploadReview(ctx context.Context, fileName string, data []byte) (string, error)
	OpenSuggestionStream(ctx context.Context, sessionID string, q apiclient.SuggestionQuery) (io.ReadCloser, error)
	AcceptSuggestions(ctx context.Context, ar apiclient.AcceptRequest) (apiclient.AcceptResult, error)
	DownloadReviewed(ctx context.Context, sessionID string, maxBytes int64) ([]byte, error)
}

// Options selects the checks a review runs.
type Options struct {
	CheckFormat      bool
	VerifyReferences bool
	SuggestContent   bool
}

// AllChecks enables every check.
var AllChecks = Options{CheckFormat: true, VerifyReferences: true, SuggestContent: true}

// Update is passed to the reviewer's observer after each applied change.
type Update struct {
	SessionID  string
	State      State
	Suggestion *Suggestion
	Content    bool
}

// Reviewer owns the current review session. A new upload or Reset replaces
// the session wholesale; callbacks from an older stream are dropped.
type Reviewer struct {
	api      API
	consumer *Consumer
	log      *slog.Logger
	maxBytes int64
	observe  func(Update)

	mu     sync.Mutex
	sess   *Session
	cancel context.CancelFunc
	done   chan struct{}
}

func NewReviewer(api API, log *slog.Logger, maxBytes int64) *Reviewer {
	if log == nil {
		log = slog.Default()
	}
	return &Reviewer{
		api:      api,
		consumer: NewConsumer(log),
		log:      log,
		maxBytes: maxBytes,
	}
}

// OnUpdate registers fn to be called after every applied change. It is not
// called while the reviewer's lock is held.
func (r *Reviewer) OnUpdate(fn func(Update)) {
	r.mu.Lock()
	r.observe = fn
	r.mu.Unlock()
}

// Upload sends the file and starts a fresh idle session for it. Plain text
// and markdown files populate the document content immediately.
func (r *Reviewer) Upload(ctx context.Context, fileName string, data []byte) (Session, error) {
	id, err := r.api.UploadReview(ctx, fileName, data)
	if err != nil {
		return Session{}, fmt.Errorf("upload %s: %w", fileName, err)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	sess := &Session{ID: id, FileName: fileName, FileType: ext, State: StateIdle}
	if ext == "txt" || ext == "md" {
		sess.DocumentContent = decodeText(data)
	}

	r.mu.Lock()
	r.stopLocked()
	r.sess = sess
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.log.Info("review session created", "session_id", id, "file", fileName)
	r.notify(Update{SessionID: id, State: StateIdle, Content: sess.DocumentContent != ""})
	return snap, nil
}

// StartReview opens the suggestion stream in the background. It is refused
// while a review is requesting or streaming. The stream lives until it ends,
// ctx is cancelled, or the session is reset.
func (r *Reviewer) StartReview(ctx context.Context, opts Options) error {
	r.mu.Lock()
	if r.sess == nil {
		r.mu.Unlock()
		return ErrNoSession
	}
	if r.sess.State == StateRequesting || r.sess.State == StateStreaming {
		r.mu.Unlock()
		return ErrReviewInProgress
	}
	sess := r.sess
	sess.State = StateRequesting
	sess.Suggestions = nil
	sess.Error = ""
	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	id := sess.ID
	q := apiclient.SuggestionQuery{
		FileName:         sess.FileName,
		FileType:         sess.FileType,
		CheckFormat:      opts.CheckFormat,
		VerifyReferences: opts.VerifyReferences,
		SuggestContent:   opts.SuggestContent,
	}
	r.mu.Unlock()

	r.notify(Update{SessionID: id, State: StateRequesting})
	go func() {
		defer close(done)
		defer cancel()
		r.run(streamCtx, id, q)
	}()
	return nil
}

func (r *Reviewer) run(ctx context.Context, id string, q apiclient.SuggestionQuery) {
	log := r.log.With("session_id", id)

	body, err := r.api.OpenSuggestionStream(ctx, id, q)
	if err != nil {
		r.finish(id, StateFailed, fmt.Errorf("review request failed: %w", err))
		return
	}
	defer body.Close()

	if !r.setState(id, StateStreaming) {
		return
	}
	count, err := r.consumer.Stream(ctx, body, &sessionSink{r: r, id: id})
	switch {
	case errors.Is(err, errStaleSession):
		log.Debug("stale review stream dropped")
	case err != nil && ctx.Err() != nil:
		log.Info("review stream cancelled", "received", count)
		r.finish(id, StateFailed, ctx.Err())
	case err != nil:
		log.Warn("review stream failed", "received", count, "error", err)
		r.finish(id, StateFailed, err)
	default:
		log.Info("review complete", "suggestions", count)
		r.finish(id, StateDone, nil)
	}
}

// Wait blocks until the current review stream has finished.
func (r *Reviewer) Wait(ctx context.Context) (Session, error) {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return r.Snapshot(), ctx.Err()
		}
	}
	return r.Snapshot(), nil
}

// Reset drops the current session and cancels its stream.
func (r *Reviewer) Reset() {
	r.mu.Lock()
	id := ""
	if r.sess != nil {
		id = r.sess.ID
	}
	r.stopLocked()
	r.sess = nil
	r.mu.Unlock()
	if id != "" {
		r.log.Info("review session reset", "session_id", id)
		r.notify(Update{SessionID: id, State: StateIdle})
	}
}

// Accept applies the given suggestions, or all of them when all is set.
func (r *Reviewer) Accept(ctx context.Context, ids []string, all bool) (int, error) {
	r.mu.Lock()
	if r.sess == nil {
		r.mu.Unlock()
		return 0, ErrNoSession
	}
	id := r.sess.ID
	if all {
		ids = nil
		for _, s := range r.sess.Suggestions {
			ids = append(ids, s.ID)
		}
	}
	r.mu.Unlock()

	res, err := r.api.AcceptSuggestions(ctx, apiclient.AcceptRequest{SessionID: id, SuggestionIDs: ids, All: all})
	if err != nil {
		return 0, fmt.Errorf("accept suggestions: %w", err)
	}

	r.mu.Lock()
	if r.sess != nil && r.sess.ID == id {
		seen := make(map[string]bool, len(r.sess.AcceptedIDs))
		for _, a := range r.sess.AcceptedIDs {
			seen[a] = true
		}
		for _, a := range ids {
			if !seen[a] {
				r.sess.AcceptedIDs = append(r.sess.AcceptedIDs, a)
				seen[a] = true
			}
		}
	}
	r.mu.Unlock()
	return res.Accepted, nil
}

// Download returns the modified document of the current session.
func (r *Reviewer) Download(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	if r.sess == nil {
		r.mu.Unlock()
		return nil, ErrNoSession
	}
	id := r.sess.ID
	r.mu.Unlock()

	data, err := r.api.DownloadReviewed(ctx, id, r.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("download reviewed document: %w", err)
	}
	return data, nil
}

// Snapshot returns a copy of the current session, or the zero Session with
// StateIdle when none exists.
func (r *Reviewer) Snapshot() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reviewer) snapshotLocked() Session {
	if r.sess == nil {
		return Session{State: StateIdle}
	}
	s := *r.sess
	s.Suggestions = append([]Suggestion(nil), r.sess.Suggestions...)
	s.AcceptedIDs = append([]string(nil), r.sess.AcceptedIDs...)
	return s
}

func (r *Reviewer) stopLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.done = nil
}

// apply runs fn against the session if id is still current.
func (r *Reviewer) apply(id string, fn func(*Session)) bool {
	r.mu.Lock()
	if r.sess == nil || r.sess.ID != id {
		r.mu.Unlock()
		return false
	}
	fn(r.sess)
	r.mu.Unlock()
	return true
}

func (r *Reviewer) setState(id string, st State) bool {
	ok := r.apply(id, func(s *Session) { s.State = st })
	if ok {
		r.notify(Update{SessionID: id, State: st})
	}
	return ok
}

func (r *Reviewer) finish(id string, st State, err error) {
	ok := r.apply(id, func(s *Session) {
		s.State = st
		if err != nil {
			s.Error = err.Error()
		}
	})
	if ok {
		r.notify(Update{SessionID: id, State: st})
	}
}

func (r *Reviewer) notify(u Update) {
	r.mu.Lock()
	fn := r.observe
	r.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}

type sessionSink struct {
	r  *Reviewer
	id string
}

func (s *sessionSink) Content(text string) error {
	if !s.r.apply(s.id, func(sess *Session) { sess.DocumentContent = text }) {
		return errStaleSession
	}
	s.r.notify(Update{SessionID: s.id, State: StateStreaming, Content: true})
	return nil
}

func (s *sessionSink) Suggestion(sg Suggestion) error {
	if !s.r.apply(s.id, func(sess *Session) { sess.Suggestions = append(sess.Suggestions, sg) }) {
		return errStaleSession
	}
	s.r.notify(Update{SessionID: s.id, State: StateStreaming, Suggestion: &sg})
	return nil
}

// decodeText strips a UTF-8 or UTF-16 byte order mark and replaces invalid
// sequences.
func decodeText(data []byte) string {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(out)
}
