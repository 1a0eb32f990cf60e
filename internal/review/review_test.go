package review

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/dgallion1/docview/internal/apiclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stream = "data:{\"type\":\"FORMAT_ERROR\",\"severity\":\"ERROR\",\"position\":3,\"original_text\":\"Teh\",\"suggested_text\":\"The\",\"reason\":\"typo\"}\n" +
	"data:{\"type\":\"DOCUMENT_CONTENT\",\"document_content\":\"第一行\\nline two\"}\n" +
	"data:{not json}\n" +
	"data:{\"type\":\"PUNCTUATION\",\"severity\":\"warning\",\"position\":-2,\"original_text\":\"a ,b\",\"suggested_text\":null,\"reason\":\"spacing\"}\n" +
	":DONE\n" +
	"data:{\"type\":\"DOCUMENT_CONTENT\"}\n" +
	"data:{\"type\":\"REFERENCE_MISSING\",\"severity\":\"INFO\",\"position\":9,\"original_text\":\"see [1]\",\"reason\":\"missing\",\"knowledge_source\":\"handbook\"}\n"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	content     []string
	suggestions []Suggestion
}

func (s *recordingSink) Content(text string) error {
	s.content = append(s.content, text)
	return nil
}

func (s *recordingSink) Suggestion(sg Suggestion) error {
	s.suggestions = append(s.suggestions, sg)
	return nil
}

func TestConsumerRoutesDocumentContent(t *testing.T) {
	sink := &recordingSink{}
	n, err := NewConsumer(quietLogger()).Stream(context.Background(), strings.NewReader(stream), sink)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, sink.suggestions, 3)
	for _, s := range sink.suggestions {
		assert.NotEqual(t, TypeDocumentContent, s.Type)
		assert.NotEmpty(t, s.ID)
	}
	assert.Equal(t, []string{"第一行\nline two"}, sink.content)

	assert.Equal(t, TypeFormatError, sink.suggestions[0].Type)
	assert.Equal(t, SeverityWarning, sink.suggestions[1].Severity)
	assert.Equal(t, 0, sink.suggestions[1].Position)
	assert.Nil(t, sink.suggestions[1].SuggestedText)
	require.NotNil(t, sink.suggestions[2].KnowledgeSource)
	assert.Equal(t, "handbook", *sink.suggestions[2].KnowledgeSource)
}

func TestConsumerChunkBoundaryIndependence(t *testing.T) {
	strip := func(list []Suggestion) []Suggestion {
		out := make([]Suggestion, len(list))
		for i, s := range list {
			s.ID = ""
			out[i] = s
		}
		return out
	}
	whole := &recordingSink{}
	_, err := NewConsumer(quietLogger()).Stream(context.Background(), strings.NewReader(stream), whole)
	require.NoError(t, err)

	for _, r := range []io.Reader{
		iotest.OneByteReader(strings.NewReader(stream)),
		iotest.HalfReader(strings.NewReader(stream)),
		iotest.DataErrReader(strings.NewReader(stream)),
	} {
		split := &recordingSink{}
		_, err := NewConsumer(quietLogger()).Stream(context.Background(), r, split)
		require.NoError(t, err)
		assert.Equal(t, strip(whole.suggestions), strip(split.suggestions))
		assert.Equal(t, whole.content, split.content)
	}
}

func TestConsumerMalformedOnlyStream(t *testing.T) {
	sink := &recordingSink{}
	n, err := NewConsumer(quietLogger()).Stream(context.Background(), strings.NewReader("data:{oops\ndata:[1,2\n"), sink)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sink.suggestions)
	assert.Empty(t, sink.content)
}

func TestConsumerKeepsSparseSuggestions(t *testing.T) {
	body := "data:{\"type\":\"REFERENCE_MISSING\",\"severity\":\"WARNING\",\"position\":4,\"original_text\":\"\",\"suggested_text\":\"GB/T 1.1\",\"reason\":\"\"}\n" +
		"data:{\"severity\":\"INFO\",\"position\":1,\"original_text\":\"x\",\"reason\":\"y\"}\n" +
		"data:null\n" +
		"data:42\n" +
		"data:\"text\"\n"
	sink := &recordingSink{}
	n, err := NewConsumer(quietLogger()).Stream(context.Background(), strings.NewReader(body), sink)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, sink.suggestions, 2)

	assert.Equal(t, TypeReferenceMissing, sink.suggestions[0].Type)
	require.NotNil(t, sink.suggestions[0].SuggestedText)
	assert.Equal(t, "GB/T 1.1", *sink.suggestions[0].SuggestedText)
	assert.Empty(t, sink.suggestions[1].Type)
	assert.Equal(t, "x", sink.suggestions[1].OriginalText)
	assert.Equal(t, Counts{Total: 2, Warnings: 1, Infos: 1}, CountBySeverity(sink.suggestions))
}

func TestValidateSuggestion(t *testing.T) {
	tests := []struct {
		name     string
		in       Suggestion
		wantType SuggestionType
		wantSev  Severity
	}{
		{"valid", Suggestion{Type: "DATE_FORMAT", Severity: "INFO", OriginalText: "2024/1/1"}, TypeDateFormat, SeverityInfo},
		{"lowercase type", Suggestion{Type: "punctuation", Severity: "error", Reason: "comma"}, TypePunctuation, SeverityError},
		{"missing type", Suggestion{Severity: "ERROR", OriginalText: "x"}, "", SeverityError},
		{"empty body", Suggestion{Type: "FORMAT_ERROR", Severity: "bogus"}, TypeFormatError, SeverityInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.in
			require.NoError(t, ValidateSuggestion(&s))
			assert.Equal(t, tt.wantType, s.Type)
			assert.Equal(t, tt.wantSev, s.Severity)
			assert.NotEmpty(t, s.ID)
		})
	}
	assert.Error(t, ValidateSuggestion(nil))

	long := strings.Repeat("é", maxTextLen)
	s := Suggestion{Type: "X", Reason: long}
	require.NoError(t, ValidateSuggestion(&s))
	assert.LessOrEqual(t, len(s.Reason), maxTextLen)
	assert.True(t, strings.HasPrefix(long, s.Reason))
}

func TestCountAndFilterBySeverity(t *testing.T) {
	list := []Suggestion{{Severity: SeverityError}, {Severity: SeverityWarning}, {Severity: SeverityError}, {Severity: SeverityInfo}}
	assert.Equal(t, Counts{Total: 4, Errors: 2, Warnings: 1, Infos: 1}, CountBySeverity(list))
	assert.Len(t, FilterBySeverity(list, SeverityError), 2)
	assert.Len(t, FilterBySeverity(list, ""), 4)
}

// fakeAPI serves suggestion streams through pipes so tests control timing.
type fakeAPI struct {
	mu       sync.Mutex
	nextID   int
	streams  map[string]*io.PipeWriter
	opened   chan string
	openErr  error
	accepted []apiclient.AcceptRequest
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{streams: make(map[string]*io.PipeWriter), opened: make(chan string, 8)}
}

func (f *fakeAPI) UploadReview(_ context.Context, fileName string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fileName == "reject.pdf" {
		return "", errors.New("upload rejected")
	}
	f.nextID++
	return "sess-" + string(rune('0'+f.nextID)), nil
}

func (f *fakeAPI) OpenSuggestionStream(ctx context.Context, id string, _ apiclient.SuggestionQuery) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	pr, pw := io.Pipe()
	f.mu.Lock()
	f.streams[id] = pw
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
	}()
	f.opened <- id
	return pr, nil
}

func (f *fakeAPI) AcceptSuggestions(_ context.Context, ar apiclient.AcceptRequest) (apiclient.AcceptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, ar)
	return apiclient.AcceptResult{Accepted: len(ar.SuggestionIDs)}, nil
}

func (f *fakeAPI) DownloadReviewed(context.Context, string, int64) ([]byte, error) {
	return []byte("modified"), nil
}

func (f *fakeAPI) writer(id string) *io.PipeWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[id]
}

func waitOpened(t *testing.T, f *fakeAPI) string {
	t.Helper()
	select {
	case id := <-f.opened:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("stream never opened")
		return ""
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestReviewerFullCycle(t *testing.T) {
	api := newFakeAPI()
	r := NewReviewer(api, quietLogger(), 0)

	var updates []Update
	var umu sync.Mutex
	r.OnUpdate(func(u Update) {
		umu.Lock()
		updates = append(updates, u)
		umu.Unlock()
	})

	sess, err := r.Upload(context.Background(), "report.pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sess.State)
	assert.Equal(t, "pdf", sess.FileType)
	assert.Empty(t, sess.DocumentContent)

	require.NoError(t, r.StartReview(context.Background(), AllChecks))
	assert.ErrorIs(t, r.StartReview(context.Background(), AllChecks), ErrReviewInProgress)

	id := waitOpened(t, api)
	w := api.writer(id)
	_, err = io.WriteString(w, stream)
	require.NoError(t, err)
	w.Close()

	final, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, final.State)
	assert.Len(t, final.Suggestions, 3)
	assert.Equal(t, "第一行\nline two", final.DocumentContent)
	assert.Equal(t, Counts{Total: 3, Errors: 1, Warnings: 1, Infos: 1}, final.Counts())

	n, err := r.Accept(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, r.Snapshot().AcceptedIDs, 3)

	data, err := r.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "modified", string(data))

	umu.Lock()
	defer umu.Unlock()
	var states []State
	for _, u := range updates {
		if u.Suggestion == nil && !u.Content {
			states = append(states, u.State)
		}
	}
	assert.Equal(t, []State{StateIdle, StateRequesting, StateStreaming, StateDone}, states)
}

func TestReviewerRestartClearsSuggestions(t *testing.T) {
	api := newFakeAPI()
	r := NewReviewer(api, quietLogger(), 0)
	_, err := r.Upload(context.Background(), "a.docx", nil)
	require.NoError(t, err)

	require.NoError(t, r.StartReview(context.Background(), AllChecks))
	id := waitOpened(t, api)
	io.WriteString(api.writer(id), stream)
	api.writer(id).Close()
	_, err = r.Wait(context.Background())
	require.NoError(t, err)

	require.NoError(t, r.StartReview(context.Background(), AllChecks))
	snap := r.Snapshot()
	assert.Empty(t, snap.Suggestions)
	assert.Contains(t, []State{StateRequesting, StateStreaming}, snap.State)
	id = waitOpened(t, api)
	api.writer(id).Close()
	final, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, final.State)
	assert.Empty(t, final.Suggestions)
}

func TestReviewerLocalTextPopulatesContent(t *testing.T) {
	r := NewReviewer(newFakeAPI(), quietLogger(), 0)
	sess, err := r.Upload(context.Background(), "notes.MD", []byte("\xef\xbb\xbf# Title\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "md", sess.FileType)
	assert.Equal(t, "# Title\nbody", sess.DocumentContent)
}

func TestReviewerUploadFailureKeepsSession(t *testing.T) {
	r := NewReviewer(newFakeAPI(), quietLogger(), 0)
	first, err := r.Upload(context.Background(), "ok.txt", []byte("hi"))
	require.NoError(t, err)

	_, err = r.Upload(context.Background(), "reject.pdf", nil)
	require.Error(t, err)
	assert.Equal(t, first.ID, r.Snapshot().ID)
}

func TestReviewerRequestFailure(t *testing.T) {
	api := newFakeAPI()
	api.openErr = &apiclient.FetchError{Op: "suggestion stream", StatusCode: 500, Body: "boom"}
	r := NewReviewer(api, quietLogger(), 0)
	_, err := r.Upload(context.Background(), "a.pdf", nil)
	require.NoError(t, err)

	require.NoError(t, r.StartReview(context.Background(), AllChecks))
	final, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, final.State)
	assert.Contains(t, final.Error, "500")
	assert.Empty(t, final.Suggestions)
}

func TestReviewerResetDropsStaleStream(t *testing.T) {
	api := newFakeAPI()
	r := NewReviewer(api, quietLogger(), 0)
	_, err := r.Upload(context.Background(), "a.pdf", nil)
	require.NoError(t, err)
	require.NoError(t, r.StartReview(context.Background(), AllChecks))
	oldID := waitOpened(t, api)
	w := api.writer(oldID)

	// One suggestion arrives before the reset.
	_, err = io.WriteString(w, "data:{\"type\":\"FORMAT_ERROR\",\"severity\":\"ERROR\",\"original_text\":\"x\"}\n")
	require.NoError(t, err)
	waitFor(t, func() bool { return len(r.Snapshot().Suggestions) == 1 })

	r.Reset()
	assert.Equal(t, StateIdle, r.Snapshot().State)
	assert.Empty(t, r.Snapshot().ID)

	sess, err := r.Upload(context.Background(), "b.pdf", nil)
	require.NoError(t, err)
	assert.NotEqual(t, oldID, sess.ID)

	// Writes to the cancelled stream fail and never reach the new session.
	io.WriteString(w, "data:{\"type\":\"FORMAT_ERROR\",\"severity\":\"ERROR\",\"original_text\":\"late\"}\n")
	assert.Empty(t, r.Snapshot().Suggestions)
	assert.Equal(t, StateIdle, r.Snapshot().State)
}

func TestReviewerWithoutSession(t *testing.T) {
	r := NewReviewer(newFakeAPI(), quietLogger(), 0)
	assert.ErrorIs(t, r.StartReview(context.Background(), AllChecks), ErrNoSession)
	_, err := r.Accept(context.Background(), []string{"x"}, false)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = r.Download(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}
