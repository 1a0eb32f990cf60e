package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token() (string, error)
}

// userSource is optionally implemented by a TokenSource that also knows the
// signed-in user.
type userSource interface {
	UserID() string
}

// Client talks to the knowledge-base REST API.
type Client struct {
	baseURL      string
	tokens       TokenSource
	httpClient   *http.Client
	streamClient *http.Client
}

func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		// Streams live as long as the server keeps them open; callers cancel via ctx.
		streamClient: &http.Client{},
	}
}

// FetchError reports a failed HTTP exchange: either a transport error (Err set)
// or a non-2xx status.
type FetchError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Envelope is the JSON wrapper used by the review endpoints.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// SuggestionQuery selects which checks the review stream runs.
type SuggestionQuery struct {
	FileName         string
	FileType         string
	CheckFormat      bool
	VerifyReferences bool
	SuggestContent   bool
}

// AcceptRequest applies either the listed suggestions or all of them.
type AcceptRequest struct {
	SessionID     string   `json:"sessionId"`
	SuggestionIDs []string `json:"suggestionIds,omitempty"`
	All           bool     `json:"all,omitempty"`
}

// AcceptResult is the data payload of POST /review/accept.
type AcceptResult struct {
	Accepted int `json:"accepted"`
}

// ChatRequest is the body of POST /{space}/chat/stream.
type ChatRequest struct {
	SpaceID     string   `json:"space_id"`
	Question    string   `json:"question"`
	DocumentIDs []string `json:"document_ids"`
	Limit       int      `json:"limit"`
}

// PreviewDocument downloads the raw bytes of a stored document. Bodies larger
// than maxBytes are rejected when maxBytes > 0.
func (c *Client) PreviewDocument(ctx context.Context, id string, maxBytes int64) ([]byte, error) {
	const op = "preview document"
	req, err := c.newRequest(ctx, http.MethodGet, "/documents/"+url.PathEscape(id)+"/preview", nil)
	if err != nil {
		return nil, err
	}
	return c.doBytes(op, req, maxBytes)
}

// UploadReview uploads a file for review and returns the new session id.
func (c *Client) UploadReview(ctx context.Context, fileName string, data []byte) (string, error) {
	const op = "upload review"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/review/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := c.doBytes(op, req, 1<<20)
	if err != nil {
		return "", err
	}
	var sessionID string
	if err := decodeEnvelope(op, raw, &sessionID); err != nil {
		return "", err
	}
	if sessionID == "" {
		return "", fmt.Errorf("%s: empty session id", op)
	}
	return sessionID, nil
}

// OpenSuggestionStream starts the review suggestion event stream.
func (c *Client) OpenSuggestionStream(ctx context.Context, sessionID string, q SuggestionQuery) (io.ReadCloser, error) {
	v := url.Values{}
	v.Set("fileName", q.FileName)
	v.Set("fileType", q.FileType)
	v.Set("checkFormat", strconv.FormatBool(q.CheckFormat))
	v.Set("verifyReferences", strconv.FormatBool(q.VerifyReferences))
	v.Set("suggestContent", strconv.FormatBool(q.SuggestContent))

	req, err := c.newRequest(ctx, http.MethodGet, "/review/"+url.PathEscape(sessionID)+"/suggestions?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.openStream("suggestion stream", req)
}

// AcceptSuggestions applies suggestions to the reviewed document.
func (c *Client) AcceptSuggestions(ctx context.Context, ar AcceptRequest) (AcceptResult, error) {
	const op = "accept suggestions"
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/review/accept", ar)
	if err != nil {
		return AcceptResult{}, err
	}
	raw, err := c.doBytes(op, req, 1<<20)
	if err != nil {
		return AcceptResult{}, err
	}
	var res AcceptResult
	if err := decodeEnvelope(op, raw, &res); err != nil {
		return AcceptResult{}, err
	}
	return res, nil
}

// DownloadReviewed returns the modified document bytes.
func (c *Client) DownloadReviewed(ctx context.Context, sessionID string, maxBytes int64) ([]byte, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/review/download", map[string]string{"sessionId": sessionID})
	if err != nil {
		return nil, err
	}
	return c.doBytes("download reviewed", req, maxBytes)
}

// OpenChatStream starts a chat token stream for the given space.
func (c *Client) OpenChatStream(ctx context.Context, space string, cr ChatRequest) (io.ReadCloser, error) {
	if cr.DocumentIDs == nil {
		cr.DocumentIDs = []string{}
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/"+url.PathEscape(space)+"/chat/stream", cr)
	if err != nil {
		return nil, err
	}
	return c.openStream("chat stream", req)
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, v any) (*http.Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.tokens == nil {
		return req, nil
	}
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("auth token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if us, ok := c.tokens.(userSource); ok && !strings.HasPrefix(path, "/iam") {
		if id := us.UserID(); id != "" {
			req.Header.Set("X-User-ID", id)
		}
	}
	return req, nil
}

func (c *Client) doBytes(op string, req *http.Request, maxBytes int64) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &FetchError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	r := io.Reader(resp.Body)
	if maxBytes > 0 {
		r = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &FetchError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, &FetchError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("body exceeds %d bytes", maxBytes)}
	}
	return data, nil
}

func (c *Client) openStream(op string, req *http.Request) (io.ReadCloser, error) {
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &FetchError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return resp.Body, nil
}

func decodeEnvelope(op string, raw []byte, data any) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if env.Code != http.StatusOK {
		msg := env.Message
		if msg == "" {
			msg = "request rejected"
		}
		return fmt.Errorf("%s: code %d: %s", op, env.Code, msg)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
	c.streamClient.CloseIdleConnections()
}
