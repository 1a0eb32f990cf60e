package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Kind tags a RenderSource.
type Kind string

const (
	KindBlob   Kind = "blob"
	KindRemote Kind = "remote"
)

// RenderSource identifies the document to preview. It is either an in-memory
// blob (a local upload) or a remote document id. Values are immutable.
type RenderSource struct {
	kind  Kind
	name  string
	data  []byte
	id    string
	ident string
}

// Blob returns a source for bytes already held in memory. The slice is copied.
func Blob(name string, data []byte) RenderSource {
	b := make([]byte, len(data))
	copy(b, data)
	sum := sha256.Sum256(b)
	return RenderSource{
		kind:  KindBlob,
		name:  name,
		data:  b,
		ident: string(KindBlob) + ":" + hex.EncodeToString(sum[:]),
	}
}

// Remote returns a source for a document stored on the server.
func Remote(id string) RenderSource {
	return RenderSource{
		kind:  KindRemote,
		id:    id,
		name:  id,
		ident: string(KindRemote) + ":" + id,
	}
}

func (s RenderSource) Kind() Kind { return s.kind }
func (s RenderSource) Name() string { return s.name }
func (s RenderSource) ID() string { return s.id }

// IsZero reports whether s was never set.
func (s RenderSource) IsZero() bool { return s.kind == "" }

// Identity is stable for equal content: two blobs with the same bytes, or two
// remotes with the same id, share an identity.
func (s RenderSource) Identity() string { return s.ident }

// SourceError reports a source that cannot be resolved at all. Err, when
// set, is the sentinel behind Reason.
type SourceError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *SourceError) Error() string {
	reason := e.Reason
	if reason == "" && e.Err != nil {
		reason = e.Err.Error()
	}
	if e.Kind == "" {
		return "source: " + reason
	}
	return fmt.Sprintf("source %s: %s", e.Kind, reason)
}

func (e *SourceError) Unwrap() error { return e.Err }

// ErrEmptySource is wrapped by SourceError when no source was given.
var ErrEmptySource = errors.New("no document source")

// Fetcher downloads a remote document's raw bytes.
type Fetcher interface {
	PreviewDocument(ctx context.Context, id string, maxBytes int64) ([]byte, error)
}

// Resolver turns a RenderSource into raw document bytes.
type Resolver struct {
	fetch    Fetcher
	maxBytes int64
}

func NewResolver(fetch Fetcher, maxBytes int64) *Resolver {
	return &Resolver{fetch: fetch, maxBytes: maxBytes}
}

// Resolve returns the bytes for src. Blob bytes are copied so the source
// stays immutable. Remote fetch failures are returned as-is (an
// *apiclient.FetchError in production); nothing is retried.
func (r *Resolver) Resolve(ctx context.Context, src RenderSource) ([]byte, error) {
	switch src.kind {
	case KindBlob:
		return append([]byte(nil), src.data...), nil
	case KindRemote:
		if src.id == "" {
			return nil, &SourceError{Kind: KindRemote, Reason: "empty document id"}
		}
		if r.fetch == nil {
			return nil, &SourceError{Kind: KindRemote, Reason: "no fetcher configured"}
		}
		data, err := r.fetch.PreviewDocument(ctx, src.id, r.maxBytes)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", src.ident, err)
		}
		return data, nil
	case "":
		return nil, &SourceError{Err: ErrEmptySource}
	default:
		return nil, &SourceError{Kind: src.kind, Reason: "unknown source kind"}
	}
}
