package document

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgallion1/docview/internal/source"
)

// Surface is one page laid out at a fixed nominal width.
type Surface struct {
	Page   int      `json:"page"`
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
	Scale  float64  `json:"scale"`
	Lines  []string `json:"lines"`
}

// Page renders lazily. Render must honor ctx cancellation between steps.
type Page interface {
	Render(ctx context.Context, width float64) (Surface, error)
}

// Document is a decoded paginated document.
type Document interface {
	NumPages() int
	// Page returns page i (1-based). Callers have already range-checked i.
	Page(i int) Page
	Close() error
}

// Decoder turns raw bytes into a Document.
type Decoder interface {
	Decode(data []byte) (Document, error)
}

// DecodeError reports bytes the decoder could not understand.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RangeError reports a page number outside 1..Total.
type RangeError struct {
	Page  int
	Total int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("page %d out of range [1, %d]", e.Page, e.Total)
}

// ErrClosed is returned by a Handle after Close.
var ErrClosed = errors.New("document closed")

// Handle owns one decoded document for one source identity.
type Handle struct {
	src   source.RenderSource
	doc   Document
	total int

	mu     sync.Mutex
	closed bool
}

// Open decodes data with dec. Invalid bytes yield a *DecodeError.
func Open(dec Decoder, src source.RenderSource, data []byte) (*Handle, error) {
	if dec == nil {
		return nil, &DecodeError{Source: src.Identity(), Err: errors.New("no decoder")}
	}
	doc, err := dec.Decode(data)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &DecodeError{Source: src.Identity(), Err: err}
	}
	total := doc.NumPages()
	if total < 0 {
		total = 0
	}
	return &Handle{src: src, doc: doc, total: total}, nil
}

func (h *Handle) Source() source.RenderSource { return h.src }

func (h *Handle) TotalPages() int { return h.total }

// Page returns the lazy page i, 1-based.
func (h *Handle) Page(i int) (Page, error) {
	if i < 1 || i > h.total {
		return nil, &RangeError{Page: i, Total: h.total}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	return h.doc.Page(i), nil
}

// Close releases the document. It is safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.doc.Close()
}
