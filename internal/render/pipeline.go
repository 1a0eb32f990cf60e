// Package render turns a viewport window into rendered page surfaces.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgallion1/docview/internal/document"
	"github.com/dgallion1/docview/internal/viewport"
)

var (
	// ErrSuperseded is returned when a newer window or document replaced the
	// one being rendered. Nothing from the stale call is applied.
	ErrSuperseded = errors.New("render superseded by newer window")
	ErrNoDocument = errors.New("no document loaded")
)

// Pipeline owns one document handle and the surfaces rendered for it. Pages
// within a window render sequentially in ascending order.
type Pipeline struct {
	width float64
	stats *Stats
	log   *slog.Logger

	mu     sync.Mutex
	handle *document.Handle
	pages  map[int]document.Surface
	window viewport.Window
	gen    uint64
	cancel context.CancelFunc
}

func NewPipeline(width float64, stats *Stats, log *slog.Logger) *Pipeline {
	if stats == nil {
		stats = NewStats(0)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		width: width,
		stats: stats,
		log:   log,
		pages: make(map[int]document.Surface),
	}
}

// Reset swaps in a new handle (nil to unload). The previous handle is closed,
// the page cache cleared and any in-flight render superseded.
func (p *Pipeline) Reset(h *document.Handle) {
	p.mu.Lock()
	old := p.handle
	p.handle = h
	p.pages = make(map[int]document.Surface)
	p.window = viewport.Window{}
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	if old != nil && old != h {
		if err := old.Close(); err != nil {
			p.log.Warn("close document", "source", old.Source().Identity(), "error", err)
		}
	}
}

// Handle returns the current document handle, or nil.
func (p *Pipeline) Handle() *document.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

// RenderWindow materializes the pages of w, reusing surfaces already rendered
// and evicting those outside w. A later call, or a Reset, supersedes this one.
func (p *Pipeline) RenderWindow(ctx context.Context, w viewport.Window) ([]document.Surface, error) {
	p.mu.Lock()
	if p.handle == nil {
		p.mu.Unlock()
		return nil, ErrNoDocument
	}
	p.gen++
	gen := p.gen
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	h := p.handle
	if w.End > h.TotalPages() {
		w.End = h.TotalPages()
	}
	if w.Start < 1 {
		w.Start = 1
	}
	have := make(map[int]bool, len(p.pages))
	for n := range p.pages {
		if w.Contains(n) {
			have[n] = true
		}
	}
	p.mu.Unlock()
	defer cancel()

	fresh := make(map[int]document.Surface)
	for n := w.Start; n <= w.End; n++ {
		if have[n] {
			continue
		}
		if ctx.Err() != nil {
			return nil, p.abortErr(ctx, gen)
		}
		s, err := p.renderPage(ctx, h, n)
		if err != nil {
			if ctx.Err() != nil {
				return nil, p.abortErr(ctx, gen)
			}
			p.log.Warn("render page failed", "page", n, "error", err)
			continue
		}
		fresh[n] = s
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return nil, ErrSuperseded
	}
	for n := range p.pages {
		if !w.Contains(n) {
			delete(p.pages, n)
		}
	}
	for n, s := range fresh {
		p.pages[n] = s
	}
	p.window = w
	if len(fresh) > 0 {
		p.log.Debug("rendered window", "start", w.Start, "end", w.End, "new_pages", len(fresh))
	}
	return p.pagesLocked(), nil
}

func (p *Pipeline) renderPage(ctx context.Context, h *document.Handle, n int) (document.Surface, error) {
	start := time.Now()
	page, err := h.Page(n)
	if err != nil {
		return document.Surface{}, err
	}
	s, err := page.Render(ctx, p.width)
	if err != nil {
		if ctx.Err() == nil {
			p.stats.RecordFailure(time.Since(start))
		}
		return document.Surface{}, fmt.Errorf("page %d: %w", n, err)
	}
	p.stats.Record(time.Since(start))
	return s, nil
}

// abortErr distinguishes supersession from cancellation by the caller.
func (p *Pipeline) abortErr(ctx context.Context, gen uint64) error {
	p.mu.Lock()
	current := p.gen == gen
	p.mu.Unlock()
	if !current {
		return ErrSuperseded
	}
	return ctx.Err()
}

// Pages returns the rendered surfaces of the current window in page order.
func (p *Pipeline) Pages() []document.Surface {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pagesLocked()
}

func (p *Pipeline) pagesLocked() []document.Surface {
	out := make([]document.Surface, 0, len(p.pages))
	for _, s := range p.pages {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

// Window returns the last applied window.
func (p *Pipeline) Window() viewport.Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window
}

// TotalHeight estimates the full scroll height before every page is rendered.
func (p *Pipeline) TotalHeight() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil {
		return 0
	}
	return float64(p.handle.TotalPages()) * p.width
}

func (p *Pipeline) Stats() *Stats { return p.stats }
