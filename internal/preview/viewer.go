// Package preview drives the document preview: it resolves a source, picks a
// paginated or HTML rendering, and keeps the rendered window in step with the
// scroll position.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/docview/internal/document"
	"github.com/dgallion1/docview/internal/docxhtml"
	"github.com/dgallion1/docview/internal/render"
	"github.com/dgallion1/docview/internal/source"
	"github.com/dgallion1/docview/internal/viewport"
)

// Mode says how the loaded document is shown.
type Mode string

const (
	ModeNone      Mode = "none"
	ModePaginated Mode = "paginated"
	ModeHTML      Mode = "html"
	// ModeUnavailable means the bytes could not be decoded.
	ModeUnavailable Mode = "unavailable"
)

// Status describes the loaded document.
type Status struct {
	Source      string          `json:"source"`
	Mode        Mode            `json:"mode"`
	TotalPages  int             `json:"total_pages"`
	TotalHeight float64         `json:"total_height"`
	Window      viewport.Window `json:"window"`
	Error       string          `json:"error,omitempty"`
}

type Options struct {
	PageWidth float64
	Lookahead int
	Behind    int
	Debounce  time.Duration
}

func (o Options) calculator() viewport.Calculator {
	return viewport.Calculator{PageHeight: o.PageWidth, Lookahead: o.Lookahead, Behind: o.Behind}
}

// Viewer owns one render pipeline and the source currently shown in it.
type Viewer struct {
	resolver *source.Resolver
	decoder  document.Decoder
	pipeline *render.Pipeline
	calc     viewport.Calculator
	sched    *render.Scheduler
	log      *slog.Logger

	mu      sync.Mutex
	loadGen uint64
	src     source.RenderSource
	mode    Mode
	html    string
	offset  float64
	loadErr error
}

func NewViewer(resolver *source.Resolver, decoder document.Decoder, stats *render.Stats, opts Options, log *slog.Logger) *Viewer {
	if log == nil {
		log = slog.Default()
	}
	v := &Viewer{
		resolver: resolver,
		decoder:  decoder,
		pipeline: render.NewPipeline(opts.PageWidth, stats, log),
		calc:     opts.calculator(),
		log:      log,
		mode:     ModeNone,
	}
	v.sched = render.NewScheduler(context.Background(), opts.Debounce, func(ctx context.Context, w viewport.Window) {
		if _, err := v.pipeline.RenderWindow(ctx, w); err != nil && !errors.Is(err, render.ErrSuperseded) && !errors.Is(err, render.ErrNoDocument) {
			v.log.Warn("debounced render failed", "error", err)
		}
	})
	return v
}

// Load shows src. Loading the source already shown does not decode it again
// but still supersedes any load in flight. A decode failure leaves the
// viewer in ModeUnavailable and is returned.
func (v *Viewer) Load(ctx context.Context, src source.RenderSource) (Status, error) {
	v.mu.Lock()
	v.loadGen++
	gen := v.loadGen
	if !v.src.IsZero() && v.src.Identity() == src.Identity() && v.mode != ModeUnavailable {
		// Still the newest request: a pending load of another source must not
		// replace what is shown.
		v.mu.Unlock()
		return v.Status(), nil
	}
	v.mu.Unlock()

	data, err := v.resolver.Resolve(ctx, src)
	if err != nil {
		return v.Status(), fmt.Errorf("load preview: %w", err)
	}

	if isDOCX(src.Name(), data) {
		out, err := docxhtml.Convert(data)
		if !v.commit(gen, src, nil, out, err) {
			return v.Status(), render.ErrSuperseded
		}
		if err != nil {
			return v.Status(), &document.DecodeError{Source: src.Identity(), Err: err}
		}
		return v.Status(), nil
	}

	h, err := document.Open(v.decoder, src, data)
	if !v.commit(gen, src, h, "", err) {
		if h != nil {
			h.Close()
		}
		return v.Status(), render.ErrSuperseded
	}
	if err != nil {
		return v.Status(), err
	}
	if _, err := v.Scroll(ctx, 0); err != nil && !errors.Is(err, render.ErrSuperseded) {
		return v.Status(), err
	}
	return v.Status(), nil
}

// commit installs a finished load if no newer load started meanwhile.
func (v *Viewer) commit(gen uint64, src source.RenderSource, h *document.Handle, html string, loadErr error) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.loadGen {
		return false
	}
	v.src = src
	v.offset = 0
	v.html = ""
	v.loadErr = loadErr
	v.sched.Cancel()
	switch {
	case loadErr != nil:
		v.mode = ModeUnavailable
		v.pipeline.Reset(nil)
		v.log.Warn("no preview available", "source", src.Identity(), "error", loadErr)
	case h != nil:
		v.mode = ModePaginated
		v.pipeline.Reset(h)
		v.log.Info("document loaded", "source", src.Identity(), "pages", h.TotalPages())
	default:
		v.mode = ModeHTML
		v.html = html
		v.pipeline.Reset(nil)
		v.log.Info("document converted to html", "source", src.Identity())
	}
	return true
}

// Scroll renders the window for offset and waits for it.
func (v *Viewer) Scroll(ctx context.Context, offset float64) ([]document.Surface, error) {
	w, ok := v.window(offset)
	if !ok {
		return nil, nil
	}
	return v.pipeline.RenderWindow(ctx, w)
}

// ScrollLater records offset and renders its window after the debounce delay.
// Bursts of calls render only the last window.
func (v *Viewer) ScrollLater(offset float64) {
	if w, ok := v.window(offset); ok {
		v.sched.Schedule(w)
	}
}

func (v *Viewer) window(offset float64) (viewport.Window, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.mode != ModePaginated {
		return viewport.Window{}, false
	}
	if offset < 0 {
		offset = 0
	}
	v.offset = offset
	h := v.pipeline.Handle()
	if h == nil {
		return viewport.Window{}, false
	}
	return v.calc.Window(offset, h.TotalPages()), true
}

// Pages returns the surfaces of the current window.
func (v *Viewer) Pages() []document.Surface { return v.pipeline.Pages() }

// DocxHTML returns the converted HTML when a Word document is shown.
func (v *Viewer) DocxHTML() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.html, v.mode == ModeHTML
}

func (v *Viewer) Status() Status {
	v.mu.Lock()
	st := Status{Mode: v.mode}
	if !v.src.IsZero() {
		st.Source = v.src.Identity()
	}
	if v.loadErr != nil {
		st.Error = "no preview available: " + v.loadErr.Error()
	}
	v.mu.Unlock()

	if h := v.pipeline.Handle(); h != nil {
		st.TotalPages = h.TotalPages()
	}
	st.TotalHeight = v.pipeline.TotalHeight()
	st.Window = v.pipeline.Window()
	return st
}

func (v *Viewer) Stats() render.StatsSnapshot { return v.pipeline.Stats().Snapshot() }

// Close stops pending renders and releases the document.
func (v *Viewer) Close() {
	v.sched.Stop()
	v.mu.Lock()
	v.loadGen++
	v.src = source.RenderSource{}
	v.mode = ModeNone
	v.html = ""
	v.loadErr = nil
	v.mu.Unlock()
	v.pipeline.Reset(nil)
}

var zipMagic = []byte("PK\x03\x04")

func isDOCX(name string, data []byte) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".docx" {
		return true
	}
	return ext != ".pdf" && bytes.HasPrefix(data, zipMagic)
}
