package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pdflib "github.com/ledongthuc/pdf"
)

// US Letter in PDF points, used when no MediaBox is found.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// PDFDecoder decodes PDF bytes with ledongthuc/pdf.
type PDFDecoder struct{}

func (PDFDecoder) Decode(data []byte) (doc Document, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("%PDF")) {
		return nil, errors.New("missing %PDF header")
	}
	// The library panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &pdfDocument{reader: reader, pages: reader.NumPage()}, nil
}

type pdfDocument struct {
	// pdflib.Reader is not safe for concurrent use.
	mu     sync.Mutex
	reader *pdflib.Reader
	pages  int
}

func (d *pdfDocument) NumPages() int { return d.pages }

func (d *pdfDocument) Page(i int) Page { return &pdfPage{doc: d, num: i} }

func (d *pdfDocument) Close() error {
	d.mu.Lock()
	d.reader = nil
	d.mu.Unlock()
	return nil
}

type pdfPage struct {
	doc *pdfDocument
	num int
}

func (p *pdfPage) Render(ctx context.Context, width float64) (s Surface, err error) {
	if err := ctx.Err(); err != nil {
		return Surface{}, err
	}
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	if p.doc.reader == nil {
		return Surface{}, ErrClosed
	}
	defer func() {
		if r := recover(); r != nil {
			s, err = Surface{}, fmt.Errorf("render page %d: %v", p.num, r)
		}
	}()

	page := p.doc.reader.Page(p.num)
	if page.V.IsNull() {
		return Surface{}, fmt.Errorf("page %d: missing page object", p.num)
	}

	w, h := mediaBox(page.V)
	scale := width / w
	lines, err := pageLines(page)
	if err != nil {
		return Surface{}, fmt.Errorf("page %d text: %w", p.num, err)
	}
	if err := ctx.Err(); err != nil {
		return Surface{}, err
	}
	return Surface{
		Page:   p.num,
		Width:  width,
		Height: h * scale,
		Scale:  scale,
		Lines:  lines,
	}, nil
}

// mediaBox walks up the page tree until a MediaBox is found.
func mediaBox(v pdflib.Value) (width, height float64) {
	for depth := 0; !v.IsNull() && depth < 32; depth++ {
		box := v.Key("MediaBox")
		if box.Len() == 4 {
			w := box.Index(2).Float64() - box.Index(0).Float64()
			h := box.Index(3).Float64() - box.Index(1).Float64()
			if w < 0 {
				w = -w
			}
			if h < 0 {
				h = -h
			}
			if w > 0 && h > 0 {
				return w, h
			}
		}
		v = v.Key("Parent")
	}
	return defaultPageWidth, defaultPageHeight
}

func pageLines(page pdflib.Page) ([]string, error) {
	rows, err := page.GetTextByRow()
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		var b strings.Builder
		for _, t := range row.Content {
			b.WriteString(t.S)
		}
		if line := strings.TrimSpace(b.String()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
