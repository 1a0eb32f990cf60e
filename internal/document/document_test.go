package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dgallion1/docview/internal/source"
)

type stubDoc struct {
	pages  int
	closed int
}

func (d *stubDoc) NumPages() int { return d.pages }

func (d *stubDoc) Page(i int) Page { return stubPage(i) }

func (d *stubDoc) Close() error {
	d.closed++
	return nil
}

type stubPage int

func (p stubPage) Render(_ context.Context, width float64) (Surface, error) {
	return Surface{Page: int(p), Width: width, Height: width, Scale: 1}, nil
}

type stubDecoder struct {
	doc *stubDoc
	err error
}

func (d stubDecoder) Decode([]byte) (Document, error) { return d.doc, d.err }

func TestHandlePageRange(t *testing.T) {
	h, err := Open(stubDecoder{doc: &stubDoc{pages: 3}}, source.Remote("x"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if h.TotalPages() != 3 {
		t.Fatalf("expected 3 pages, got %d", h.TotalPages())
	}
	for _, i := range []int{0, -1, 4} {
		_, err := h.Page(i)
		var re *RangeError
		if !errors.As(err, &re) {
			t.Errorf("page %d: expected RangeError, got %v", i, err)
		}
	}
	if _, err := h.Page(3); err != nil {
		t.Errorf("page 3: %v", err)
	}
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	doc := &stubDoc{pages: 1}
	h, err := Open(stubDecoder{doc: doc}, source.Remote("x"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h.Close()
	h.Close()
	if doc.closed != 1 {
		t.Errorf("expected one close, got %d", doc.closed)
	}
	if _, err := h.Page(1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestOpenWrapsDecodeFailure(t *testing.T) {
	_, err := Open(stubDecoder{err: errors.New("bad")}, source.Blob("a", []byte("z")), nil)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if !strings.HasPrefix(de.Source, "blob:") {
		t.Errorf("expected blob identity in error, got %q", de.Source)
	}
}

func TestPDFDecoderRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{
		[]byte("hello world"),
		[]byte("%PDF-1.4\ntruncated"),
		nil,
	} {
		_, err := Open(PDFDecoder{}, source.Blob("bad.pdf", data), data)
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("%q: expected DecodeError, got %v", data, err)
		}
	}
}

func TestPDFDecoderPagesAndMediaBox(t *testing.T) {
	data := buildPDF([]testPage{
		{text: "Hello"},
		{text: "Second", mediaBox: "[0 0 300 400]"},
	})
	h, err := Open(PDFDecoder{}, source.Blob("t.pdf", data), data)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	if h.TotalPages() != 2 {
		t.Fatalf("expected 2 pages, got %d", h.TotalPages())
	}

	p1, _ := h.Page(1)
	s1, err := p1.Render(context.Background(), 1224)
	if err != nil {
		t.Fatalf("render page 1: %v", err)
	}
	// Inherited US Letter box from the Pages node, scaled 2x.
	if s1.Scale != 2 || s1.Height != 1584 || s1.Width != 1224 {
		t.Errorf("unexpected page 1 surface: %+v", s1)
	}
	if !strings.Contains(strings.Join(s1.Lines, " "), "Hello") {
		t.Errorf("expected page 1 text, got %q", s1.Lines)
	}

	p2, _ := h.Page(2)
	s2, err := p2.Render(context.Background(), 600)
	if err != nil {
		t.Fatalf("render page 2: %v", err)
	}
	if s2.Scale != 2 || s2.Height != 800 {
		t.Errorf("unexpected page 2 surface: %+v", s2)
	}
}

func TestPDFRenderHonorsCancel(t *testing.T) {
	data := buildPDF([]testPage{{text: "x"}})
	h, err := Open(PDFDecoder{}, source.Blob("t.pdf", data), data)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, _ := h.Page(1)
	if _, err := p.Render(ctx, 100); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type testPage struct {
	text     string
	mediaBox string
}

// buildPDF writes a minimal PDF with a correct cross-reference table.
func buildPDF(pages []testPage) []byte {
	var objs []string
	// 1: catalog, 2: pages, 3: font, then page/content pairs.
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, p := range pages {
		box := ""
		if p.mediaBox != "" {
			box = " /MediaBox " + p.mediaBox
		}
		objs = append(objs, fmt.Sprintf("<< /Type /Page /Parent 2 0 R%s /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", box, 5+2*i))
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", p.text)
		objs = append(objs, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}
