// Package docxhtml converts Word documents to an HTML fragment for
// non-paginated preview.
package docxhtml

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fumiama/go-docx"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var headingAtoms = [...]atom.Atom{atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6}

// Convert parses DOCX bytes and renders headings and paragraphs inside a
// single <div class="docx-preview">.
func Convert(data []byte) (out string, err error) {
	if len(data) == 0 {
		return "", fmt.Errorf("parse docx: empty input")
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("parse docx: %v", r)
		}
	}()
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}

	root := element(atom.Div)
	root.Attr = []html.Attribute{{Key: "class", Val: "docx-preview"}}
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		text := paragraphText(para)
		if text == "" {
			continue
		}
		tag := atom.P
		if level := headingLevel(para); level > 0 {
			tag = headingAtoms[level-1]
		}
		n := element(tag)
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		root.AppendChild(n)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

func element(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}

// headingLevel maps "Heading1".."Heading6" and "heading 1".."heading 6"
// styles to 1..6; "Title" counts as level 1.
func headingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if style == "title" {
		return 1
	}
	if !strings.HasPrefix(style, "heading") || len(style) != len("heading")+1 {
		return 0
	}
	level := int(style[len(style)-1] - '0')
	if level < 1 || level > 6 {
		return 0
	}
	return level
}

func paragraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
