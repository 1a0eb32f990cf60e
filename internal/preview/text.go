package preview

import (
	"bytes"
	"html"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// TextHTML renders review document text for display. Markdown files are
// converted; anything else is shown as numbered lines so suggestion
// positions can be located.
func TextHTML(fileName, text string) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == ".md" || ext == ".markdown" {
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(text), &buf); err != nil {
			return "", err
		}
		return buf.String(), nil
	}

	var b strings.Builder
	b.WriteString(`<div class="document-text">`)
	for i, line := range strings.Split(text, "\n") {
		b.WriteString(`<div class="line" id="line-`)
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(`">`)
		b.WriteString(html.EscapeString(strings.TrimRight(line, "\r")))
		b.WriteString("</div>")
	}
	b.WriteString("</div>")
	return b.String(), nil
}
