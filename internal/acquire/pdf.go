package acquire

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF returns the plain text of every page joined by newlines. Pages
// without extractable text contribute an empty line and a warning.
func extractPDF(data []byte) (out Text, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			out, err = Text{}, fmt.Errorf("pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Text{}, fmt.Errorf("pdf: open: %w", err)
	}

	n := r.NumPage()
	pages := make([]string, 0, n)
	var warnings []string
	for i := 1; i <= n; i++ {
		txt, err := pageText(r.Page(i))
		if err != nil || strings.TrimSpace(txt) == "" {
			// Blank pages have no content stream at all.
			warnings = append(warnings, fmt.Sprintf("page %d has no extractable text", i))
			txt = ""
		}
		pages = append(pages, txt)
	}
	return Text{Content: strings.Join(pages, "\n"), Warnings: warnings}, nil
}

func pageText(p pdf.Page) (txt string, err error) {
	defer func() {
		if r := recover(); r != nil {
			txt, err = "", fmt.Errorf("pdf: %v", r)
		}
	}()
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}
