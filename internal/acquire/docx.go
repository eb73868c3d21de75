package acquire

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// defaultMaxInflated caps the decompressed size of word/document.xml.
const defaultMaxInflated = 64 << 20

var errDocumentTooLarge = errors.New("docx: word/document.xml exceeds the inflated size limit")

// extractDOCX returns the text of every body paragraph in word/document.xml,
// one paragraph per line. Tabs and explicit breaks inside a paragraph are
// kept as "\t" and "\n". The document part may inflate to at most limit
// bytes.
func extractDOCX(data []byte, limit int64) (Text, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Text{}, fmt.Errorf("docx: open archive: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return Text{}, errors.New("docx: word/document.xml not found")
	}

	if doc.UncompressedSize64 > uint64(limit) {
		return Text{}, errDocumentTooLarge
	}

	rc, err := doc.Open()
	if err != nil {
		return Text{}, fmt.Errorf("docx: open document: %w", err)
	}
	defer rc.Close()

	// The header size is attacker-controlled; bound the stream as well.
	lr := &io.LimitedReader{R: rc, N: limit + 1}
	paragraphs, err := paragraphs(lr)
	if lr.N <= 0 {
		return Text{}, errDocumentTooLarge
	}
	if err != nil {
		return Text{}, fmt.Errorf("docx: %w", err)
	}
	return Text{Content: strings.Join(paragraphs, "\n")}, nil
}

// paragraphs streams the WordprocessingML tokens and collects <w:p> text.
func paragraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    []string
		cur    strings.Builder
		inPara int
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "p":
				if inPara == 0 {
					cur.Reset()
				}
				inPara++
			case "t":
				inText = true
			case "tab":
				if inPara > 0 {
					cur.WriteByte('\t')
				}
			case "br", "cr":
				if inPara > 0 {
					cur.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				inPara--
				if inPara == 0 {
					out = append(out, cur.String())
				}
			}
		case xml.CharData:
			if inText && inPara > 0 {
				cur.Write(t)
			}
		}
	}
	return out, nil
}
