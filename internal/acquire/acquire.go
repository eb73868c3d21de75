// Package acquire turns user input (typed text or an uploaded .txt, .pdf or
// .docx file) into plain text for the narration pipeline. It performs no
// network I/O.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for uploads that are not .txt, .pdf or .docx.
	ErrUnsupportedFormat = errors.New("acquire: unsupported file format")

	// ErrParse is wrapped when a file could not be decoded.
	ErrParse = errors.New("acquire: parse failure")

	// ErrNoSource is returned when neither text nor a file was supplied.
	ErrNoSource = errors.New("acquire: no input supplied")
)

// Format identifies where acquired text came from.
type Format string

const (
	FormatTyped Format = "typed"
	FormatTXT   Format = "txt"
	FormatPDF   Format = "pdf"
	FormatDOCX  Format = "docx"
)

// File is an uploaded document.
type File struct {
	Name string
	Data []byte
}

// Source is exactly one of typed text or an uploaded file. When both are
// set the file wins.
type Source struct {
	Text string
	File *File
}

// Text is the acquisition result.
type Text struct {
	// Content is the extracted plain text.
	Content string

	// Format is the detected input format.
	Format Format

	// Warnings are non-fatal extraction notices (e.g. empty PDF pages).
	Warnings []string
}

// Empty reports whether Content has no non-whitespace characters.
func (t Text) Empty() bool {
	return strings.TrimSpace(t.Content) == ""
}

// Acquirer extracts text from a Source.
type Acquirer struct {
	maxBytes    int64
	maxInflated int64
}

// Option is a functional option for Acquirer.
type Option func(*Acquirer)

// WithMaxBytes rejects uploads larger than n bytes. Zero disables the limit.
func WithMaxBytes(n int64) Option {
	return func(a *Acquirer) {
		a.maxBytes = n
	}
}

// New creates an Acquirer.
func New(opts ...Option) *Acquirer {
	a := &Acquirer{maxInflated: defaultMaxInflated}
	for _, o := range opts {
		o(a)
	}
	return a
}

// DetectFormat maps a file name to its Format by extension.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return FormatTXT, nil
	case ".pdf":
		return FormatPDF, nil
	case ".docx":
		return FormatDOCX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// Acquire extracts text from src. Parse failures wrap ErrParse and leave the
// returned Text empty.
func (a *Acquirer) Acquire(ctx context.Context, src Source) (Text, error) {
	if src.File == nil {
		if src.Text == "" {
			return Text{}, ErrNoSource
		}
		return Text{Content: src.Text, Format: FormatTyped}, nil
	}

	f := src.File
	format, err := DetectFormat(f.Name)
	if err != nil {
		return Text{}, err
	}
	if a.maxBytes > 0 && int64(len(f.Data)) > a.maxBytes {
		return Text{}, fmt.Errorf("acquire: %q exceeds %d bytes", f.Name, a.maxBytes)
	}

	var out Text
	switch format {
	case FormatTXT:
		out, err = Text{Content: decodePlainText(f.Data)}, nil
	case FormatPDF:
		out, err = extractPDF(f.Data)
	case FormatDOCX:
		out, err = extractDOCX(f.Data, a.maxInflated)
	}
	if err != nil {
		slog.WarnContext(ctx, "text acquisition failed", "file", f.Name, "format", format, "err", err)
		return Text{Format: format}, fmt.Errorf("%w: %s: %v", ErrParse, f.Name, err)
	}
	out.Format = format
	for _, w := range out.Warnings {
		slog.WarnContext(ctx, "text acquisition warning", "file", f.Name, "warning", w)
	}
	return out, nil
}
