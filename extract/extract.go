// Package extract turns raw file contents into indexable text.
package extract

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"unicode/utf8"

	"golang.org/x/xerrors"
)

// ErrUnsupported is returned by extractors that cannot handle a file's
// content type.
var ErrUnsupported = xerrors.New("unsupported content type")

// Result holds the text and metadata extracted from a file.
type Result struct {
	Title       string
	Content     string
	ContentType string
	Metadata    map[string]string
}

// Extractor is implemented by objects that can extract text from a file.
// pathHint is the file's path and may be used to guess its type.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader, pathHint string) (*Result, error)
}

// ExtractorFunc is an adapter to allow the use of plain functions as
// Extractor instances.
type ExtractorFunc func(context.Context, io.Reader, string) (*Result, error)

// Extract calls f(ctx, r, pathHint).
func (f ExtractorFunc) Extract(ctx context.Context, r io.Reader, pathHint string) (*Result, error) {
	return f(ctx, r, pathHint)
}

// sniffLen is the number of bytes http.DetectContentType looks at.
const sniffLen = 512

var textExtensions = []string{
	".txt", ".text", ".md", ".markdown", ".rst", ".csv", ".tsv", ".log",
	".json", ".xml", ".yaml", ".yml", ".toml", ".ini", ".conf", ".go",
}

var htmlExtensions = []string{".html", ".htm", ".xhtml"}

// Mux dispatches to an extractor by file extension and falls back to
// content sniffing for unknown extensions.
type Mux struct {
	byExt map[string]Extractor
	text  Extractor
	html  Extractor
}

// NewMux returns a Mux that handles plain text and HTML files. Extracted
// content is truncated to limit characters when limit is positive.
func NewMux(limit int) *Mux {
	m := &Mux{
		byExt: make(map[string]Extractor),
		text:  &Text{Limit: limit},
		html:  NewHTML(limit),
	}
	for _, ext := range textExtensions {
		m.byExt[ext] = m.text
	}
	for _, ext := range htmlExtensions {
		m.byExt[ext] = m.html
	}
	return m
}

// Handle registers ex for files with the given extension, replacing any
// previous registration.
func (m *Mux) Handle(ext string, ex Extractor) {
	m.byExt[strings.ToLower(ext)] = ex
}

// Extract implements Extractor.
func (m *Mux) Extract(ctx context.Context, r io.Reader, pathHint string) (*Result, error) {
	if ex, found := m.byExt[strings.ToLower(path.Ext(pathHint))]; found {
		return ex.Extract(ctx, r, pathHint)
	}

	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, xerrors.Errorf("extract %s: %w", pathHint, err)
	}
	contentType := http.DetectContentType(head)
	switch {
	case strings.HasPrefix(contentType, "text/html"):
		return m.html.Extract(ctx, br, pathHint)
	case strings.HasPrefix(contentType, "text/"):
		return m.text.Extract(ctx, br, pathHint)
	default:
		return nil, xerrors.Errorf("extract %s (%s): %w", pathHint, contentType, ErrUnsupported)
	}
}

// Text extracts UTF-8 plain text.
type Text struct {
	// Limit truncates the content to the given number of characters when
	// positive.
	Limit int
}

// Extract implements Extractor.
func (t *Text) Extract(ctx context.Context, r io.Reader, pathHint string) (*Result, error) {
	data, err := io.ReadAll(boundedReader(ctx, r, int64(t.Limit)*utf8.UTFMax))
	if err != nil {
		return nil, xerrors.Errorf("extract %s: %w", pathHint, err)
	}
	// A bounded read may end inside a rune past the limit.
	content := truncate(string(data), t.Limit)
	if !utf8.ValidString(content) {
		return nil, xerrors.Errorf("extract %s: invalid utf-8: %w", pathHint, ErrUnsupported)
	}
	return &Result{
		Content:     content,
		ContentType: http.DetectContentType(data),
	}, nil
}

// boundedReader reads at most n bytes from r when n is positive and fails
// once ctx is done.
func boundedReader(ctx context.Context, r io.Reader, n int64) io.Reader {
	var br io.Reader = &ctxReader{ctx: ctx, r: r}
	if n > 0 {
		br = io.LimitReader(br, n)
	}
	return br
}

// ctxReader fails reads once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
