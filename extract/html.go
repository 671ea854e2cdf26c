package extract

import (
	"bytes"
	"context"
	"io"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/xerrors"
)

var repeatedSpaceRegex = regexp.MustCompile(`\s+`)

// markupFactor bounds how many bytes of markup are read per character of
// limited content.
const markupFactor = 8

// HTML extracts the title, meta tags and visible text of HTML documents.
type HTML struct {
	limit int

	// bluemonday policies are not safe for concurrent use.
	policyPool sync.Pool
}

// NewHTML returns an HTML extractor that truncates content to limit
// characters when limit is positive.
func NewHTML(limit int) *HTML {
	return &HTML{
		limit: limit,
		policyPool: sync.Pool{
			New: func() interface{} {
				return bluemonday.StrictPolicy()
			},
		},
	}
}

// Extract implements Extractor.
func (h *HTML) Extract(ctx context.Context, r io.Reader, pathHint string) (*Result, error) {
	raw, err := io.ReadAll(boundedReader(ctx, r, int64(h.limit)*utf8.UTFMax*markupFactor))
	if err != nil {
		return nil, xerrors.Errorf("extract %s: %w", pathHint, err)
	}

	res := &Result{
		ContentType: "text/html; charset=utf-8",
		Metadata:    make(map[string]string),
	}
	if err := scanHead(raw, res); err != nil {
		return nil, xerrors.Errorf("extract %s: %w", pathHint, err)
	}

	policy := h.policyPool.Get().(*bluemonday.Policy)
	// Script and style bodies are not visible text.
	body := policy.SanitizeBytes(stripElements(raw))
	h.policyPool.Put(policy)

	content := html.UnescapeString(string(body))
	content = strings.TrimSpace(repeatedSpaceRegex.ReplaceAllString(content, " "))
	res.Content = truncate(content, h.limit)
	return res, nil
}

// scanHead collects the document title and named meta tags.
func scanHead(raw []byte, res *Result) error {
	z := html.NewTokenizer(bytes.NewReader(raw))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return nil
			}
			return z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Title:
				inTitle = res.Title == ""
			case atom.Meta:
				var name, content string
				for _, attr := range tok.Attr {
					switch strings.ToLower(attr.Key) {
					case "name", "property":
						name = strings.ToLower(attr.Val)
					case "content":
						content = attr.Val
					}
				}
				if name != "" {
					res.Metadata[name] = content
				}
			case atom.Body:
				return nil
			}
		case html.TextToken:
			if inTitle {
				res.Title = strings.TrimSpace(repeatedSpaceRegex.ReplaceAllString(string(z.Text()), " "))
			}
		case html.EndTagToken:
			if tok := z.Token(); tok.DataAtom == atom.Title {
				inTitle = false
			}
		}
	}
}

// stripElements drops script, style and head elements together with their
// bodies. Anything that fails to parse is returned unchanged.
func stripElements(raw []byte) []byte {
	var out bytes.Buffer
	z := html.NewTokenizer(bytes.NewReader(raw))
	skip := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				return raw
			}
			return out.Bytes()
		}
		name, _ := z.TagName()
		a := atom.Lookup(name)
		hidden := a == atom.Script || a == atom.Style || a == atom.Head
		switch {
		case tt == html.StartTagToken && hidden:
			skip++
			continue
		case tt == html.EndTagToken && hidden:
			if skip > 0 {
				skip--
			}
			continue
		}
		if skip > 0 {
			continue
		}
		out.Write(z.Raw())
		// Keep words of adjacent block elements apart.
		if tt == html.StartTagToken || tt == html.EndTagToken || tt == html.SelfClosingTagToken {
			out.WriteByte(' ')
		}
	}
}
