// Package indexer defines the documents sent to the search engine and the
// client interface the crawler uses to talk to it.
package indexer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/xerrors"
)

var (
	// ErrNotFound is returned when a document does not exist in the index.
	ErrNotFound = xerrors.New("not found")

	// ErrMissingID is reported for operations without a document id.
	ErrMissingID = xerrors.New("document has no id")

	// ErrMissingDocument is reported for index operations without a body.
	ErrMissingDocument = xerrors.New("index operation has no document")
)

// Document is the unit sent to the search engine for every new or modified
// file.
type Document struct {
	ID string

	// Path is the location of the file as shown to users; VirtualPath is
	// the slash-separated path relative to the crawl root.
	Path        string
	VirtualPath string
	Filename    string
	Extension   string
	ContentType string

	// Title and Content come from the extractor. Metadata holds any other
	// attribute the extractor reported.
	Title    string
	Content  string
	Metadata map[string]string

	Size      int64
	ModTime   time.Time
	Checksum  string
	IndexedAt time.Time
}

// OpType identifies the kind of a bulk operation.
type OpType int

const (
	// OpIndex creates or replaces a document.
	OpIndex OpType = iota
	// OpDelete removes a document.
	OpDelete
)

func (t OpType) String() string {
	switch t {
	case OpIndex:
		return "index"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("OpType(%d)", int(t))
	}
}

// Operation is a single item of a bulk request.
type Operation struct {
	Type     OpType
	ID       string
	Document *Document

	// Tag is opaque to the index client and the bulk indexer; it is handed
	// back untouched with the operation's result.
	Tag interface{}
}

// opOverhead approximates the size of the action line and the JSON framing
// of an operation.
const opOverhead = 256

// EstimatedSize approximates the number of bytes the operation adds to a
// bulk request body.
func (op Operation) EstimatedSize() int {
	size := opOverhead + len(op.ID)
	if d := op.Document; d != nil {
		size += len(d.Content) + len(d.Title) + len(d.Path) + len(d.VirtualPath) + len(d.Filename)
		for k, v := range d.Metadata {
			size += len(k) + len(v) + 8
		}
	}
	return size
}

// ItemError describes why the search engine rejected a single item.
type ItemError struct {
	Status int
	Type   string
	Reason string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("status %d: %s: %s", e.Status, e.Type, e.Reason)
}

// ItemResult is the outcome of one operation of a bulk request. A nil Err
// means the engine confirmed the operation.
type ItemResult struct {
	ID  string
	Err error
}

//go:generate mockgen -package mocks -destination mocks/mock.go github.com/Ahmed-Sermani/fscrawler/indexer Client

// Client is implemented by search engine clients. Implementations must be
// safe for concurrent use.
type Client interface {
	// Bulk submits ops in one request. On success the returned slice has
	// one entry per operation, in order. A non-nil error means the request
	// as a whole failed and no operation may be assumed applied.
	Bulk(ctx context.Context, ops []Operation) ([]ItemResult, error)

	// Exists reports whether a document with the given id is indexed.
	Exists(ctx context.Context, id string) (bool, error)

	// Get returns the indexed document with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)
}

// QueryType describes the types of queries supported by the indexer
// implementations.
type QueryType uint8

const (
	// QueryTypeMatch requests the indexer to match any of the terms.
	QueryTypeMatch QueryType = iota
	// QueryTypePhrase searches for an exact phrase match.
	QueryTypePhrase
)

// Query encapsulates a set of parameters to use when searching indexed
// documents.
type Query struct {
	Type   QueryType
	Expr   string
	Offset uint64
}

// Iterator is implemented by objects that can paginate search results.
type Iterator interface {
	Close() error
	Next() bool
	Error() error
	Document() *Document
	TotalCount() uint64
}

// Searcher is implemented by clients that can also run full-text queries.
// The crawler never searches; the CLI does.
type Searcher interface {
	Search(ctx context.Context, q Query) (Iterator, error)
}
