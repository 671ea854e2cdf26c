// Package memory provides an indexer.Client that keeps documents in process
// memory and uses bleve for full-text search.
package memory

import (
	"context"
	"sync"

	"github.com/Ahmed-Sermani/fscrawler/indexer"
	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/search/query"
	"golang.org/x/xerrors"
)

var (
	_ indexer.Client   = (*InMemoryIndexer)(nil)
	_ indexer.Searcher = (*InMemoryIndexer)(nil)
)

// The size of each page of results that is cached locally by the iterator.
const batchSize = 10

// InMemoryIndexer is an indexer.Client backed by a bleve in-memory index. It
// is safe for concurrent use.
type InMemoryIndexer struct {
	mu        sync.RWMutex
	documents map[string]*indexer.Document

	idx bleve.Index
}

// bleveDoc holds the searchable attributes of a document.
type bleveDoc struct {
	Title    string
	Content  string
	Filename string
	Path     string
}

// NewInMemoryBleveIndexer creates an empty in-memory index.
func NewInMemoryBleveIndexer() (*InMemoryIndexer, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, err
	}
	return &InMemoryIndexer{
		idx:       idx,
		documents: make(map[string]*indexer.Document),
	}, nil
}

// Close releases the bleve index.
func (i *InMemoryIndexer) Close() error {
	return i.idx.Close()
}

// Bulk applies ops as a single bleve batch. Invalid operations are rejected
// individually; the valid ones are applied together.
func (i *InMemoryIndexer) Bulk(ctx context.Context, ops []indexer.Operation) ([]indexer.ItemResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("bulk: %w", err)
	}

	results := make([]indexer.ItemResult, len(ops))
	batch := i.idx.NewBatch()
	for n, op := range ops {
		results[n].ID = op.ID
		switch {
		case op.ID == "":
			results[n].Err = xerrors.Errorf("bulk item %d: %w", n, indexer.ErrMissingID)
		case op.Type == indexer.OpIndex && op.Document == nil:
			results[n].Err = xerrors.Errorf("bulk item %d: %w", n, indexer.ErrMissingDocument)
		case op.Type == indexer.OpIndex:
			if err := batch.Index(op.ID, makeBleveDoc(op.Document)); err != nil {
				results[n].Err = xerrors.Errorf("bulk item %d: %w", n, err)
			}
		case op.Type == indexer.OpDelete:
			batch.Delete(op.ID)
		default:
			results[n].Err = xerrors.Errorf("bulk item %d: unsupported operation %s", n, op.Type)
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.idx.Batch(batch); err != nil {
		return nil, xerrors.Errorf("bulk: %w", err)
	}
	for n, op := range ops {
		if results[n].Err != nil {
			continue
		}
		switch op.Type {
		case indexer.OpIndex:
			dcopy := cpDoc(op.Document)
			dcopy.ID = op.ID
			i.documents[op.ID] = dcopy
		case indexer.OpDelete:
			delete(i.documents, op.ID)
		}
	}
	return results, nil
}

func (i *InMemoryIndexer) Exists(_ context.Context, id string) (bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, found := i.documents[id]
	return found, nil
}

func (i *InMemoryIndexer) Get(_ context.Context, id string) (*indexer.Document, error) {
	return i.findByID(id)
}

// Count returns the number of indexed documents.
func (i *InMemoryIndexer) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.documents)
}

// IDs returns the ids of all indexed documents.
func (i *InMemoryIndexer) IDs() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ids := make([]string, 0, len(i.documents))
	for id := range i.documents {
		ids = append(ids, id)
	}
	return ids
}

func (i *InMemoryIndexer) Search(_ context.Context, sq indexer.Query) (indexer.Iterator, error) {
	var q query.Query
	switch sq.Type {
	case indexer.QueryTypePhrase:
		phrase := bleve.NewMatchPhraseQuery(sq.Expr)
		phrase.SetField("Content")
		q = phrase
	default:
		q = bleve.NewMatchQuery(sq.Expr)
	}

	searchReq := bleve.NewSearchRequest(q)
	searchReq.SortBy([]string{"-_score", "_id"})
	searchReq.Size = batchSize
	searchReq.From = int(sq.Offset)

	i.mu.RLock()
	res, err := i.idx.Search(searchReq)
	i.mu.RUnlock()
	if err != nil {
		return nil, xerrors.Errorf("search: %w", err)
	}
	return &bleveIterator{idx: i, searchReq: searchReq, res: res, cumIdx: sq.Offset}, nil
}

func (i *InMemoryIndexer) findByID(id string) (*indexer.Document, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if d, found := i.documents[id]; found {
		return cpDoc(d), nil
	}
	return nil, xerrors.Errorf("find by id %q: %w", id, indexer.ErrNotFound)
}

func cpDoc(d *indexer.Document) *indexer.Document {
	dcopy := new(indexer.Document)
	*dcopy = *d
	if d.Metadata != nil {
		dcopy.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			dcopy.Metadata[k] = v
		}
	}
	return dcopy
}

func makeBleveDoc(d *indexer.Document) bleveDoc {
	return bleveDoc{
		Title:    d.Title,
		Content:  d.Content,
		Filename: d.Filename,
		Path:     d.VirtualPath,
	}
}
