package memory

import (
	"github.com/Ahmed-Sermani/fscrawler/indexer"
	"github.com/blevesearch/bleve"
)

// bleveIterator pages through the results of a bleve search request.
type bleveIterator struct {
	idx       *InMemoryIndexer
	searchReq *bleve.SearchRequest

	cumIdx uint64
	resIdx int
	res    *bleve.SearchResult

	latchedDoc *indexer.Document
	lastErr    error
}

func (it *bleveIterator) Next() bool {
	if it.lastErr != nil || it.res == nil || it.cumIdx >= it.res.Total {
		return false
	}

	// Fetch the next page once the current one is exhausted.
	if it.resIdx >= it.res.Hits.Len() {
		it.searchReq.From += it.searchReq.Size
		it.idx.mu.RLock()
		it.res, it.lastErr = it.idx.idx.Search(it.searchReq)
		it.idx.mu.RUnlock()
		if it.lastErr != nil {
			return false
		}
		if it.res.Hits.Len() == 0 {
			return false
		}
		it.resIdx = 0
	}

	nextID := it.res.Hits[it.resIdx].ID
	if it.latchedDoc, it.lastErr = it.idx.findByID(nextID); it.lastErr != nil {
		return false
	}

	it.cumIdx++
	it.resIdx++
	return true
}

func (it *bleveIterator) Close() error {
	it.idx = nil
	it.searchReq = nil
	if it.res != nil {
		it.cumIdx = it.res.Total
	}
	return nil
}

func (it *bleveIterator) Document() *indexer.Document { return it.latchedDoc }

func (it *bleveIterator) Error() error { return it.lastErr }

func (it *bleveIterator) TotalCount() uint64 {
	if it.res == nil {
		return 0
	}
	return it.res.Total
}
