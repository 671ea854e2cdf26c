package es

import (
	"context"

	"github.com/Ahmed-Sermani/fscrawler/indexer"
)

type esIterator struct {
	idx       *ESIndexer
	ctx       context.Context
	searchReq *esQuery

	cumIdx uint64
	rsIdx  int
	rs     *esSearchRes

	latchedDoc *indexer.Document
	lastErr    error
}

func (it *esIterator) Close() error {
	it.idx = nil
	it.searchReq = nil
	it.cumIdx = it.rs.Hits.Total.Count
	return nil
}

func (it *esIterator) Next() bool {
	if it.lastErr != nil || it.rs == nil || it.cumIdx >= it.rs.Hits.Total.Count {
		return false
	}

	// Do we need to fetch the next batch?
	if it.rsIdx >= len(it.rs.Hits.HitList) {
		it.searchReq.From += batchSize
		if it.rs, it.lastErr = it.idx.doSearch(it.ctx, it.searchReq); it.lastErr != nil {
			return false
		}
		if len(it.rs.Hits.HitList) == 0 {
			return false
		}
		it.rsIdx = 0
	}
	hit := it.rs.Hits.HitList[it.rsIdx]
	it.latchedDoc = mapESDoc(hit.ID, hit.DocSource)
	it.cumIdx++
	it.rsIdx++
	return true
}

func (it *esIterator) Error() error {
	return it.lastErr
}

func (it *esIterator) Document() *indexer.Document {
	return it.latchedDoc
}

func (it *esIterator) TotalCount() uint64 {
	return it.rs.Hits.Total.Count
}
