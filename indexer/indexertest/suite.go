// Package indexertest provides a test suite shared by all indexer.Client
// implementations.
package indexertest

import (
	"context"
	"fmt"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/indexer"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

// Index is implemented by the clients under test.
type Index interface {
	indexer.Client
	indexer.Searcher
}

// SuiteBase defines a re-usable set of index-related tests that can be
// executed against any type that implements Index.
type SuiteBase struct {
	idx Index
}

// SetIndexer configures the test-suite to run all tests against idx.
func (s *SuiteBase) SetIndexer(idx Index) {
	s.idx = idx
}

func doc(id, content string) *indexer.Document {
	return &indexer.Document{
		ID:          id,
		Path:        "/data/" + id,
		VirtualPath: id,
		Filename:    id,
		Extension:   "txt",
		ContentType: "text/plain; charset=utf-8",
		Content:     content,
		Size:        int64(len(content)),
		ModTime:     time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC),
		IndexedAt:   time.Date(2022, 7, 2, 0, 0, 0, 0, time.UTC),
	}
}

// TestBulkIndexAndGet verifies that indexed documents can be fetched back.
func (s *SuiteBase) TestBulkIndexAndGet(c *gc.C) {
	ops := []indexer.Operation{
		{Type: indexer.OpIndex, ID: "id1.txt", Document: doc("id1.txt", "first document")},
		{Type: indexer.OpIndex, ID: "id2.txt", Document: doc("id2.txt", "second document")},
	}
	res, err := s.idx.Bulk(context.TODO(), ops)
	c.Assert(err, gc.IsNil)
	c.Assert(res, gc.HasLen, 2)
	for i, r := range res {
		c.Assert(r.Err, gc.IsNil, gc.Commentf("item %d", i))
		c.Assert(r.ID, gc.Equals, ops[i].ID)
	}

	got, err := s.idx.Get(context.TODO(), "id2.txt")
	c.Assert(err, gc.IsNil)
	c.Assert(got.Content, gc.Equals, "second document")
	c.Assert(got.VirtualPath, gc.Equals, "id2.txt")
	c.Assert(got.Size, gc.Equals, int64(len("second document")))
	c.Assert(got.ModTime.Equal(ops[1].Document.ModTime), gc.Equals, true)
}

// TestReindexReplacesDocument verifies upsert semantics.
func (s *SuiteBase) TestReindexReplacesDocument(c *gc.C) {
	_, err := s.idx.Bulk(context.TODO(), []indexer.Operation{
		{Type: indexer.OpIndex, ID: "a", Document: doc("a", "old content")},
	})
	c.Assert(err, gc.IsNil)
	res, err := s.idx.Bulk(context.TODO(), []indexer.Operation{
		{Type: indexer.OpIndex, ID: "a", Document: doc("a", "new content")},
	})
	c.Assert(err, gc.IsNil)
	c.Assert(res[0].Err, gc.IsNil)

	got, err := s.idx.Get(context.TODO(), "a")
	c.Assert(err, gc.IsNil)
	c.Assert(got.Content, gc.Equals, "new content")
}

// TestBulkDelete verifies that deletes are applied and that deleting an
// unknown document is reported as confirmed.
func (s *SuiteBase) TestBulkDelete(c *gc.C) {
	_, err := s.idx.Bulk(context.TODO(), []indexer.Operation{
		{Type: indexer.OpIndex, ID: "gone", Document: doc("gone", "bye")},
		{Type: indexer.OpIndex, ID: "kept", Document: doc("kept", "hi")},
	})
	c.Assert(err, gc.IsNil)

	res, err := s.idx.Bulk(context.TODO(), []indexer.Operation{
		{Type: indexer.OpDelete, ID: "gone"},
		{Type: indexer.OpDelete, ID: "never-existed"},
	})
	c.Assert(err, gc.IsNil)
	c.Assert(res[0].Err, gc.IsNil)
	c.Assert(res[1].Err, gc.IsNil)

	exists, err := s.idx.Exists(context.TODO(), "gone")
	c.Assert(err, gc.IsNil)
	c.Assert(exists, gc.Equals, false)
	exists, err = s.idx.Exists(context.TODO(), "kept")
	c.Assert(err, gc.IsNil)
	c.Assert(exists, gc.Equals, true)

	_, err = s.idx.Get(context.TODO(), "gone")
	c.Assert(xerrors.Is(err, indexer.ErrNotFound), gc.Equals, true)
}

// TestInvalidItemsFailIndividually verifies that a malformed operation is
// rejected without failing the rest of the request.
func (s *SuiteBase) TestInvalidItemsFailIndividually(c *gc.C) {
	res, err := s.idx.Bulk(context.TODO(), []indexer.Operation{
		{Type: indexer.OpIndex, ID: "", Document: doc("", "no id")},
		{Type: indexer.OpIndex, ID: "ok", Document: doc("ok", "fine")},
		{Type: indexer.OpIndex, ID: "nodoc"},
	})
	c.Assert(err, gc.IsNil)
	c.Assert(res, gc.HasLen, 3)
	c.Assert(xerrors.Is(res[0].Err, indexer.ErrMissingID), gc.Equals, true)
	c.Assert(res[1].Err, gc.IsNil)
	c.Assert(xerrors.Is(res[2].Err, indexer.ErrMissingDocument), gc.Equals, true)
}

// TestSearch verifies full-text search with pagination.
func (s *SuiteBase) TestSearch(c *gc.C) {
	var ops []indexer.Operation
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("doc-%02d", i)
		content := "unrelated text"
		if i%2 == 0 {
			content = "the quick brown fox"
		}
		ops = append(ops, indexer.Operation{Type: indexer.OpIndex, ID: id, Document: doc(id, content)})
	}
	_, err := s.idx.Bulk(context.TODO(), ops)
	c.Assert(err, gc.IsNil)

	it, err := s.idx.Search(context.TODO(), indexer.Query{Type: indexer.QueryTypePhrase, Expr: "quick brown"})
	c.Assert(err, gc.IsNil)
	c.Assert(it.TotalCount(), gc.Equals, uint64(13))

	seen := make(map[string]bool)
	for it.Next() {
		seen[it.Document().ID] = true
	}
	c.Assert(it.Error(), gc.IsNil)
	c.Assert(it.Close(), gc.IsNil)
	c.Assert(seen, gc.HasLen, 13)
	c.Assert(seen["doc-00"], gc.Equals, true)
	c.Assert(seen["doc-01"], gc.Equals, false)
}
