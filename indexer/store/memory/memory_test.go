package memory

import (
	"context"
	"testing"

	"github.com/Ahmed-Sermani/fscrawler/indexer"
	"github.com/Ahmed-Sermani/fscrawler/indexer/indexertest"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(InMemoryIndexerTestSuite))

type InMemoryIndexerTestSuite struct {
	indexertest.SuiteBase
	idx *InMemoryIndexer
}

func Test(t *testing.T) {
	gc.TestingT(t)
}

func (s *InMemoryIndexerTestSuite) SetUpTest(c *gc.C) {
	idx, err := NewInMemoryBleveIndexer()
	c.Assert(err, gc.IsNil)
	s.SetIndexer(idx)
	s.idx = idx
}

func (s *InMemoryIndexerTestSuite) TearDownTest(c *gc.C) {
	c.Assert(s.idx.Close(), gc.IsNil)
}

func (s *InMemoryIndexerTestSuite) TestStoredDocumentIsACopy(c *gc.C) {
	d := &indexer.Document{ID: "a", Content: "original", Metadata: map[string]string{"k": "v"}}
	_, err := s.idx.Bulk(context.TODO(), []indexer.Operation{{Type: indexer.OpIndex, ID: "a", Document: d}})
	c.Assert(err, gc.IsNil)

	d.Content = "mutated"
	d.Metadata["k"] = "mutated"

	got, err := s.idx.Get(context.TODO(), "a")
	c.Assert(err, gc.IsNil)
	c.Assert(got.Content, gc.Equals, "original")
	c.Assert(got.Metadata["k"], gc.Equals, "v")
	c.Assert(s.idx.Count(), gc.Equals, 1)
	c.Assert(s.idx.IDs(), gc.DeepEquals, []string{"a"})
}

func (s *InMemoryIndexerTestSuite) TestCancelledContext(c *gc.C) {
	ctx, cancel := context.WithCancel(context.TODO())
	cancel()
	_, err := s.idx.Bulk(ctx, []indexer.Operation{{Type: indexer.OpDelete, ID: "a"}})
	c.Assert(err, gc.NotNil)
}
