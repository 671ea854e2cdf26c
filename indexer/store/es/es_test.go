package es

import (
	"os"
	"strings"
	"testing"

	"github.com/Ahmed-Sermani/fscrawler/indexer/indexertest"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(ESIndexerTestSuite))

func Test(t *testing.T) {
	gc.TestingT(t)
}

const testIndex = "fscrawler-test"

type ESIndexerTestSuite struct {
	indexertest.SuiteBase
	idx *ESIndexer
}

func (s *ESIndexerTestSuite) SetUpSuite(c *gc.C) {
	nodesList := os.Getenv("ES_NODES")
	if nodesList == "" {
		c.Skip("Missing ES_NODES env; skipping es-based indexer tests")
	}
	idx, err := NewESIndexer(strings.Split(nodesList, ","), testIndex, true)
	c.Assert(err, gc.IsNil)
	s.SetIndexer(idx)
	s.idx = idx
}

func (s *ESIndexerTestSuite) SetUpTest(c *gc.C) {
	if s.idx.es != nil {
		_, err := s.idx.es.Indices.Delete([]string{testIndex})
		c.Assert(err, gc.IsNil)
		c.Assert(ensureIndex(s.idx.es, testIndex), gc.IsNil)
	}
}
