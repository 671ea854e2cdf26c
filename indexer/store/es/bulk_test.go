package es

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/Ahmed-Sermani/fscrawler/indexer"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(BulkEncodingTestSuite))

type BulkEncodingTestSuite struct{}

func (s *BulkEncodingTestSuite) TestEncodeIndexOp(c *gc.C) {
	var buf bytes.Buffer
	err := encodeOp(json.NewEncoder(&buf), indexer.Operation{
		Type:     indexer.OpIndex,
		ID:       "doc-1",
		Document: &indexer.Document{Content: "hello", Filename: "a.txt", VirtualPath: "/a.txt"},
	})
	c.Assert(err, gc.IsNil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	c.Assert(lines, gc.HasLen, 2)
	c.Assert(lines[0], gc.Equals, `{"index":{"_id":"doc-1"}}`)

	var src esDoc
	c.Assert(json.Unmarshal([]byte(lines[1]), &src), gc.IsNil)
	c.Assert(src.Content, gc.Equals, "hello")
	c.Assert(src.File.Filename, gc.Equals, "a.txt")
	c.Assert(src.Path.Virtual, gc.Equals, "/a.txt")
}

func (s *BulkEncodingTestSuite) TestEncodeDeleteOp(c *gc.C) {
	var buf bytes.Buffer
	err := encodeOp(json.NewEncoder(&buf), indexer.Operation{Type: indexer.OpDelete, ID: "doc-1"})
	c.Assert(err, gc.IsNil)
	c.Assert(buf.String(), gc.Equals, "{\"delete\":{\"_id\":\"doc-1\"}}\n")
}

func (s *BulkEncodingTestSuite) TestEncodeInvalidOps(c *gc.C) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	err := encodeOp(enc, indexer.Operation{Type: indexer.OpDelete})
	c.Assert(xerrors.Is(err, indexer.ErrMissingID), gc.Equals, true)
	err = encodeOp(enc, indexer.Operation{Type: indexer.OpIndex, ID: "x"})
	c.Assert(xerrors.Is(err, indexer.ErrMissingDocument), gc.Equals, true)
	c.Assert(buf.Len(), gc.Equals, 0)
}

func (s *BulkEncodingTestSuite) TestItemError(c *gc.C) {
	c.Assert(itemError("index", esBulkItemRes{Status: 201}), gc.IsNil)
	c.Assert(itemError("delete", esBulkItemRes{Status: 404, Result: "not_found"}), gc.IsNil)

	err := itemError("index", esBulkItemRes{Status: 429})
	var itemErr *indexer.ItemError
	c.Assert(xerrors.As(err, &itemErr), gc.Equals, true)
	c.Assert(itemErr.Status, gc.Equals, 429)

	ir := esBulkItemRes{Status: 400}
	ir.Error = &struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}{Type: "mapper_parsing_exception", Reason: "failed to parse"}
	err = itemError("index", ir)
	c.Assert(xerrors.As(err, &itemErr), gc.Equals, true)
	c.Assert(itemErr.Type, gc.Equals, "mapper_parsing_exception")
}

func (s *BulkEncodingTestSuite) TestDocRoundTripKeepsID(c *gc.C) {
	d := mapESDoc("id-7", makeESDoc(&indexer.Document{Title: "t", Metadata: map[string]string{"k": "v"}}))
	c.Assert(d.ID, gc.Equals, "id-7")
	c.Assert(d.Title, gc.Equals, "t")
	c.Assert(d.Metadata, gc.DeepEquals, map[string]string{"k": "v"})
}
