// Package es provides an indexer.Client backed by Elasticsearch.
package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/indexer"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"golang.org/x/xerrors"
)

var (
	_ indexer.Client   = (*ESIndexer)(nil)
	_ indexer.Searcher = (*ESIndexer)(nil)
)

// DefaultIndexName is used when no index name is configured.
const DefaultIndexName = "fscrawler"

const batchSize = 10

const mapping = `
{
	"mappings": {
		"properties": {
			"content": {"type": "text"},
			"meta": {
				"properties": {
					"title": {"type": "text"},
					"raw": {"type": "object", "enabled": false}
				}
			},
			"file": {
				"properties": {
					"filename": {"type": "keyword"},
					"extension": {"type": "keyword"},
					"content_type": {"type": "keyword"},
					"filesize": {"type": "long"},
					"last_modified": {"type": "date"},
					"indexing_date": {"type": "date"},
					"checksum": {"type": "keyword"}
				}
			},
			"path": {
				"properties": {
					"real": {"type": "keyword"},
					"virtual": {"type": "keyword"}
				}
			}
		}
	}
}`

type esErrorRes struct {
	Err struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

func (e esErrorRes) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Type, e.Err.Reason)
}

type esDoc struct {
	Content string `json:"content"`
	Meta    struct {
		Title string            `json:"title,omitempty"`
		Raw   map[string]string `json:"raw,omitempty"`
	} `json:"meta"`
	File struct {
		Filename     string    `json:"filename"`
		Extension    string    `json:"extension,omitempty"`
		ContentType  string    `json:"content_type,omitempty"`
		Filesize     int64     `json:"filesize"`
		LastModified time.Time `json:"last_modified"`
		IndexingDate time.Time `json:"indexing_date"`
		Checksum     string    `json:"checksum,omitempty"`
	} `json:"file"`
	Path struct {
		Real    string `json:"real"`
		Virtual string `json:"virtual"`
	} `json:"path"`
}

type esQuery struct {
	Query struct {
		MultiMatch struct {
			Type   string   `json:"type"`
			Query  string   `json:"query"`
			Fields []string `json:"fields"`
		} `json:"multi_match"`
	} `json:"query"`
	Sort []string `json:"sort"`
	From int      `json:"from"`
	Size int      `json:"size"`
}

type esSearchRes struct {
	Hits struct {
		Total struct {
			Count uint64 `json:"value"`
		} `json:"total"`
		HitList []struct {
			ID        string `json:"_id"`
			DocSource esDoc  `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type esBulkRes struct {
	Errors bool                       `json:"errors"`
	Items  []map[string]esBulkItemRes `json:"items"`
}

type esBulkItemRes struct {
	ID     string `json:"_id"`
	Result string `json:"result"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// ESIndexer talks to a single Elasticsearch index.
type ESIndexer struct {
	es          *elasticsearch.Client
	index       string
	syncUpdates bool
}

// NewESIndexer connects to the given nodes and makes sure the index exists.
// When syncUpdates is set every bulk request waits for a refresh so that its
// effects are visible to the next search.
func NewESIndexer(nodes []string, index string, syncUpdates bool) (*ESIndexer, error) {
	if index == "" {
		index = DefaultIndexName
	}
	cfg := elasticsearch.Config{
		Addresses: nodes,
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	if err = ensureIndex(es, index); err != nil {
		return nil, err
	}
	return &ESIndexer{es: es, index: index, syncUpdates: syncUpdates}, nil
}

func ensureIndex(es *elasticsearch.Client, index string) error {
	res, err := es.Indices.Create(index, es.Indices.Create.WithBody(strings.NewReader(mapping)))
	if err != nil {
		return xerrors.Errorf("create index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		var esErr esErrorRes
		if err := json.NewDecoder(res.Body).Decode(&esErr); err != nil {
			return xerrors.Errorf("create index: %w", err)
		}
		if esErr.Err.Type == "resource_already_exists_exception" {
			return nil
		}
		return xerrors.Errorf("create index: %w", esErr)
	}
	return nil
}

// Bulk sends ops as one NDJSON _bulk request. Operations that cannot be
// encoded are rejected locally and never sent.
func (i *ESIndexer) Bulk(ctx context.Context, ops []indexer.Operation) ([]indexer.ItemResult, error) {
	results := make([]indexer.ItemResult, len(ops))
	sent := make([]int, 0, len(ops))

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for n, op := range ops {
		results[n].ID = op.ID
		if err := encodeOp(enc, op); err != nil {
			results[n].Err = xerrors.Errorf("bulk item %d: %w", n, err)
			continue
		}
		sent = append(sent, n)
	}
	if len(sent) == 0 {
		return results, nil
	}

	opts := []func(*esapi.BulkRequest){
		i.es.Bulk.WithContext(ctx),
		i.es.Bulk.WithIndex(i.index),
	}
	if i.syncUpdates {
		opts = append(opts, i.es.Bulk.WithRefresh("true"))
	}
	res, err := i.es.Bulk(&buf, opts...)
	if err != nil {
		return nil, xerrors.Errorf("bulk: %w", err)
	}

	var bulkRes esBulkRes
	if err := unmarshalResponse(res, &bulkRes); err != nil {
		return nil, xerrors.Errorf("bulk: %w", err)
	}
	if len(bulkRes.Items) != len(sent) {
		return nil, xerrors.Errorf("bulk: expected %d items in response, got %d", len(sent), len(bulkRes.Items))
	}

	for k, item := range bulkRes.Items {
		n := sent[k]
		for action, ir := range item {
			results[n].Err = itemError(action, ir)
		}
	}
	return results, nil
}

func encodeOp(enc *json.Encoder, op indexer.Operation) error {
	if op.ID == "" {
		return indexer.ErrMissingID
	}
	type meta struct {
		ID string `json:"_id"`
	}
	switch op.Type {
	case indexer.OpIndex:
		if op.Document == nil {
			return indexer.ErrMissingDocument
		}
		if err := enc.Encode(map[string]meta{"index": {ID: op.ID}}); err != nil {
			return err
		}
		return enc.Encode(makeESDoc(op.Document))
	case indexer.OpDelete:
		return enc.Encode(map[string]meta{"delete": {ID: op.ID}})
	default:
		return xerrors.Errorf("unsupported operation %s", op.Type)
	}
}

func itemError(action string, ir esBulkItemRes) error {
	// Deleting a document that is already gone is what the caller wanted.
	if action == "delete" && ir.Status == http.StatusNotFound {
		return nil
	}
	if ir.Error == nil && ir.Status < 300 {
		return nil
	}
	itemErr := &indexer.ItemError{Status: ir.Status}
	if ir.Error != nil {
		itemErr.Type = ir.Error.Type
		itemErr.Reason = ir.Error.Reason
	}
	return itemErr
}

func (i *ESIndexer) Exists(ctx context.Context, id string) (bool, error) {
	res, err := i.es.Exists(i.index, id, i.es.Exists.WithContext(ctx))
	if err != nil {
		return false, xerrors.Errorf("exists: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, xerrors.Errorf("exists: unexpected status %s", res.Status())
	}
}

func (i *ESIndexer) Get(ctx context.Context, id string) (*indexer.Document, error) {
	res, err := i.es.GetSource(i.index, id, i.es.GetSource.WithContext(ctx))
	if err != nil {
		return nil, xerrors.Errorf("find by id: %w", err)
	}
	if res.StatusCode == http.StatusNotFound {
		_ = res.Body.Close()
		return nil, xerrors.Errorf("find by id %q: %w", id, indexer.ErrNotFound)
	}

	var src esDoc
	if err := unmarshalResponse(res, &src); err != nil {
		return nil, xerrors.Errorf("find by id: %w", err)
	}
	return mapESDoc(id, src), nil
}

func (i *ESIndexer) Search(ctx context.Context, q indexer.Query) (indexer.Iterator, error) {
	var qtype string
	switch q.Type {
	case indexer.QueryTypePhrase:
		qtype = "phrase"
	default:
		qtype = "best_fields"
	}

	var query esQuery
	query.From = int(q.Offset)
	query.Size = batchSize
	query.Sort = []string{"_score", "_doc"}
	query.Query.MultiMatch.Fields = []string{"meta.title", "content"}
	query.Query.MultiMatch.Query = q.Expr
	query.Query.MultiMatch.Type = qtype

	rs, err := i.doSearch(ctx, &query)
	if err != nil {
		return nil, xerrors.Errorf("search: %w", err)
	}
	return &esIterator{idx: i, ctx: ctx, searchReq: &query, rs: rs, cumIdx: q.Offset}, nil
}

func (i *ESIndexer) doSearch(ctx context.Context, query *esQuery) (*esSearchRes, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := i.es.Search(
		i.es.Search.WithContext(ctx),
		i.es.Search.WithIndex(i.index),
		i.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	var rs esSearchRes
	if err := unmarshalResponse(res, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

func makeESDoc(d *indexer.Document) esDoc {
	var doc esDoc
	doc.Content = d.Content
	doc.Meta.Title = d.Title
	doc.Meta.Raw = d.Metadata
	doc.File.Filename = d.Filename
	doc.File.Extension = d.Extension
	doc.File.ContentType = d.ContentType
	doc.File.Filesize = d.Size
	doc.File.LastModified = d.ModTime.UTC()
	doc.File.IndexingDate = d.IndexedAt.UTC()
	doc.File.Checksum = d.Checksum
	doc.Path.Real = d.Path
	doc.Path.Virtual = d.VirtualPath
	return doc
}

func mapESDoc(id string, doc esDoc) *indexer.Document {
	return &indexer.Document{
		ID:          id,
		Path:        doc.Path.Real,
		VirtualPath: doc.Path.Virtual,
		Filename:    doc.File.Filename,
		Extension:   doc.File.Extension,
		ContentType: doc.File.ContentType,
		Title:       doc.Meta.Title,
		Content:     doc.Content,
		Metadata:    doc.Meta.Raw,
		Size:        doc.File.Filesize,
		ModTime:     doc.File.LastModified.UTC(),
		Checksum:    doc.File.Checksum,
		IndexedAt:   doc.File.IndexingDate.UTC(),
	}
}

func unmarshalResponse(res *esapi.Response, to interface{}) error {
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		var esErr esErrorRes
		if err := json.Unmarshal(body, &esErr); err != nil || esErr.Err.Type == "" {
			return xerrors.Errorf("unexpected status %s", res.Status())
		}
		return esErr
	}
	return json.NewDecoder(res.Body).Decode(to)
}
