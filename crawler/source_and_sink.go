package crawler

import (
	"context"

	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"github.com/Ahmed-Sermani/fscrawler/indexer"
	"github.com/Ahmed-Sermani/fscrawler/indexer/bulk"
	"github.com/Ahmed-Sermani/fscrawler/pipeline"
	"github.com/Ahmed-Sermani/fscrawler/walker"
	"golang.org/x/xerrors"
)

type walkSource struct {
	it *walker.Iterator
}

func (ws *walkSource) Next(ctx context.Context) bool { return ws.it.Next(ctx) }

// Error hides cancellation; the cycle inspects its context itself.
func (ws *walkSource) Error() error {
	err := ws.it.Error()
	if xerrors.Is(err, context.Canceled) || xerrors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (ws *walkSource) Payload() pipeline.Payload {
	payload := payloadPool.Get().(*crawlPayload)
	payload.File = ws.it.Descriptor()
	return payload
}

// upsertTag travels with an index operation so that its confirmation can be
// turned into a fingerprint.
type upsertTag struct {
	fp   fingerprint.Fingerprint
	kind Kind
}

// deleteTag travels with a delete operation.
type deleteTag struct {
	path string
}

// indexSink hands documents and deletions over to the bulk indexer.
type indexSink struct {
	bi *bulk.Indexer
}

func (s *indexSink) Consume(ctx context.Context, p pipeline.Payload) error {
	payload := p.(*crawlPayload)
	switch payload.Kind {
	case KindNew, KindModified:
		return s.bi.Add(ctx, indexer.Operation{
			Type:     indexer.OpIndex,
			ID:       payload.DocumentID,
			Document: payload.Doc,
			Tag: upsertTag{
				kind: payload.Kind,
				fp: fingerprint.Fingerprint{
					Path:       payload.File.Path,
					Size:       payload.File.Size,
					ModTime:    payload.File.ModTime,
					Checksum:   payload.Checksum,
					DocumentID: payload.DocumentID,
				},
			},
		})
	default:
		return nil
	}
}

func deleteOp(fp fingerprint.Fingerprint) indexer.Operation {
	return indexer.Operation{
		Type: indexer.OpDelete,
		ID:   fp.DocumentID,
		Tag:  deleteTag{path: fp.Path},
	}
}
