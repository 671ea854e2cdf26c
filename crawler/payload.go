package crawler

import (
	"fmt"
	"sync"

	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"github.com/Ahmed-Sermani/fscrawler/indexer"
	"github.com/Ahmed-Sermani/fscrawler/pipeline"
	"github.com/Ahmed-Sermani/fscrawler/walker"
)

var (
	_ pipeline.Payload = (*crawlPayload)(nil)

	// A cycle over a large tree pushes one payload per file through the
	// pipeline; recycling them keeps the allocation rate flat.
	payloadPool = sync.Pool{
		New: func() any { return new(crawlPayload) },
	}
)

// Kind is the verdict of the change classifier for a single file.
type Kind uint8

const (
	// KindNew marks a file without a fingerprint.
	KindNew Kind = iota
	// KindModified marks a file whose size, modification time or checksum
	// differ from its fingerprint.
	KindModified
	// KindUnchanged marks a file that matches its fingerprint.
	KindUnchanged
	// KindTouched marks a file whose attributes changed but whose checksum
	// proved the content identical. Only its fingerprint is refreshed.
	KindTouched
	// KindDeleted marks a fingerprint whose file is gone.
	KindDeleted
)

func (k Kind) String() string {
	switch k {
	case KindNew:
		return "new"
	case KindModified:
		return "modified"
	case KindUnchanged:
		return "unchanged"
	case KindTouched:
		return "touched"
	case KindDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Classified is a file together with the classifier's verdict and its
// previous fingerprint, if any.
type Classified struct {
	Kind   Kind
	File   walker.FileDescriptor
	Old    fingerprint.Fingerprint
	HasOld bool

	// Checksum is set when the classifier already hashed the file.
	Checksum string
}

type crawlPayload struct {
	Classified

	DocumentID string
	Doc        *indexer.Document
}

// MarkAsProcessed resets the payload and returns it to the pool. The
// document is handed over to the index and never reused.
func (p *crawlPayload) MarkAsProcessed() {
	p.Classified = Classified{}
	p.DocumentID = p.DocumentID[:0]
	p.Doc = nil
	payloadPool.Put(p)
}
