package crawler

import (
	"context"
	"encoding/hex"
	"hash"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"github.com/Ahmed-Sermani/fscrawler/indexer"
	"github.com/Ahmed-Sermani/fscrawler/pipeline"
	"github.com/Ahmed-Sermani/fscrawler/walker"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

var _ pipeline.Processor = (*docBuilder)(nil)

// docBuilder reads new and modified files and turns them into index
// documents. It runs on a pool of workers.
type docBuilder struct {
	src       walker.Source
	extractor Extractor
	timeout   time.Duration
	algorithm string
	clock     clock.Clock
	logger    *logrus.Entry
	failures  *failureLog

	extractFailed int64

	mu sync.Mutex
	// vanished holds the files that were listed by the walk but gone by the
	// time they were read. Previously indexed ones carry their old
	// fingerprint.
	vanished []vanishedFile
}

type vanishedFile struct {
	fp     fingerprint.Fingerprint
	hasOld bool
}

func newDocBuilder(src walker.Source, cfg *Config, failures *failureLog) *docBuilder {
	db := &docBuilder{
		src:       src,
		extractor: cfg.Extractor,
		timeout:   cfg.ExtractTimeout,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		failures:  failures,
	}
	if cfg.ChecksumMode != ChecksumOff {
		db.algorithm = cfg.ChecksumAlgorithm
	}
	return db
}

func (db *docBuilder) Process(ctx context.Context, p pipeline.Payload) (pipeline.Payload, error) {
	// Files not started before cancellation are left for the next cycle.
	if ctx.Err() != nil {
		return nil, nil
	}
	payload := p.(*crawlPayload)

	// A file being extracted is finished even if the cycle is cancelled
	// meanwhile; only the per-file timeout applies.
	fileCtx := context.WithoutCancel(ctx)
	if db.timeout > 0 {
		var cancel context.CancelFunc
		fileCtx, cancel = context.WithTimeout(fileCtx, db.timeout)
		defer cancel()
	}

	doc, checksum, err := db.build(fileCtx, payload)
	switch {
	case xerrors.Is(err, fs.ErrNotExist):
		// The cycle decides whether the old document goes.
		v := vanishedFile{
			fp:     fingerprint.Fingerprint{Path: payload.File.Path, DocumentID: payload.DocumentID},
			hasOld: payload.HasOld,
		}
		if payload.HasOld {
			v.fp = payload.Old
		}
		db.mu.Lock()
		db.vanished = append(db.vanished, v)
		db.mu.Unlock()
		return nil, nil
	case err != nil:
		atomic.AddInt64(&db.extractFailed, 1)
		db.logger.WithFields(logrus.Fields{
			"path": payload.File.Path,
			"err":  err,
		}).Warn("extraction failed; file skipped for this cycle")
		db.failures.add(Failure{Path: payload.File.Path, DocumentID: payload.DocumentID, Op: "extract", Err: err})
		return nil, nil
	}

	payload.Checksum = checksum
	payload.Doc = doc
	return payload, nil
}

func (db *docBuilder) vanishedFiles() []vanishedFile {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]vanishedFile(nil), db.vanished...)
}

func (db *docBuilder) build(ctx context.Context, payload *crawlPayload) (*indexer.Document, string, error) {
	f := payload.File
	rc, err := db.src.Open(ctx, f.Path)
	if err != nil {
		return nil, "", xerrors.Errorf("open %s: %w", f.Path, err)
	}
	defer func() { _ = rc.Close() }()

	var (
		r io.Reader = rc
		h hash.Hash
	)
	if db.algorithm != "" && payload.Checksum == "" {
		if h, err = newHash(db.algorithm); err != nil {
			return nil, "", err
		}
		r = io.TeeReader(rc, h)
	}

	res, err := db.extractor.Extract(ctx, r, f.Path)
	if err != nil {
		return nil, "", err
	}

	checksum := payload.Checksum
	if h != nil {
		// Hash whatever the extractor did not consume.
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, "", xerrors.Errorf("checksum %s: %w", f.Path, err)
		}
		checksum = hex.EncodeToString(h.Sum(nil))
	}

	name := path.Base(f.Path)
	doc := &indexer.Document{
		ID:          payload.DocumentID,
		Path:        db.src.Abs(f.Path),
		VirtualPath: "/" + f.Path,
		Filename:    name,
		Extension:   strings.TrimPrefix(strings.ToLower(path.Ext(name)), "."),
		ContentType: res.ContentType,
		Title:       res.Title,
		Content:     res.Content,
		Metadata:    res.Metadata,
		Size:        f.Size,
		ModTime:     f.ModTime,
		Checksum:    checksum,
		IndexedAt:   db.clock.Now(),
	}
	return doc, checksum, nil
}
