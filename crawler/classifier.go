package crawler

import (
	"context"

	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"github.com/Ahmed-Sermani/fscrawler/pipeline"
	"github.com/Ahmed-Sermani/fscrawler/walker"
	"github.com/sirupsen/logrus"
)

var _ pipeline.Processor = (*classifier)(nil)

// classifier compares walked files against the previous fingerprints. It
// runs as a single FIFO stage so its bookkeeping needs no locking; the
// cycle reads it once the pipeline has drained.
type classifier struct {
	src       walker.Source
	root      string
	prev      *fingerprint.Set
	policy    fingerprint.IDPolicy
	mode      ChecksumMode
	algorithm string
	logger    *logrus.Entry

	seen map[string]struct{}
	// liveIDs counts the walked files mapping onto each document id.
	liveIDs map[string]int
	touched []fingerprint.Fingerprint

	discovered, newCount, modified, unchanged int
}

func newClassifier(src walker.Source, prev *fingerprint.Set, cfg *Config) *classifier {
	return &classifier{
		src:       src,
		root:      src.Name(),
		prev:      prev,
		policy:    cfg.IDPolicy,
		mode:      cfg.ChecksumMode,
		algorithm: cfg.ChecksumAlgorithm,
		logger:    cfg.Logger,
		seen:      make(map[string]struct{}),
		liveIDs:   make(map[string]int),
	}
}

func (cl *classifier) Process(ctx context.Context, p pipeline.Payload) (pipeline.Payload, error) {
	payload := p.(*crawlPayload)
	f := payload.File

	cl.discovered++
	cl.seen[f.Path] = struct{}{}
	payload.DocumentID = cl.policy.DocumentID(cl.root, cl.src.Abs(f.Path))
	cl.liveIDs[payload.DocumentID]++

	old, found := cl.prev.Get(f.Path)
	if !found {
		payload.Kind = KindNew
		cl.newCount++
		return payload, nil
	}
	payload.Old, payload.HasOld = old, true
	payload.Kind = cl.classify(ctx, payload)

	switch payload.Kind {
	case KindUnchanged:
		cl.unchanged++
		return nil, nil
	case KindTouched:
		fp := old
		fp.Size = f.Size
		fp.ModTime = f.ModTime
		fp.Checksum = payload.Checksum
		cl.touched = append(cl.touched, fp)
		return nil, nil
	default:
		cl.modified++
		return payload, nil
	}
}

func (cl *classifier) classify(ctx context.Context, payload *crawlPayload) Kind {
	f, old := payload.File, payload.Old
	sameAttrs := old.Size == f.Size && old.ModTime.Equal(f.ModTime)

	switch cl.mode {
	case ChecksumLazy:
		if sameAttrs {
			return KindUnchanged
		}
		if old.Checksum == "" {
			return KindModified
		}
	case ChecksumAlways:
	default:
		if sameAttrs {
			return KindUnchanged
		}
		return KindModified
	}

	sum, err := fileChecksum(ctx, cl.src, f.Path, cl.algorithm)
	if err != nil {
		// The document builder re-reads the file and decides.
		cl.logger.WithFields(logrus.Fields{"path": f.Path, "err": err}).Debug("checksum failed")
		return KindModified
	}
	payload.Checksum = sum
	switch {
	case sum != old.Checksum && old.Checksum != "":
		return KindModified
	case sameAttrs && sum == old.Checksum:
		return KindUnchanged
	case sameAttrs && old.Checksum == "":
		// Fingerprints written before checksums were enabled.
		return KindTouched
	case !sameAttrs && sum == old.Checksum:
		return KindTouched
	default:
		return KindModified
	}
}

// deleted returns the fingerprints of files that were not walked. paths
// below any of the skipped directories are left alone since their files
// may still exist.
func (cl *classifier) deleted(skipped []walker.PathWarning) []fingerprint.Fingerprint {
	var gone []fingerprint.Fingerprint
	for _, fp := range cl.prev.Fingerprints() {
		if _, found := cl.seen[fp.Path]; found {
			continue
		}
		if underAny(fp.Path, skipped) {
			continue
		}
		gone = append(gone, fp)
	}
	return gone
}

func underAny(p string, warnings []walker.PathWarning) bool {
	for _, w := range warnings {
		if p == w.Path || (len(p) > len(w.Path) && p[len(w.Path)] == '/' && p[:len(w.Path)] == w.Path) {
			return true
		}
	}
	return false
}
