package main

import (
	"context"
	"net/url"
	"strings"

	"github.com/Ahmed-Sermani/fscrawler/config"
	"github.com/Ahmed-Sermani/fscrawler/crawler"
	"github.com/Ahmed-Sermani/fscrawler/extract"
	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"github.com/Ahmed-Sermani/fscrawler/fingerprint/store/cdb"
	"github.com/Ahmed-Sermani/fscrawler/fingerprint/store/file"
	memstore "github.com/Ahmed-Sermani/fscrawler/fingerprint/store/memory"
	"github.com/Ahmed-Sermani/fscrawler/fingerprint/store/sqlite"
	"github.com/Ahmed-Sermani/fscrawler/indexer"
	"github.com/Ahmed-Sermani/fscrawler/indexer/bulk"
	"github.com/Ahmed-Sermani/fscrawler/indexer/store/es"
	memindexer "github.com/Ahmed-Sermani/fscrawler/indexer/store/memory"
	"github.com/Ahmed-Sermani/fscrawler/partition"
	crawlersvc "github.com/Ahmed-Sermani/fscrawler/service/crawler"
	"github.com/Ahmed-Sermani/fscrawler/walker"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// backends holds the resources shared by all jobs of a process.
type backends struct {
	index     searchIndex
	store     fingerprint.Store
	locker    fingerprint.Locker
	partition partition.Detector
}

func openBackends(cfg *config.Config, logger *logrus.Entry) (*backends, error) {
	idx, err := getIndex(cfg.Index, logger)
	if err != nil {
		return nil, err
	}
	store, err := getFingerprintStore(cfg.Store.URI, logger)
	if err != nil {
		return nil, err
	}
	partDet, err := getPartitionDetector(cfg.Partition)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	b := &backends{index: idx, store: store, partition: partDet}
	if l, ok := store.(fingerprint.Locker); ok {
		b.locker = l
	}
	return b, nil
}

func (b *backends) close(logger *logrus.Entry) {
	if err := b.store.Close(); err != nil {
		logger.WithField("err", err).Warn("unable to close fingerprint store")
	}
}

type searchIndex interface {
	indexer.Client
	indexer.Searcher
}

func getIndex(cfg config.Index, logger *logrus.Entry) (searchIndex, error) {
	if cfg.URI == "" {
		return nil, xerrors.Errorf("index URI must be specified with index.uri")
	}

	uri, err := url.Parse(cfg.URI)
	if err != nil {
		return nil, xerrors.Errorf("could not parse index URI: %w", err)
	}

	switch uri.Scheme {
	case "in-memory":
		logger.Info("using in-memory indexer")
		return memindexer.NewInMemoryBleveIndexer()
	case "es":
		nodes := strings.Split(uri.Host, ",")
		for i := 0; i < len(nodes); i++ {
			nodes[i] = "http://" + nodes[i]
		}
		logger.WithField("index", cfg.Name).Info("using ES indexer")
		return es.NewESIndexer(nodes, cfg.Name, cfg.SyncUpdates)
	default:
		return nil, xerrors.Errorf("unsupported index URI scheme: %q", uri.Scheme)
	}
}

func getFingerprintStore(storeURI string, logger *logrus.Entry) (fingerprint.Store, error) {
	if storeURI == "" {
		return nil, xerrors.Errorf("fingerprint store URI must be specified with store.uri")
	}

	uri, err := url.Parse(storeURI)
	if err != nil {
		return nil, xerrors.Errorf("could not parse fingerprint store URI: %w", err)
	}

	switch uri.Scheme {
	case "in-memory":
		logger.Warn("using in-memory fingerprint store; every restart re-indexes all files")
		return memstore.NewInMemoryStore(), nil
	case "file":
		logger.WithField("dir", uri.Host+uri.Path).Info("using file fingerprint store")
		return file.NewStore(uri.Host + uri.Path)
	case "sqlite":
		logger.WithField("db", uri.Host+uri.Path).Info("using sqlite fingerprint store")
		return sqlite.NewSQLiteStore(uri.Host + uri.Path)
	case "postgresql":
		logger.Info("using CDB fingerprint store")
		return cdb.NewCockroachDBStore(storeURI)
	default:
		return nil, xerrors.Errorf("unsupported fingerprint store URI scheme: %q", uri.Scheme)
	}
}

func getPartitionDetector(mode string) (partition.Detector, error) {
	switch {
	case mode == "single":
		return partition.Fixed{Partition: 0, NumPartitions: 1}, nil
	case strings.HasPrefix(mode, "dns="):
		tokens := strings.SplitN(mode, "=", 2)
		return partition.DetectFromSRVRecords(tokens[1]), nil
	default:
		return nil, xerrors.Errorf("unsupported partition detection mode: %q", mode)
	}
}

func newJobCrawler(job config.Job, b *backends, logger *logrus.Entry) (*crawler.Crawler, error) {
	src, err := walker.Local(job.Root)
	if err != nil {
		return nil, err
	}
	w, err := walker.New(src, walker.Filter{
		Includes:       job.Includes,
		Excludes:       job.Excludes,
		MaxDepth:       job.MaxDepth,
		FollowSymlinks: job.FollowSymlinks,
		IncludeHidden:  job.IncludeHidden,
		IgnoreAbove:    job.IgnoreAbove,
	})
	if err != nil {
		return nil, xerrors.Errorf("job %q: %w", job.Name, err)
	}
	idPolicy, err := fingerprint.PolicyByName(job.IDPolicy)
	if err != nil {
		return nil, xerrors.Errorf("job %q: %w", job.Name, err)
	}

	return crawler.NewCrawler(crawler.Config{
		Walker:            w,
		Store:             b.store,
		Client:            b.index,
		Extractor:         extract.NewMux(job.Extract.MaxChars),
		IDPolicy:          idPolicy,
		ExtractWorkers:    job.Extract.Workers,
		ExtractTimeout:    job.Extract.Timeout,
		ChecksumMode:      crawler.ChecksumMode(job.Checksum),
		ChecksumAlgorithm: job.ChecksumAlgorithm,
		RemoveDeleted:     job.ShouldRemoveDeleted(),
		Bulk: bulk.Config{
			MaxDocs:        job.Bulk.MaxDocs,
			MaxBytes:       job.Bulk.MaxBytes,
			MaxInFlight:    job.Bulk.MaxInFlight,
			MaxRetries:     job.Bulk.MaxRetries,
			RequestTimeout: job.Bulk.RequestTimeout,
		},
		Logger: logger.WithFields(logrus.Fields{"service": "crawler", "job": job.Name}),
	})
}

func newJobService(job config.Job, b *backends, logger *logrus.Entry) (*crawlersvc.Service, error) {
	c, err := newJobCrawler(job, b, logger)
	if err != nil {
		return nil, err
	}
	cfg := crawlersvc.Config{
		Name:              job.Name,
		Crawler:           c,
		Locker:            b.locker,
		PartitionDetector: b.partition,
		UpdateInterval:    job.UpdateInterval,
		CycleTimeout:      job.CycleTimeout,
		StopOnFailure:     job.StopOnFailure,
		RetryBackoff:      job.RetryBackoff,
		WatchDebounce:     job.WatchDebounce,
		Logger:            logger.WithField("service", "scheduler"),
	}
	if job.Watch {
		cfg.WatchDir = c.Root()
	}
	return crawlersvc.NewService(cfg)
}

// crawlOnce runs a single cycle while holding the root's cycle lock, if the
// store provides one.
func crawlOnce(ctx context.Context, c *crawler.Crawler, locker fingerprint.Locker) (*crawler.Summary, error) {
	if locker != nil {
		unlock, err := locker.TryLock(c.Root())
		if err != nil {
			return nil, err
		}
		defer func() { _ = unlock() }()
	}
	return c.RunCycle(ctx)
}
