/*
   Runs crawl cycles that keep a search index in sync with a file tree
*/

package crawler

import (
	"context"
	"io"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/extract"
	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"github.com/Ahmed-Sermani/fscrawler/indexer"
	"github.com/Ahmed-Sermani/fscrawler/indexer/bulk"
	"github.com/Ahmed-Sermani/fscrawler/walker"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

//go:generate mockgen -package mocks -destination mocks/mocks.go github.com/Ahmed-Sermani/fscrawler/crawler Extractor

// Extractor is implemented by objects that can turn the contents of a file
// into indexable text.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader, pathHint string) (*extract.Result, error)
}

// ChecksumMode controls when file contents are hashed to detect changes.
type ChecksumMode string

const (
	// ChecksumOff relies on size and modification time only.
	ChecksumOff ChecksumMode = "off"

	// ChecksumLazy hashes a file only when its size or modification time
	// changed; an unchanged hash then only refreshes the fingerprint.
	ChecksumLazy ChecksumMode = "lazy"

	// ChecksumAlways hashes every known file on every cycle so that content
	// changes that keep size and modification time are detected too.
	ChecksumAlways ChecksumMode = "always"
)

// Config encapsulates the settings for a Crawler. One Config describes one
// crawl root.
type Config struct {
	// The walker that enumerates the files of the root.
	Walker *walker.Walker

	// The store that persists fingerprints between cycles.
	Store fingerprint.Store

	// The search engine client.
	Client indexer.Client

	// The extractor used for new and modified files.
	Extractor Extractor

	// Assigns document ids to files. Defaults to fingerprint.PathHash.
	IDPolicy fingerprint.IDPolicy

	// The number of files extracted in parallel.
	ExtractWorkers int

	// The deadline for extracting a single file. Zero disables it.
	ExtractTimeout time.Duration

	// The capacity of the queues between the pipeline stages.
	QueueSize int

	// Checksum mode and algorithm (md5, sha1 or sha256).
	ChecksumMode      ChecksumMode
	ChecksumAlgorithm string

	// When set, files missing from disk are removed from the index.
	RemoveDeleted bool

	// Batching and retry settings for index operations. The Client and
	// Logger fields are filled in by the crawler.
	Bulk bulk.Config

	// A clock instance for generating time-related events. If not
	// specified, the default wall-clock will be used instead.
	Clock clock.Clock

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Walker == nil {
		err = multierror.Append(err, xerrors.Errorf("walker not provided"))
	}
	if cfg.Store == nil {
		err = multierror.Append(err, xerrors.Errorf("fingerprint store not provided"))
	}
	if cfg.Client == nil {
		err = multierror.Append(err, xerrors.Errorf("index client not provided"))
	}
	if cfg.Extractor == nil {
		err = multierror.Append(err, xerrors.Errorf("extractor not provided"))
	}
	if cfg.IDPolicy == nil {
		cfg.IDPolicy = fingerprint.PathHash{}
	}
	if cfg.ExtractWorkers <= 0 {
		cfg.ExtractWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	switch cfg.ChecksumMode {
	case "":
		cfg.ChecksumMode = ChecksumOff
	case ChecksumOff, ChecksumLazy, ChecksumAlways:
	default:
		err = multierror.Append(err, xerrors.Errorf("invalid checksum mode %q", cfg.ChecksumMode))
	}
	if cfg.ChecksumMode != ChecksumOff {
		if cfg.ChecksumAlgorithm == "" {
			cfg.ChecksumAlgorithm = "md5"
		}
		if _, hErr := newHash(cfg.ChecksumAlgorithm); hErr != nil {
			err = multierror.Append(err, hErr)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		cfg.Logger = logrus.NewEntry(l)
	}
	return err
}

// Crawler reconciles one crawl root against the search index.
type Crawler struct {
	cfg  Config
	root string
}

// NewCrawler returns a Crawler for the provided config.
func NewCrawler(cfg Config) (*Crawler, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("crawler: config validation failed: %w", err)
	}
	return &Crawler{cfg: cfg, root: cfg.Walker.Source().Name()}, nil
}

// Root returns the identity of the crawled root.
func (c *Crawler) Root() string { return c.root }
