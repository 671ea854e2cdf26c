// Package config loads the YAML job file of the crawler.
package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

var schemaLoader = gojsonschema.NewStringLoader(schemaJSON)

// Default values for omitted settings.
const (
	DefaultIndexURI       = "in-memory://"
	DefaultIndexName      = "fscrawler"
	DefaultStoreURI       = "in-memory://"
	DefaultPartition      = "single"
	DefaultUpdateInterval = 15 * time.Minute
	DefaultRetryBackoff   = time.Minute
	DefaultWatchDebounce  = 2 * time.Second
	DefaultExtractTimeout = 30 * time.Second
	DefaultMaxChars       = 100000
	DefaultMaxDocs        = 100
	DefaultMaxBytes       = 10 << 20
	DefaultMaxRetries     = 3
	DefaultRequestTimeout = 30 * time.Second
)

// Config is the top-level configuration of a crawler process.
type Config struct {
	Log   Log   `yaml:"log"`
	Admin Admin `yaml:"admin"`
	Index Index `yaml:"index"`
	Store Store `yaml:"store"`

	// Partition is "single" or "dns=SRV_NAME".
	Partition string `yaml:"partition"`

	Jobs []Job `yaml:"jobs"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Admin configures the gRPC admin endpoint. An empty Listen address
// disables it.
type Admin struct {
	Listen string `yaml:"listen"`
}

// Index selects the search engine: in-memory:// or es://node1:9200,node2:9200.
type Index struct {
	URI         string `yaml:"uri"`
	Name        string `yaml:"name"`
	SyncUpdates bool   `yaml:"sync_updates"`
}

// Store selects the fingerprint store: in-memory://, file:///dir,
// sqlite:///path/to/db or postgresql://user@host/db.
type Store struct {
	URI string `yaml:"uri"`
}

// Job describes one crawl root.
type Job struct {
	Name string `yaml:"name"`
	Root string `yaml:"root"`

	UpdateInterval time.Duration `yaml:"update_interval"`
	CycleTimeout   time.Duration `yaml:"cycle_timeout"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	StopOnFailure  bool          `yaml:"stop_on_failure"`
	Watch          bool          `yaml:"watch"`
	WatchDebounce  time.Duration `yaml:"watch_debounce"`

	IDPolicy          string `yaml:"id_policy"`
	Checksum          string `yaml:"checksum"`
	ChecksumAlgorithm string `yaml:"checksum_algorithm"`
	RemoveDeleted     *bool  `yaml:"remove_deleted"`

	Includes       []string `yaml:"includes"`
	Excludes       []string `yaml:"excludes"`
	MaxDepth       int      `yaml:"max_depth"`
	FollowSymlinks bool     `yaml:"follow_symlinks"`
	IncludeHidden  bool     `yaml:"include_hidden"`
	IgnoreAbove    int64    `yaml:"ignore_above"`

	Extract Extract `yaml:"extract"`
	Bulk    Bulk    `yaml:"bulk"`
}

// Extract configures content extraction.
type Extract struct {
	Workers  int           `yaml:"workers"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxChars int           `yaml:"max_chars"`
}

// Bulk configures batching of index operations.
type Bulk struct {
	MaxDocs        int           `yaml:"max_docs"`
	MaxBytes       int           `yaml:"max_bytes"`
	MaxInFlight    int           `yaml:"max_in_flight"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ShouldRemoveDeleted reports whether files missing from disk are removed
// from the index. It defaults to true.
func (j Job) ShouldRemoveDeleted() bool {
	return j.RemoveDeleted == nil || *j.RemoveDeleted
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, xerrors.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates raw against the config schema, decodes it and applies
// the defaults.
func Parse(raw []byte) (*Config, error) {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, xerrors.Errorf("parse: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	if err := validateSchema(doc); err != nil {
		return nil, err
	}

	cfg := new(Config)
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, xerrors.Errorf("decode: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateSchema(doc interface{}) error {
	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return xerrors.Errorf("schema validation: %w", err)
	}
	if res.Valid() {
		return nil
	}
	var vErr error
	for _, e := range res.Errors() {
		vErr = multierror.Append(vErr, xerrors.New(e.String()))
	}
	return xerrors.Errorf("schema validation: %w", vErr)
}

// SetDefaults fills in every omitted setting.
func (cfg *Config) SetDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Index.URI == "" {
		cfg.Index.URI = DefaultIndexURI
	}
	if cfg.Index.Name == "" {
		cfg.Index.Name = DefaultIndexName
	}
	if cfg.Store.URI == "" {
		cfg.Store.URI = DefaultStoreURI
	}
	if cfg.Partition == "" {
		cfg.Partition = DefaultPartition
	}
	for i := range cfg.Jobs {
		cfg.Jobs[i].SetDefaults()
	}
}

// SetDefaults fills in the omitted settings of the job.
func (j *Job) SetDefaults() {
	if j.Name == "" {
		j.Name = filepath.Base(filepath.Clean(j.Root))
	}
	if j.UpdateInterval == 0 {
		j.UpdateInterval = DefaultUpdateInterval
	}
	if j.RetryBackoff == 0 {
		j.RetryBackoff = DefaultRetryBackoff
	}
	if j.WatchDebounce == 0 {
		j.WatchDebounce = DefaultWatchDebounce
	}
	if j.IDPolicy == "" {
		j.IDPolicy = "path_hash"
	}
	if j.Checksum == "" {
		j.Checksum = "off"
	}
	if j.Checksum != "off" && j.ChecksumAlgorithm == "" {
		j.ChecksumAlgorithm = "md5"
	}
	if j.Extract.Workers == 0 {
		j.Extract.Workers = runtime.NumCPU()
	}
	if j.Extract.Timeout == 0 {
		j.Extract.Timeout = DefaultExtractTimeout
	}
	if j.Extract.MaxChars == 0 {
		j.Extract.MaxChars = DefaultMaxChars
	}
	if j.Bulk.MaxDocs == 0 {
		j.Bulk.MaxDocs = DefaultMaxDocs
	}
	if j.Bulk.MaxBytes == 0 {
		j.Bulk.MaxBytes = DefaultMaxBytes
	}
	if j.Bulk.MaxInFlight == 0 {
		j.Bulk.MaxInFlight = 1
	}
	if j.Bulk.MaxRetries == 0 {
		j.Bulk.MaxRetries = DefaultMaxRetries
	}
	if j.Bulk.RequestTimeout == 0 {
		j.Bulk.RequestTimeout = DefaultRequestTimeout
	}
}

// Validate checks the settings the schema cannot express.
func (cfg *Config) Validate() error {
	var err error
	seenNames := make(map[string]bool)
	seenRoots := make(map[string]string)
	for _, j := range cfg.Jobs {
		if j.Root == "" {
			err = multierror.Append(err, xerrors.Errorf("job %q: root not specified", j.Name))
			continue
		}
		if seenNames[j.Name] {
			err = multierror.Append(err, xerrors.Errorf("duplicate job name %q", j.Name))
		}
		seenNames[j.Name] = true

		root := filepath.Clean(j.Root)
		if other, dup := seenRoots[root]; dup {
			err = multierror.Append(err, xerrors.Errorf("jobs %q and %q crawl the same root %q", other, j.Name, root))
		}
		seenRoots[root] = j.Name
	}
	if p := cfg.Partition; p != DefaultPartition && !strings.HasPrefix(p, "dns=") {
		err = multierror.Append(err, xerrors.Errorf("invalid partition mode %q", p))
	}
	return err
}

// JobByName returns the job with the given name.
func (cfg *Config) JobByName(name string) (Job, bool) {
	for _, j := range cfg.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}
