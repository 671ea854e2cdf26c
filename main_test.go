package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Ahmed-Sermani/fscrawler/config"
	"github.com/Ahmed-Sermani/fscrawler/fingerprint/store/file"
	"github.com/Ahmed-Sermani/fscrawler/partition"
	crawlersvc "github.com/Ahmed-Sermani/fscrawler/service/crawler"
	"github.com/sirupsen/logrus"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(MainTestSuite))

type MainTestSuite struct {
	rootLogger *logrus.Logger
	logger     *logrus.Entry
}

func Test(t *testing.T) {
	gc.TestingT(t)
}

func (s *MainTestSuite) SetUpTest(c *gc.C) {
	s.rootLogger = logrus.New()
	s.rootLogger.Out = io.Discard
	s.logger = logrus.NewEntry(s.rootLogger)
}

func (s *MainTestSuite) TestPartitionDetector(c *gc.C) {
	det, err := getPartitionDetector("single")
	c.Assert(err, gc.IsNil)
	c.Assert(det, gc.Equals, partition.Detector(partition.Fixed{Partition: 0, NumPartitions: 1}))

	det, err = getPartitionDetector("dns=fscrawler-headless")
	c.Assert(err, gc.IsNil)
	c.Assert(det, gc.FitsTypeOf, partition.FromSRVRecords{})

	_, err = getPartitionDetector("random")
	c.Assert(err, gc.ErrorMatches, `unsupported partition detection mode: "random"`)
}

func (s *MainTestSuite) TestFingerprintStores(c *gc.C) {
	dir := c.MkDir()

	store, err := getFingerprintStore("in-memory://", s.logger)
	c.Assert(err, gc.IsNil)
	c.Assert(store.Close(), gc.IsNil)

	store, err = getFingerprintStore("file://"+filepath.Join(dir, "status"), s.logger)
	c.Assert(err, gc.IsNil)
	c.Assert(store, gc.FitsTypeOf, &file.Store{})
	c.Assert(store.Close(), gc.IsNil)

	store, err = getFingerprintStore("sqlite://"+filepath.Join(dir, "status.db"), s.logger)
	c.Assert(err, gc.IsNil)
	c.Assert(store.Close(), gc.IsNil)
	_, err = os.Stat(filepath.Join(dir, "status.db"))
	c.Assert(err, gc.IsNil)

	_, err = getFingerprintStore("redis://localhost", s.logger)
	c.Assert(err, gc.ErrorMatches, `unsupported fingerprint store URI scheme: "redis"`)
}

func (s *MainTestSuite) TestIndex(c *gc.C) {
	idx, err := getIndex(config.Index{URI: "in-memory://"}, s.logger)
	c.Assert(err, gc.IsNil)
	c.Assert(idx, gc.NotNil)

	_, err = getIndex(config.Index{URI: "solr://localhost"}, s.logger)
	c.Assert(err, gc.ErrorMatches, `unsupported index URI scheme: "solr"`)
}

func (s *MainTestSuite) TestSelectJobs(c *gc.C) {
	cfg := &config.Config{Jobs: []config.Job{{Name: "a", Root: "/a"}, {Name: "b", Root: "/b"}}}

	jobs, err := selectJobs(cfg, nil)
	c.Assert(err, gc.IsNil)
	c.Assert(jobs, gc.HasLen, 2)

	jobs, err = selectJobs(cfg, []string{"b"})
	c.Assert(err, gc.IsNil)
	c.Assert(jobs, gc.DeepEquals, []config.Job{{Name: "b", Root: "/b"}})

	_, err = selectJobs(cfg, []string{"c"})
	c.Assert(err, gc.ErrorMatches, `unknown job "c"`)

	_, err = selectJobs(new(config.Config), nil)
	c.Assert(err, gc.ErrorMatches, "no jobs configured.*")
}

func (s *MainTestSuite) TestSetupServices(c *gc.C) {
	root := c.MkDir()
	cfg := &config.Config{
		Admin: config.Admin{Listen: "127.0.0.1:0"},
		Store: config.Store{URI: "file://" + c.MkDir()},
		Jobs:  []config.Job{{Name: "docs", Root: root, Watch: true}},
	}
	cfg.SetDefaults()

	b, err := openBackends(cfg, s.logger)
	c.Assert(err, gc.IsNil)
	defer b.close(s.logger)
	c.Assert(b.locker, gc.NotNil, gc.Commentf("file store should provide a cycle lock"))

	group, err := setupServices(cfg, b, s.logger)
	c.Assert(err, gc.IsNil)
	c.Assert(group, gc.HasLen, 2)
	c.Assert(group[0].Name(), gc.Equals, "crawler:docs")
	c.Assert(group[1].Name(), gc.Equals, "admin")

	// The startup cycle is already queued.
	c.Assert(group[0].(*crawlersvc.Service).TriggerCycle(), gc.Equals, false)
}

func (s *MainTestSuite) TestCrawlCommand(c *gc.C) {
	root := c.MkDir()
	c.Assert(os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha"), 0o644), gc.IsNil)
	c.Assert(os.MkdirAll(filepath.Join(root, "sub"), 0o755), gc.IsNil)
	c.Assert(os.WriteFile(filepath.Join(root, "sub", "b.html"), []byte("<title>B</title><p>beta</p>"), 0o644), gc.IsNil)

	cfgPath := filepath.Join(c.MkDir(), "fscrawler.yaml")
	c.Assert(os.WriteFile(cfgPath, []byte("store:\n  uri: file://"+c.MkDir()+"\n"), 0o600), gc.IsNil)

	var out bytes.Buffer
	cmd := newRootCmd(s.rootLogger, s.logger)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"crawl", "--config", cfgPath, "--log-level", "error", "--root", root})
	c.Assert(cmd.Execute(), gc.IsNil)

	c.Assert(out.String(), gc.Matches, `(?s).*files\s+2 discovered, 2 new, 0 modified, 0 unchanged, 0 removed.*`)
	c.Assert(out.String(), gc.Matches, `(?s).*index\s+2 indexed, 0 deleted, 0 failed.*`)
	c.Assert(s.rootLogger.GetLevel(), gc.Equals, logrus.ErrorLevel)
}

func (s *MainTestSuite) TestCrawlCommandWithoutJobs(c *gc.C) {
	cmd := newRootCmd(s.rootLogger, s.logger)
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"crawl"})
	c.Assert(cmd.Execute(), gc.ErrorMatches, "no jobs configured.*")
}

func (s *MainTestSuite) TestTriggerRequiresAdminAddress(c *gc.C) {
	cmd := newRootCmd(s.rootLogger, s.logger)
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"trigger", "docs"})
	c.Assert(cmd.Execute(), gc.ErrorMatches, "admin address must be specified.*")
}
