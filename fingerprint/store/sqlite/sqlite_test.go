package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	"github.com/Ahmed-Sermani/fscrawler/fingerprint/fingerprinttest"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(SQLiteStoreTestSuite))

type SQLiteStoreTestSuite struct {
	fingerprinttest.SuiteBase
	path  string
	store *SQLiteStore
}

func Test(t *testing.T) {
	gc.TestingT(t)
}

func (s *SQLiteStoreTestSuite) SetUpTest(c *gc.C) {
	s.path = filepath.Join(c.MkDir(), "fingerprints.db")
	store, err := NewSQLiteStore(s.path)
	c.Assert(err, gc.IsNil)
	s.store = store
	s.SetStore(store)
}

func (s *SQLiteStoreTestSuite) TearDownTest(c *gc.C) {
	c.Assert(s.store.Close(), gc.IsNil)
}

func (s *SQLiteStoreTestSuite) TestSurvivesReopen(c *gc.C) {
	set := fingerprint.NewSet(fingerprint.PolicyFilename)
	set.Put(fingerprint.Fingerprint{Path: "a.txt", DocumentID: "a.txt", Size: 7})
	c.Assert(s.store.Save(context.TODO(), "root", set), gc.IsNil)
	c.Assert(s.store.Close(), gc.IsNil)

	reopened, err := NewSQLiteStore(s.path)
	c.Assert(err, gc.IsNil)
	s.store = reopened

	got, err := reopened.Load(context.TODO(), "root")
	c.Assert(err, gc.IsNil)
	c.Assert(got.IDPolicy, gc.Equals, fingerprint.PolicyFilename)
	fp, found := got.Get("a.txt")
	c.Assert(found, gc.Equals, true)
	c.Assert(fp.Size, gc.Equals, int64(7))
}

func (s *SQLiteStoreTestSuite) TestCancelledSaveKeepsPreviousSet(c *gc.C) {
	set := fingerprint.NewSet(fingerprint.PolicyPathHash)
	set.Put(fingerprint.Fingerprint{Path: "a.txt", DocumentID: "1"})
	c.Assert(s.store.Save(context.TODO(), "root", set), gc.IsNil)

	ctx, cancel := context.WithCancel(context.TODO())
	cancel()
	next := fingerprint.NewSet(fingerprint.PolicyPathHash)
	next.Put(fingerprint.Fingerprint{Path: "b.txt", DocumentID: "2"})
	c.Assert(s.store.Save(ctx, "root", next), gc.NotNil)

	got, err := s.store.Load(context.TODO(), "root")
	c.Assert(err, gc.IsNil)
	c.Assert(got.Paths(), gc.DeepEquals, []string{"a.txt"})
}
