// Package fingerprinttest provides a test suite shared by all
// fingerprint.Store implementations.
package fingerprinttest

import (
	"context"
	"time"

	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
	gc "gopkg.in/check.v1"
)

// SuiteBase defines a re-usable set of store-related tests that can be
// executed against any type that implements fingerprint.Store.
type SuiteBase struct {
	s fingerprint.Store
}

// SetStore configures the test-suite to run all tests against s.
func (s *SuiteBase) SetStore(store fingerprint.Store) {
	s.s = store
}

// TestLoadUnknownRoot verifies that an unknown root yields an empty set.
func (s *SuiteBase) TestLoadUnknownRoot(c *gc.C) {
	set, err := s.s.Load(context.TODO(), "never-saved")
	c.Assert(err, gc.IsNil)
	c.Assert(set, gc.NotNil)
	c.Assert(set.Len(), gc.Equals, 0)
}

// TestSaveAndLoad verifies that every fingerprint attribute survives a
// save/load cycle.
func (s *SuiteBase) TestSaveAndLoad(c *gc.C) {
	modTime := time.Date(2022, 3, 14, 15, 9, 26, 535897932, time.UTC)
	indexedAt := time.Date(2022, 3, 15, 8, 0, 0, 0, time.UTC)

	set := fingerprint.NewSet(fingerprint.PolicyFilename)
	set.Put(fingerprint.Fingerprint{
		Path:          "docs/a.txt",
		Size:          42,
		ModTime:       modTime,
		Checksum:      "d41d8cd98f00b204e9800998ecf8427e",
		DocumentID:    "a.txt",
		LastIndexedAt: indexedAt,
	})
	set.Put(fingerprint.Fingerprint{Path: "b.txt", Size: 1, ModTime: modTime, DocumentID: "b.txt", LastIndexedAt: indexedAt})
	c.Assert(s.s.Save(context.TODO(), "root", set), gc.IsNil)

	got, err := s.s.Load(context.TODO(), "root")
	c.Assert(err, gc.IsNil)
	c.Assert(got.IDPolicy, gc.Equals, fingerprint.PolicyFilename)
	c.Assert(got.Paths(), gc.DeepEquals, []string{"b.txt", "docs/a.txt"})

	fp, found := got.Get("docs/a.txt")
	c.Assert(found, gc.Equals, true)
	c.Assert(fp.Size, gc.Equals, int64(42))
	c.Assert(fp.ModTime.Equal(modTime), gc.Equals, true, gc.Commentf("mod time lost precision: %v", fp.ModTime))
	c.Assert(fp.LastIndexedAt.Equal(indexedAt), gc.Equals, true)
	c.Assert(fp.Checksum, gc.Equals, "d41d8cd98f00b204e9800998ecf8427e")
	c.Assert(fp.DocumentID, gc.Equals, "a.txt")
}

// TestSaveReplacesWholeSet verifies that paths missing from a saved set are
// gone after loading it back.
func (s *SuiteBase) TestSaveReplacesWholeSet(c *gc.C) {
	first := fingerprint.NewSet(fingerprint.PolicyPathHash)
	first.Put(fingerprint.Fingerprint{Path: "a.txt", DocumentID: "1"})
	first.Put(fingerprint.Fingerprint{Path: "c.txt", DocumentID: "3"})
	c.Assert(s.s.Save(context.TODO(), "root", first), gc.IsNil)

	second := fingerprint.NewSet(fingerprint.PolicyPathHash)
	second.Put(fingerprint.Fingerprint{Path: "a.txt", DocumentID: "1"})
	second.Put(fingerprint.Fingerprint{Path: "b.txt", DocumentID: "2"})
	c.Assert(s.s.Save(context.TODO(), "root", second), gc.IsNil)

	got, err := s.s.Load(context.TODO(), "root")
	c.Assert(err, gc.IsNil)
	c.Assert(got.Paths(), gc.DeepEquals, []string{"a.txt", "b.txt"})
}

// TestSaveEmptySet verifies that saving an empty set clears a root.
func (s *SuiteBase) TestSaveEmptySet(c *gc.C) {
	set := fingerprint.NewSet(fingerprint.PolicyPathHash)
	set.Put(fingerprint.Fingerprint{Path: "a.txt", DocumentID: "1"})
	c.Assert(s.s.Save(context.TODO(), "root", set), gc.IsNil)
	c.Assert(s.s.Save(context.TODO(), "root", fingerprint.NewSet(fingerprint.PolicyPathHash)), gc.IsNil)

	got, err := s.s.Load(context.TODO(), "root")
	c.Assert(err, gc.IsNil)
	c.Assert(got.Len(), gc.Equals, 0)
}

// TestRootsAreIsolated verifies that sets of different roots do not mix.
func (s *SuiteBase) TestRootsAreIsolated(c *gc.C) {
	a := fingerprint.NewSet(fingerprint.PolicyPathHash)
	a.Put(fingerprint.Fingerprint{Path: "shared.txt", DocumentID: "from-a"})
	b := fingerprint.NewSet(fingerprint.PolicyFilename)
	b.Put(fingerprint.Fingerprint{Path: "shared.txt", DocumentID: "from-b"})
	b.Put(fingerprint.Fingerprint{Path: "only-b.txt", DocumentID: "only-b"})

	c.Assert(s.s.Save(context.TODO(), "root-a", a), gc.IsNil)
	c.Assert(s.s.Save(context.TODO(), "root-b", b), gc.IsNil)

	gotA, err := s.s.Load(context.TODO(), "root-a")
	c.Assert(err, gc.IsNil)
	c.Assert(gotA.Paths(), gc.DeepEquals, []string{"shared.txt"})
	fp, _ := gotA.Get("shared.txt")
	c.Assert(fp.DocumentID, gc.Equals, "from-a")

	gotB, err := s.s.Load(context.TODO(), "root-b")
	c.Assert(err, gc.IsNil)
	c.Assert(gotB.IDPolicy, gc.Equals, fingerprint.PolicyFilename)
	c.Assert(gotB.Len(), gc.Equals, 2)
}

// TestLoadedSetIsNotShared verifies that mutating a loaded set does not
// affect the persisted state.
func (s *SuiteBase) TestLoadedSetIsNotShared(c *gc.C) {
	set := fingerprint.NewSet(fingerprint.PolicyPathHash)
	set.Put(fingerprint.Fingerprint{Path: "a.txt", DocumentID: "1"})
	c.Assert(s.s.Save(context.TODO(), "root", set), gc.IsNil)

	set.Put(fingerprint.Fingerprint{Path: "b.txt", DocumentID: "2"})
	got, err := s.s.Load(context.TODO(), "root")
	c.Assert(err, gc.IsNil)
	got.Delete("a.txt")

	again, err := s.s.Load(context.TODO(), "root")
	c.Assert(err, gc.IsNil)
	c.Assert(again.Paths(), gc.DeepEquals, []string{"a.txt"})
}
