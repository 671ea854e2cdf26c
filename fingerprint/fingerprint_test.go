package fingerprint

import (
	"testing"
	"time"

	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(SetTestSuite))

func Test(t *testing.T) {
	gc.TestingT(t)
}

type SetTestSuite struct{}

func (s *SetTestSuite) TestPathsAreSorted(c *gc.C) {
	set := NewSet(PolicyPathHash)
	for _, p := range []string{"b/c.txt", "a.txt", "b.txt"} {
		set.Put(Fingerprint{Path: p})
	}
	c.Assert(set.Paths(), gc.DeepEquals, []string{"a.txt", "b.txt", "b/c.txt"})
	c.Assert(set.Len(), gc.Equals, 3)

	set.Delete("b.txt")
	c.Assert(set.Paths(), gc.DeepEquals, []string{"a.txt", "b/c.txt"})
}

func (s *SetTestSuite) TestCloneIsIndependent(c *gc.C) {
	set := NewSet(PolicyFilename)
	set.Put(Fingerprint{Path: "a.txt", Size: 1, ModTime: time.Unix(10, 0)})

	cp := set.Clone()
	cp.Put(Fingerprint{Path: "a.txt", Size: 2})
	cp.Put(Fingerprint{Path: "b.txt"})

	orig, _ := set.Get("a.txt")
	c.Assert(orig.Size, gc.Equals, int64(1))
	c.Assert(set.Len(), gc.Equals, 1)
	c.Assert(cp.IDPolicy, gc.Equals, PolicyFilename)
}

func (s *SetTestSuite) TestZeroSetIsUsable(c *gc.C) {
	var set Set
	_, found := set.Get("x")
	c.Assert(found, gc.Equals, false)
	set.Put(Fingerprint{Path: "x"})
	c.Assert(set.Len(), gc.Equals, 1)
}

func (s *SetTestSuite) TestPathHashPolicy(c *gc.C) {
	p := PathHash{}
	id1 := p.DocumentID("root-a", "/data/docs/id1.txt")
	c.Assert(p.DocumentID("root-a", "/data/docs/id1.txt"), gc.Equals, id1, gc.Commentf("ids must be stable"))
	c.Assert(p.DocumentID("root-a", "/data/other/id1.txt"), gc.Not(gc.Equals), id1)
	c.Assert(p.DocumentID("root-b", "/data/docs/id1.txt"), gc.Not(gc.Equals), id1)
}

func (s *SetTestSuite) TestFilenamePolicy(c *gc.C) {
	p := Filename{}
	c.Assert(p.DocumentID("root", "/data/a/roottxtfile.txt"), gc.Equals, "roottxtfile.txt")
	c.Assert(p.DocumentID("root", "/data/b/roottxtfile.txt"), gc.Equals, "roottxtfile.txt")
}

func (s *SetTestSuite) TestPolicyLookup(c *gc.C) {
	c.Assert(PolicyFor(true).Name(), gc.Equals, PolicyFilename)
	c.Assert(PolicyFor(false).Name(), gc.Equals, PolicyPathHash)

	p, err := PolicyByName(PolicyFilename)
	c.Assert(err, gc.IsNil)
	c.Assert(p, gc.Equals, IDPolicy(Filename{}))

	_, err = PolicyByName("md5")
	c.Assert(err, gc.ErrorMatches, `unknown id policy "md5"`)
}
