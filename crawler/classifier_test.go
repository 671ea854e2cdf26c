package crawler

import (
	"github.com/Ahmed-Sermani/fscrawler/walker"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(ClassifierTestSuite))

type ClassifierTestSuite struct{}

func (s *ClassifierTestSuite) TestUnderAny(c *gc.C) {
	warnings := []walker.PathWarning{{Path: "locked"}, {Path: "a/b"}}
	specs := []struct {
		path string
		exp  bool
	}{
		{"locked", true},
		{"locked/file.txt", true},
		{"lockedout/file.txt", false},
		{"a/b/c/d.txt", true},
		{"a/bc.txt", false},
		{"a.txt", false},
	}
	for _, spec := range specs {
		c.Assert(underAny(spec.path, warnings), gc.Equals, spec.exp, gc.Commentf("path %q", spec.path))
	}
}

func (s *ClassifierTestSuite) TestKindString(c *gc.C) {
	c.Assert(KindNew.String(), gc.Equals, "new")
	c.Assert(KindTouched.String(), gc.Equals, "touched")
	c.Assert(Kind(42).String(), gc.Equals, "Kind(42)")
}

func (s *ClassifierTestSuite) TestNewHash(c *gc.C) {
	for _, algo := range []string{"md5", "SHA1", "sha-256"} {
		_, err := newHash(algo)
		c.Assert(err, gc.IsNil, gc.Commentf("algorithm %s", algo))
	}
	_, err := newHash("crc32")
	c.Assert(err, gc.ErrorMatches, `unsupported checksum algorithm "crc32"`)
}
