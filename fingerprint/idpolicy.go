package fingerprint

import (
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

// Names of the supported document id policies.
const (
	PolicyPathHash = "path_hash"
	PolicyFilename = "filename"
)

// pathNamespace is the UUIDv5 namespace for path-derived document ids.
var pathNamespace = uuid.MustParse("6f2b5b7e-3c1d-4c51-9d0e-5a8a1f6c2e90")

// IDPolicy assigns index document ids to files.
type IDPolicy interface {
	Name() string

	// DocumentID returns the id for the file at absPath below the root
	// identified by root.
	DocumentID(root, absPath string) string
}

// PathHash derives ids by hashing the root identity together with the
// absolute path of the file. Ids are stable across runs and never collide
// between roots.
type PathHash struct{}

func (PathHash) Name() string { return PolicyPathHash }

func (PathHash) DocumentID(root, absPath string) string {
	return uuid.NewSHA1(pathNamespace, []byte(root+"\x00"+absPath)).String()
}

// Filename uses the base name of the file as its id. Files sharing a name in
// different directories map onto the same document; the last one indexed
// wins.
type Filename struct{}

func (Filename) Name() string { return PolicyFilename }

func (Filename) DocumentID(_, absPath string) string {
	return filepath.Base(absPath)
}

// PolicyFor returns the id policy matching the filename-as-id setting.
func PolicyFor(filenameAsID bool) IDPolicy {
	if filenameAsID {
		return Filename{}
	}
	return PathHash{}
}

// PolicyByName resolves a policy from its persisted name.
func PolicyByName(name string) (IDPolicy, error) {
	switch name {
	case PolicyPathHash, "":
		return PathHash{}, nil
	case PolicyFilename:
		return Filename{}, nil
	default:
		return nil, xerrors.Errorf("unknown id policy %q", name)
	}
}
