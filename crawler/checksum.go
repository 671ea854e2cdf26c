package crawler

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"strings"

	"github.com/Ahmed-Sermani/fscrawler/walker"
	"golang.org/x/xerrors"
)

func newHash(algorithm string) (hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "md5":
		return md5.New(), nil
	case "sha1", "sha-1":
		return sha1.New(), nil
	case "sha256", "sha-256":
		return sha256.New(), nil
	default:
		return nil, xerrors.Errorf("unsupported checksum algorithm %q", algorithm)
	}
}

// fileChecksum hashes the contents of p.
func fileChecksum(ctx context.Context, src walker.Source, p, algorithm string) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	rc, err := src.Open(ctx, p)
	if err != nil {
		return "", xerrors.Errorf("checksum %s: %w", p, err)
	}
	defer func() { _ = rc.Close() }()
	if _, err := io.Copy(h, rc); err != nil {
		return "", xerrors.Errorf("checksum %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
