package walker

import (
	"path"
	"regexp"
	"strings"

	"golang.org/x/xerrors"
)

// IgnoreMarker is the name of the file that excludes its directory, and
// everything below it, from crawling.
const IgnoreMarker = ".fscrawlerignore"

// Filter controls which entries are visited by the walker.
type Filter struct {
	// Includes lists the glob patterns a file must match to be emitted. An
	// empty list includes everything. Patterns without a "/" are matched
	// against the file name, others against "/" + the relative path. A "*"
	// matches any sequence of characters, including separators.
	Includes []string

	// Excludes lists glob patterns for files and directories to skip.
	// Excludes win over Includes.
	Excludes []string

	// MaxDepth limits how deep the walker descends. Files directly under
	// the root are at depth 1. Zero means unlimited.
	MaxDepth int

	// FollowSymlinks makes the walker traverse symbolic links.
	FollowSymlinks bool

	// IncludeHidden makes the walker visit entries whose name starts with a dot.
	IncludeHidden bool

	// IgnoreAbove skips files bigger than the given number of bytes. Zero
	// disables the check.
	IgnoreAbove int64
}

// maxFollowDepth bounds traversal when symlinks are followed and no MaxDepth
// was configured so that link cycles terminate.
const maxFollowDepth = 128

type matcher struct {
	name []*regexp.Regexp
	full []*regexp.Regexp
}

func compilePatterns(patterns []string) (matcher, error) {
	var m matcher
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := globToRegexp(p)
		if err != nil {
			return matcher{}, xerrors.Errorf("invalid pattern %q: %w", p, err)
		}
		if strings.Contains(p, "/") {
			m.full = append(m.full, re)
		} else {
			m.name = append(m.name, re)
		}
	}
	return m, nil
}

func (m matcher) empty() bool { return len(m.name) == 0 && len(m.full) == 0 }

func (m matcher) match(relPath string) bool {
	name := path.Base(relPath)
	for _, re := range m.name {
		if re.MatchString(name) {
			return true
		}
	}
	full := "/" + relPath
	for _, re := range m.full {
		if re.MatchString(full) {
			return true
		}
	}
	return false
}

// globToRegexp converts a case-insensitive glob into an anchored regexp.
func globToRegexp(glob string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("(?i)^")
	for _, r := range glob {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}
