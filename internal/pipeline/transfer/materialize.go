package transfer

import (
	"errors"
	"os"
	"path"
	"strings"

	"remotebuild/internal/logging"
	"remotebuild/internal/pipeline/types"
)

// EnsureDirectory creates every missing component of the remote path p.
// A component that exists as anything but a directory is a conflict and
// stops the walk, since nothing can be created beneath it.
func (s *Syncer) EnsureDirectory(p string) error {
	for _, prefix := range pathPrefixes(p) {
		info, err := s.session.Stat(prefix)
		if err == nil {
			if !info.IsDir() {
				return types.Conflictf(prefix, "remote path is not a directory")
			}
			continue
		}
		if !errors.Is(err, os.ErrNotExist) {
			return types.NewError(types.KindTransport, prefix, err)
		}

		if err := s.session.Mkdir(prefix, DirMode); err != nil {
			return types.NewError(types.KindTransport, prefix, err)
		}
		s.stats.Dirs++
		logging.Debug("created remote directory", map[string]interface{}{"path": prefix})
	}
	return nil
}

// pathPrefixes returns the cumulative prefixes of a POSIX path, shortest
// first: "/a/b" gives "/a", "/a/b"; "~/a" gives "~", "~/a". The root itself
// is never returned.
func pathPrefixes(p string) []string {
	p = path.Clean(p)
	if p == "/" || p == "." {
		return nil
	}

	cur := ""
	if strings.HasPrefix(p, "/") {
		cur = "/"
	}
	var out []string
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" {
			continue
		}
		cur = path.Join(cur, part)
		out = append(out, cur)
	}
	return out
}
