package transfer

import (
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"

	"remotebuild/internal/logging"
	"remotebuild/internal/pipeline/types"
)

// PushDirectory mirrors the local tree at localDir onto remoteDir. The
// remote root is created when missing. Entries are visited in name order
// and the first failure aborts the push; files already sent stay on the
// remote host.
func (s *Syncer) PushDirectory(localDir, remoteDir string) error {
	return s.push(localDir, remoteDir, "")
}

func (s *Syncer) push(localDir, remoteDir, rel string) error {
	info, err := s.fs.Stat(localDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.NewError(types.KindNotFound, localDir, err)
		}
		return types.NewError(types.KindIO, localDir, err)
	}
	if !info.IsDir() {
		return types.Conflictf(localDir, "local path is not a directory")
	}

	remote, err := s.session.Stat(remoteDir)
	switch {
	case err == nil:
		if !remote.IsDir() {
			return types.Conflictf(remoteDir, "remote path is not a directory")
		}
	case errors.Is(err, os.ErrNotExist):
		printer.Printf("📁 %s does not exist on the remote host, creating it\n", remoteDir)
		if err := s.EnsureDirectory(remoteDir); err != nil {
			return err
		}
	default:
		return types.NewError(types.KindTransport, remoteDir, err)
	}

	entries, err := afero.ReadDir(s.fs, localDir)
	if err != nil {
		return types.NewError(types.KindIO, localDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		localChild := filepath.Join(localDir, name)
		remoteChild := path.Join(remoteDir, name)
		relChild := path.Join(rel, name)

		isDir := entry.IsDir()
		if entry.Mode()&os.ModeSymlink != 0 {
			// Linked directories are not descended into, so link cycles
			// cannot recurse. Linked files are sent by content.
			if target, err := s.fs.Stat(localChild); err == nil && target.IsDir() {
				s.stats.Skipped++
				printer.Printf("⚠️  skipping symlinked directory %s\n", localChild)
				logging.Warn("skipping symlinked directory", map[string]interface{}{"path": relChild})
				continue
			}
		}

		if s.ignored(relChild, isDir) {
			s.stats.Skipped++
			logging.Debug("skipping ignored path", map[string]interface{}{"path": relChild})
			continue
		}

		if isDir {
			if err := s.push(localChild, remoteChild, relChild); err != nil {
				return err
			}
			continue
		}
		if err := s.pushFile(localChild, remoteChild); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) ignored(rel string, isDir bool) bool {
	if s.ignore == nil {
		return false
	}
	if isDir {
		rel += "/"
	}
	return s.ignore.MatchesPath(rel)
}

// pushFile streams one file. The declared length is taken from a stat made
// right before the stream opens; exactly that many bytes are sent.
func (s *Syncer) pushFile(localPath, remotePath string) error {
	f, err := s.fs.Open(localPath)
	if err != nil {
		return types.NewError(types.KindIO, localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return types.NewError(types.KindIO, localPath, err)
	}
	size := info.Size()

	w, err := s.session.Push(remotePath, FileMode, size)
	if err != nil {
		return types.NewError(types.KindTransport, remotePath, err)
	}

	src := &trackedReader{r: f}
	n, err := io.CopyN(w, src, size)
	if err != nil {
		w.Close()
		if src.err != nil {
			return types.NewError(types.KindIO, localPath, src.err)
		}
		if errors.Is(err, io.EOF) {
			return types.NewError(types.KindIO, localPath, errors.New("file shrank during transfer"))
		}
		return types.NewError(types.KindTransport, remotePath, err)
	}
	if err := w.Close(); err != nil {
		return types.NewError(types.KindTransport, remotePath, err)
	}

	s.stats.Files++
	s.stats.Bytes += n
	logging.Debug("pushed file", map[string]interface{}{"local": localPath, "remote": remotePath, "bytes": n})
	return nil
}
