package transfer

import (
	"io"
	"os"
	"path"
	"path/filepath"

	"remotebuild/internal/logging"
	"remotebuild/internal/pipeline/types"
)

// PullDirectory mirrors the remote tree at remoteDir into localDir, creating
// local directories as needed. Existing local files are overwritten.
func (s *Syncer) PullDirectory(localDir, remoteDir string) error {
	if err := s.ensureLocalDir(localDir); err != nil {
		return err
	}
	return s.pull(localDir, remoteDir)
}

func (s *Syncer) pull(localDir, remoteDir string) error {
	entries, err := s.session.ReadDir(remoteDir)
	if err != nil {
		return remoteStatError(remoteDir, err)
	}

	for _, entry := range entries {
		switch entry.Name() {
		case "", ".", "..", "/":
			continue
		}
		name := path.Base(entry.Name())

		localChild := filepath.Join(localDir, name)
		remoteChild := path.Join(remoteDir, name)

		if entry.IsDir() {
			if err := s.ensureLocalDir(localChild); err != nil {
				return err
			}
			if err := s.pull(localChild, remoteChild); err != nil {
				return err
			}
			continue
		}
		if err := s.pullFile(localChild, remoteChild); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) ensureLocalDir(p string) error {
	info, err := s.fs.Stat(p)
	if err == nil {
		if !info.IsDir() {
			return types.Conflictf(p, "local path is not a directory")
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return types.NewError(types.KindIO, p, err)
	}
	if err := s.fs.MkdirAll(p, DirMode); err != nil {
		return types.NewError(types.KindIO, p, err)
	}
	s.stats.Dirs++
	return nil
}

func (s *Syncer) pullFile(localPath, remotePath string) error {
	r, _, err := s.session.Pull(remotePath)
	if err != nil {
		return types.NewError(types.KindTransport, remotePath, err)
	}
	defer r.Close()

	if info, err := s.fs.Stat(localPath); err == nil && info.IsDir() {
		return types.Conflictf(localPath, "local path is a directory")
	}

	f, err := s.fs.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, localFileMode)
	if err != nil {
		return types.NewError(types.KindIO, localPath, err)
	}

	dst := &trackedWriter{w: f}
	n, err := io.Copy(dst, r)
	if err != nil {
		f.Close()
		if dst.err != nil {
			return types.NewError(types.KindIO, localPath, dst.err)
		}
		return types.NewError(types.KindTransport, remotePath, err)
	}
	if err := r.Close(); err != nil {
		f.Close()
		return types.NewError(types.KindTransport, remotePath, err)
	}
	if err := f.Close(); err != nil {
		return types.NewError(types.KindIO, localPath, err)
	}

	s.stats.Files++
	s.stats.Bytes += n
	logging.Debug("pulled file", map[string]interface{}{"local": localPath, "remote": remotePath, "bytes": n})
	return nil
}
