// Package transfer mirrors directory trees between the local filesystem and
// a remote session, one file at a time.
package transfer

import (
	"errors"
	"io"
	"os"

	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"

	"remotebuild/internal/pipeline/types"
	"remotebuild/internal/util"
)

// Every pushed file and created directory gets this mode; source
// permissions are not mirrored.
const (
	DirMode  os.FileMode = 0755
	FileMode os.FileMode = 0755

	localFileMode os.FileMode = 0644
)

var printer = util.Default

// Stats counts what a Syncer transferred.
type Stats struct {
	Files   int
	Dirs    int // remote directories created on push, local ones on pull
	Bytes   int64
	Skipped int // entries matched by the ignore list
}

// Syncer runs push, pull and materialization against one session. It is not
// safe for concurrent use.
type Syncer struct {
	session types.RemoteSession
	fs      afero.Fs
	ignore  *gitignore.GitIgnore
	stats   Stats
}

// New returns a Syncer over session using fs for the local side. A nil fs
// means the OS filesystem.
func New(session types.RemoteSession, fs afero.Fs) *Syncer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Syncer{session: session, fs: fs}
}

// SetIgnore installs gitignore-style patterns that PushDirectory skips.
// Patterns are matched against the slash-separated path relative to the
// push root.
func (s *Syncer) SetIgnore(patterns []string) {
	if len(patterns) == 0 {
		s.ignore = nil
		return
	}
	s.ignore = gitignore.CompileIgnoreLines(patterns...)
}

func (s *Syncer) Stats() Stats { return s.stats }

func (s *Syncer) ResetStats() { s.stats = Stats{} }

// EnsureDirectory materializes path on the remote side.
func EnsureDirectory(session types.RemoteSession, path string) error {
	return New(session, nil).EnsureDirectory(path)
}

// PushDirectory mirrors localDir onto remoteDir.
func PushDirectory(session types.RemoteSession, localDir, remoteDir string) error {
	return New(session, nil).PushDirectory(localDir, remoteDir)
}

// PullDirectory mirrors remoteDir onto localDir.
func PullDirectory(session types.RemoteSession, localDir, remoteDir string) error {
	return New(session, nil).PullDirectory(localDir, remoteDir)
}

// trackedReader remembers the first non-EOF error from the local side so a
// failed copy can be attributed to the right end.
type trackedReader struct {
	r   io.Reader
	err error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

type trackedWriter struct {
	w   io.Writer
	err error
}

func (t *trackedWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil && t.err == nil {
		t.err = err
	}
	return n, err
}

func remoteStatError(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return types.NewError(types.KindNotFound, path, err)
	}
	return types.NewError(types.KindTransport, path, err)
}
