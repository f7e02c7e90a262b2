// Package sessiontest provides an in-memory remote session for tests.
package sessiontest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"

	"remotebuild/internal/pipeline/types"
)

// Session is a fake remote host backed by an afero filesystem. Remote paths
// starting with "~" resolve against Home.
type Session struct {
	Fs   afero.Fs
	Home string

	// PushErr, when set, is consulted before each push with the 1-based
	// push count. A non-nil return fails that push.
	PushErr func(path string, n int) error
	// ExecFunc produces output and exit status for a script. Nil means
	// empty output and status 0.
	ExecFunc func(script string) (output string, status int, err error)

	ConnectErr    error
	DisconnectErr error

	Connected    bool
	Disconnected bool
	Scripts      []string
	Pushes       []string
	Mkdirs       []string
	Calls        []string // "connect", "push", "exec", "pull", "disconnect" in order
}

// New returns a session with an empty in-memory filesystem and an existing
// home directory at /home/build.
func New() *Session {
	s := &Session{Fs: afero.NewMemMapFs(), Home: "/home/build"}
	_ = s.Fs.MkdirAll(s.Home, 0755)
	return s
}

func (s *Session) resolve(p string) string {
	if p == "~" {
		return s.Home
	}
	if strings.HasPrefix(p, "~/") {
		return path.Join(s.Home, p[2:])
	}
	return path.Clean(p)
}

func (s *Session) record(call string) {
	if n := len(s.Calls); n > 0 && s.Calls[n-1] == call {
		return
	}
	s.Calls = append(s.Calls, call)
}

func (s *Session) Connect() error {
	s.record("connect")
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.Connected = true
	return nil
}

func (s *Session) Disconnect(reason, description string) error {
	s.record("disconnect")
	s.Disconnected = true
	return s.DisconnectErr
}

func (s *Session) Stat(p string) (os.FileInfo, error) {
	return s.Fs.Stat(s.resolve(p))
}

// Mkdir creates a single directory; the parent must already exist.
func (s *Session) Mkdir(p string, mode os.FileMode) error {
	full := s.resolve(p)
	if _, err := s.Fs.Stat(full); err == nil {
		return &os.PathError{Op: "mkdir", Path: p, Err: os.ErrExist}
	}
	if err := s.requireDir(path.Dir(full)); err != nil {
		return &os.PathError{Op: "mkdir", Path: p, Err: err}
	}
	if err := s.Fs.Mkdir(full, mode); err != nil {
		return err
	}
	s.Mkdirs = append(s.Mkdirs, p)
	return nil
}

func (s *Session) ReadDir(p string) ([]os.FileInfo, error) {
	return afero.ReadDir(s.Fs, s.resolve(p))
}

func (s *Session) Push(p string, mode os.FileMode, size int64) (io.WriteCloser, error) {
	s.record("push")
	full := s.resolve(p)
	n := len(s.Pushes) + 1
	if s.PushErr != nil {
		if err := s.PushErr(p, n); err != nil {
			return nil, err
		}
	}
	if err := s.requireDir(path.Dir(full)); err != nil {
		return nil, fmt.Errorf("scp: %s: %v", p, err)
	}
	return &pushWriter{s: s, name: p, path: full, mode: mode, size: size}, nil
}

func (s *Session) Pull(p string) (io.ReadCloser, os.FileInfo, error) {
	s.record("pull")
	full := s.resolve(p)
	info, err := s.Fs.Stat(full)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("scp: %s: not a regular file", p)
	}
	f, err := s.Fs.Open(full)
	if err != nil {
		return nil, nil, err
	}
	return f, info, nil
}

func (s *Session) Exec(script string) (types.Channel, error) {
	s.record("exec")
	s.Scripts = append(s.Scripts, script)
	if s.ExecFunc == nil {
		return &channel{Reader: strings.NewReader("")}, nil
	}
	out, status, err := s.ExecFunc(script)
	if err != nil {
		return nil, err
	}
	ch := &channel{Reader: strings.NewReader(out)}
	if status != 0 {
		ch.waitErr = &types.ExitStatusError{Status: status}
	}
	return ch, nil
}

// WriteFile creates a remote file and its parents.
func (s *Session) WriteFile(p, content string) error {
	full := s.resolve(p)
	if err := s.Fs.MkdirAll(path.Dir(full), 0755); err != nil {
		return err
	}
	return afero.WriteFile(s.Fs, full, []byte(content), 0644)
}

// ReadFile returns the content of a remote file.
func (s *Session) ReadFile(p string) (string, error) {
	b, err := afero.ReadFile(s.Fs, s.resolve(p))
	return string(b), err
}

func (s *Session) requireDir(p string) error {
	info, err := s.Fs.Stat(p)
	if err != nil {
		return os.ErrNotExist
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}
	return nil
}

type pushWriter struct {
	s      *Session
	name   string
	path   string
	mode   os.FileMode
	size   int64
	buf    bytes.Buffer
	closed bool
}

func (w *pushWriter) Write(p []byte) (int, error) {
	if int64(w.buf.Len()+len(p)) > w.size {
		return 0, fmt.Errorf("write exceeds declared length %d", w.size)
	}
	return w.buf.Write(p)
}

func (w *pushWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if int64(w.buf.Len()) != w.size {
		return fmt.Errorf("short write: sent %d of %d bytes", w.buf.Len(), w.size)
	}
	if err := afero.WriteFile(w.s.Fs, w.path, w.buf.Bytes(), w.mode); err != nil {
		return err
	}
	w.s.Pushes = append(w.s.Pushes, w.name)
	return nil
}

type channel struct {
	io.Reader
	waitErr error
}

func (c *channel) Wait() error  { return c.waitErr }
func (c *channel) Close() error { return nil }
