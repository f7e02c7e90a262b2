package types

import (
	"io"
	"os"
)

// Command is one configured remote shell command.
type Command struct {
	Command                 string `yaml:"command"`
	Description             string `yaml:"description"`                // shown to the operator, ignored by execution
	ExecuteAfterCompilation bool   `yaml:"execute_after_compilation"` // true = post phase (after artifacts are pulled)
}

// Phase selects which commands run in a single remote execution.
type Phase int

const (
	// PhasePre runs before build artifacts are pulled back.
	PhasePre Phase = iota
	// PhasePost runs after build artifacts are pulled back.
	PhasePost
)

func (p Phase) String() string {
	if p == PhasePost {
		return "post-build"
	}
	return "pre-build"
}

// PhaseOf returns the phase a command belongs to.
func PhaseOf(c Command) Phase {
	if c.ExecuteAfterCompilation {
		return PhasePost
	}
	return PhasePre
}

// Channel is a running remote command. Reads yield combined stdout and
// stderr until the remote side closes; Wait blocks until the command exits.
type Channel interface {
	io.Reader
	Wait() error
	Close() error
}

// RemoteSession is the file and command capability the sync engine needs
// from an authenticated connection.
type RemoteSession interface {
	// Stat returns an error satisfying errors.Is(err, os.ErrNotExist) when
	// path is missing.
	Stat(path string) (os.FileInfo, error)
	Mkdir(path string, mode os.FileMode) error
	ReadDir(path string) ([]os.FileInfo, error)

	// Push opens a write stream for a single file of exactly size bytes.
	// Close finalizes the transfer and waits for the remote acknowledgement.
	Push(path string, mode os.FileMode, size int64) (io.WriteCloser, error)
	// Pull opens a read stream for a single remote file.
	Pull(path string) (io.ReadCloser, os.FileInfo, error)

	Exec(script string) (Channel, error)
}
