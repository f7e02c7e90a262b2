package sshclient

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"remotebuild/internal/logging"
)

const ackTimeout = 10 * time.Second

// readAck reads a single scp status byte. On 1 or 2 the remote sends a
// message line after it.
func readAck(r *bufio.Reader) error {
	ch := make(chan error, 1)
	go func() {
		b, err := r.ReadByte()
		if err != nil {
			ch <- fmt.Errorf("failed to read scp ack: %v", err)
			return
		}
		switch b {
		case 0:
			ch <- nil
		case 1, 2:
			msg, _ := r.ReadString('\n')
			ch <- fmt.Errorf("scp remote error: %s", strings.TrimSpace(msg))
		default:
			ch <- fmt.Errorf("unknown scp ack: %v", b)
		}
	}()

	select {
	case err := <-ch:
		return err
	case <-time.After(ackTimeout):
		return fmt.Errorf("timeout waiting for scp ack")
	}
}

// scpRemote is the remote scp process; *ssh.Session satisfies it.
type scpRemote interface {
	Wait() error
	Close() error
}

type scpStream struct {
	remote scpRemote
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr bytes.Buffer
}

func (c *SSHClient) startScp(cmd string) (*scpStream, error) {
	if c.client == nil {
		return nil, fmt.Errorf("SSH client not connected")
	}
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %v", err)
	}

	s := &scpStream{remote: session}
	session.Stderr = &s.stderr

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdin pipe: %v", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %v", err)
	}
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)

	logging.Debug("starting remote scp", map[string]interface{}{"cmd": cmd})
	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start scp on remote: %v", err)
	}
	return s, nil
}

// abort tears the stream down after a protocol failure.
func (s *scpStream) abort() {
	s.stdin.Close()
	s.remote.Close()
}

// finish closes stdin and waits for the remote scp to exit.
func (s *scpStream) finish() error {
	s.stdin.Close()
	defer s.remote.Close()
	if err := s.remote.Wait(); err != nil {
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			return fmt.Errorf("remote scp command failed: %v: %s", err, msg)
		}
		return fmt.Errorf("remote scp command failed: %v", err)
	}
	return nil
}

// Push opens an scp sink for a single file. The caller must write exactly
// size bytes; Close sends the terminator and waits for the acknowledgement.
func (c *SSHClient) Push(p string, mode os.FileMode, size int64) (io.WriteCloser, error) {
	full, err := c.resolve(p)
	if err != nil {
		return nil, err
	}
	full = path.Clean(full)

	s, err := c.startScp("scp -t " + shellEscape(path.Dir(full)))
	if err != nil {
		return nil, err
	}
	w, err := s.sink(path.Base(full), mode, size)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// sink runs the receiving side handshake: ready ack, file header, header
// ack. The returned writer accepts exactly size bytes.
func (s *scpStream) sink(name string, mode os.FileMode, size int64) (*scpWriter, error) {
	if err := readAck(s.stdout); err != nil {
		s.abort()
		return nil, err
	}

	// C<mode> <size> <filename>
	if _, err := fmt.Fprintf(s.stdin, "C%04o %d %s\n", mode.Perm(), size, name); err != nil {
		s.abort()
		return nil, fmt.Errorf("failed to send scp header: %v", err)
	}
	if err := readAck(s.stdout); err != nil {
		s.abort()
		return nil, err
	}
	return &scpWriter{stream: s, remaining: size}, nil
}

type scpWriter struct {
	stream    *scpStream
	remaining int64
	closed    bool
}

func (w *scpWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write on closed scp stream")
	}
	if int64(len(p)) > w.remaining {
		return 0, fmt.Errorf("write exceeds declared file length")
	}
	n, err := w.stream.stdin.Write(p)
	w.remaining -= int64(n)
	if err != nil {
		return n, fmt.Errorf("failed to send file data: %v", err)
	}
	return n, nil
}

func (w *scpWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.remaining != 0 {
		w.stream.abort()
		return fmt.Errorf("scp stream closed with %d bytes unsent", w.remaining)
	}
	if _, err := w.stream.stdin.Write([]byte{0}); err != nil {
		w.stream.abort()
		return fmt.Errorf("failed to send scp terminator: %v", err)
	}
	if err := readAck(w.stream.stdout); err != nil {
		w.stream.abort()
		return err
	}
	return w.stream.finish()
}

// Pull opens an scp source for a single remote file.
func (c *SSHClient) Pull(p string) (io.ReadCloser, os.FileInfo, error) {
	full, err := c.resolve(p)
	if err != nil {
		return nil, nil, err
	}
	full = path.Clean(full)

	s, err := c.startScp("scp -f " + shellEscape(full))
	if err != nil {
		return nil, nil, err
	}
	r, info, err := s.source()
	if err != nil {
		return nil, nil, err
	}
	return r, info, nil
}

// source requests the single file record from a remote scp -f and leaves
// the stream positioned at the first data byte.
func (s *scpStream) source() (*scpReader, *scpFileInfo, error) {
	// request the first record
	if _, err := s.stdin.Write([]byte{0}); err != nil {
		s.abort()
		return nil, nil, fmt.Errorf("failed to write scp null byte: %v", err)
	}

	b, err := s.stdout.ReadByte()
	if err != nil {
		s.abort()
		return nil, nil, fmt.Errorf("failed to read scp header byte: %v", err)
	}
	if b == 1 || b == 2 {
		msg, _ := s.stdout.ReadString('\n')
		s.abort()
		return nil, nil, fmt.Errorf("scp remote error: %s", strings.TrimSpace(msg))
	}
	if b != 'C' {
		s.abort()
		return nil, nil, fmt.Errorf("unexpected scp header: %v", b)
	}

	headerLine, err := s.stdout.ReadString('\n')
	if err != nil {
		s.abort()
		return nil, nil, fmt.Errorf("failed to read scp header line: %v", err)
	}
	info, err := parseScpHeader(headerLine)
	if err != nil {
		s.abort()
		return nil, nil, err
	}

	// ready to receive data
	if _, err := s.stdin.Write([]byte{0}); err != nil {
		s.abort()
		return nil, nil, fmt.Errorf("failed to write scp null byte: %v", err)
	}

	return &scpReader{stream: s, data: &io.LimitedReader{R: s.stdout, N: info.size}}, info, nil
}

type scpReader struct {
	stream *scpStream
	data   *io.LimitedReader
	closed bool
}

func (r *scpReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, fmt.Errorf("read on closed scp stream")
	}
	return r.data.Read(p)
}

// Close consumes the trailing acknowledgement. Closing before the whole
// file was read aborts the transfer.
func (r *scpReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if r.data.N > 0 {
		r.stream.abort()
		return fmt.Errorf("scp stream closed with %d bytes unread", r.data.N)
	}
	if err := readAck(r.stream.stdout); err != nil {
		r.stream.abort()
		return fmt.Errorf("scp did not acknowledge data: %v", err)
	}
	if _, err := r.stream.stdin.Write([]byte{0}); err != nil {
		r.stream.abort()
		return fmt.Errorf("failed to write scp null byte: %v", err)
	}
	return r.stream.finish()
}

// parseScpHeader parses "<mode> <size> <filename>\n" following the C byte.
func parseScpHeader(line string) (*scpFileInfo, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\n"), " ", 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("invalid scp header: %q", line)
	}
	mode, err := strconv.ParseUint(parts[0], 8, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid mode in scp header: %v", err)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("invalid size in scp header: %q", parts[1])
	}
	return &scpFileInfo{name: parts[2], size: size, mode: os.FileMode(mode).Perm()}, nil
}

type scpFileInfo struct {
	name string
	size int64
	mode os.FileMode
}

func (fi *scpFileInfo) Name() string       { return fi.name }
func (fi *scpFileInfo) Size() int64        { return fi.size }
func (fi *scpFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *scpFileInfo) ModTime() time.Time { return time.Time{} }
func (fi *scpFileInfo) IsDir() bool        { return false }
func (fi *scpFileInfo) Sys() interface{}   { return nil }
