package sshclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"remotebuild/internal/config"
	"remotebuild/internal/logging"
	"remotebuild/internal/pipeline/types"
)

// shellEscape escapes a string for safe single-quoted inclusion in a shell command.
func shellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// Options configures a connection.
type Options struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey string // path to a private key file
	KnownHosts string // known_hosts file; empty skips host key verification
	JumpHost   string // [user@]host[:port]
	Timeout    time.Duration
}

// OptionsFromConfig maps the ssh section of the settings file.
func OptionsFromConfig(c config.SSH) Options {
	return Options{
		Host:       c.Host,
		Port:       c.Port,
		Username:   c.Username,
		Password:   c.Password,
		PrivateKey: config.ExpandHome(c.PrivateKey),
		KnownHosts: config.ExpandHome(c.KnownHosts),
		JumpHost:   c.JumpHost,
		Timeout:    time.Duration(c.Timeout) * time.Second,
	}
}

// SSHClient is an authenticated connection to the build host. File metadata
// goes over sftp, file content over scp, and commands over exec channels.
type SSHClient struct {
	client *ssh.Client
	jump   *ssh.Client
	config *ssh.ClientConfig
	host   string
	port   string
	jumpTo string

	mu   sync.Mutex
	sftp *sftp.Client
	home string
}

var _ types.RemoteSession = (*SSHClient)(nil)

// NewSSHClient prepares a client. If a password is provided it is tried
// first; a private key is added as a second method. At least one auth
// method must be configured.
func NewSSHClient(opts Options) (*SSHClient, error) {
	var authMethods []ssh.AuthMethod

	if opts.Password != "" {
		authMethods = append(authMethods, ssh.Password(opts.Password))
	}

	if opts.PrivateKey != "" {
		key, err := os.ReadFile(opts.PrivateKey)
		if err != nil {
			if len(authMethods) == 0 {
				return nil, fmt.Errorf("unable to read private key: %v", err)
			}
			logging.Warn("private key unreadable, using password only", map[string]interface{}{"path": opts.PrivateKey, "error": err.Error()})
		} else {
			signer, err := ssh.ParsePrivateKey(key)
			if err != nil {
				if len(authMethods) == 0 {
					return nil, fmt.Errorf("unable to parse private key: %v", err)
				}
				logging.Warn("private key invalid, using password only", map[string]interface{}{"path": opts.PrivateKey, "error": err.Error()})
			} else {
				authMethods = append(authMethods, ssh.PublicKeys(signer))
			}
		}
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method configured (provide password or private_key)")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if opts.KnownHosts != "" {
		cb, err := knownhosts.New(opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %v", err)
		}
		hostKeyCallback = cb
	} else {
		logging.Warn("host key verification disabled", map[string]interface{}{"host": opts.Host})
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &SSHClient{
		config: &ssh.ClientConfig{
			User:            opts.Username,
			Auth:            authMethods,
			HostKeyCallback: hostKeyCallback,
			Timeout:         timeout,
		},
		host:   opts.Host,
		port:   strconv.Itoa(opts.Port),
		jumpTo: opts.JumpHost,
	}, nil
}

// Connect dials the host, through the jump host when one is configured,
// and authenticates.
func (c *SSHClient) Connect() error {
	addr := net.JoinHostPort(c.host, c.port)

	if c.jumpTo == "" {
		client, err := ssh.Dial("tcp", addr, c.config)
		if err != nil {
			return fmt.Errorf("failed to dial: %v", err)
		}
		c.client = client
		return nil
	}

	jumpHost, jumpPort := c.parseJumpHost(c.jumpTo)
	jumpConfig := *c.config
	if user := jumpUser(c.jumpTo); user != "" {
		jumpConfig.User = user
	}
	jumpAddr := net.JoinHostPort(jumpHost, jumpPort)
	logging.Debug("dialing jump host", map[string]interface{}{"jump": jumpAddr, "target": addr})

	jump, err := ssh.Dial("tcp", jumpAddr, &jumpConfig)
	if err != nil {
		return fmt.Errorf("failed to dial jump host %s: %v", jumpAddr, err)
	}
	conn, err := jump.Dial("tcp", addr)
	if err != nil {
		jump.Close()
		return fmt.Errorf("failed to dial %s via jump host: %v", addr, err)
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, c.config)
	if err != nil {
		conn.Close()
		jump.Close()
		return fmt.Errorf("failed to establish ssh connection via jump host: %v", err)
	}
	c.jump = jump
	c.client = ssh.NewClient(ncc, chans, reqs)
	return nil
}

// Disconnect closes the connection. x/crypto/ssh has no way to send a
// disconnect reason, so reason and description only reach the log.
func (c *SSHClient) Disconnect(reason, description string) error {
	logging.Info("disconnecting", map[string]interface{}{"reason": reason, "description": description})
	return c.Close()
}

// Close closes the sftp subsystem and the SSH connection.
func (c *SSHClient) Close() error {
	c.mu.Lock()
	if c.sftp != nil {
		c.sftp.Close()
		c.sftp = nil
	}
	c.mu.Unlock()

	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
	}
	if c.jump != nil {
		c.jump.Close()
		c.jump = nil
	}
	return err
}

func (c *SSHClient) sftpClient() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, fmt.Errorf("SSH client not connected")
	}
	if c.sftp != nil {
		return c.sftp, nil
	}
	sc, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp subsystem: %v", err)
	}
	home, err := sc.Getwd()
	if err != nil {
		sc.Close()
		return nil, fmt.Errorf("failed to resolve remote home directory: %v", err)
	}
	c.sftp = sc
	c.home = home
	return sc, nil
}

// resolve expands a leading ~ against the remote login directory. Neither
// sftp nor a quoted scp argument expands it.
func (c *SSHClient) resolve(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	if _, err := c.sftpClient(); err != nil {
		return "", err
	}
	return path.Join(c.home, strings.TrimPrefix(p, "~")), nil
}

func (c *SSHClient) Stat(p string) (os.FileInfo, error) {
	sc, err := c.sftpClient()
	if err != nil {
		return nil, err
	}
	full, err := c.resolve(p)
	if err != nil {
		return nil, err
	}
	return sc.Stat(full)
}

func (c *SSHClient) Mkdir(p string, mode os.FileMode) error {
	sc, err := c.sftpClient()
	if err != nil {
		return err
	}
	full, err := c.resolve(p)
	if err != nil {
		return err
	}
	if err := sc.Mkdir(full); err != nil {
		return err
	}
	return sc.Chmod(full, mode)
}

func (c *SSHClient) ReadDir(p string) ([]os.FileInfo, error) {
	sc, err := c.sftpClient()
	if err != nil {
		return nil, err
	}
	full, err := c.resolve(p)
	if err != nil {
		return nil, err
	}
	return sc.ReadDir(full)
}

// Exec starts script on a fresh channel. Stdout and stderr are merged into
// the returned reader, which must be drained before Wait.
func (c *SSHClient) Exec(script string) (types.Channel, error) {
	if c.client == nil {
		return nil, fmt.Errorf("SSH client not connected")
	}
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %v", err)
	}

	pr, pw := io.Pipe()
	session.Stdout = pw
	session.Stderr = pw

	if err := session.Start(script); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start command: %v", err)
	}

	ch := &execChannel{session: session, r: pr, done: make(chan struct{})}
	go func() {
		ch.err = exitError(session.Wait())
		pw.Close()
		close(ch.done)
	}()
	return ch, nil
}

type execChannel struct {
	session *ssh.Session
	r       *io.PipeReader
	done    chan struct{}
	err     error
}

func (ch *execChannel) Read(p []byte) (int, error) { return ch.r.Read(p) }

func (ch *execChannel) Wait() error {
	<-ch.done
	return ch.err
}

func (ch *execChannel) Close() error {
	ch.r.Close()
	return ch.session.Close()
}

func exitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return &types.ExitStatusError{Status: exitErr.ExitStatus(), Signal: exitErr.Signal()}
	}
	return types.NewError(types.KindTransport, "", err)
}
