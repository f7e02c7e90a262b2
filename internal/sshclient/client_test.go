package sshclient

import (
	"bufio"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"remotebuild/internal/config"
	"remotebuild/internal/pipeline/types"
)

func TestParseJumpHost(t *testing.T) {
	client := &SSHClient{}

	tests := []struct {
		input        string
		expectedHost string
		expectedPort string
		expectedUser string
	}{
		{"jump.example.com", "jump.example.com", "22", ""},
		{"jump.example.com:2222", "jump.example.com", "2222", ""},
		{"user@jump.example.com", "jump.example.com", "22", "user"},
		{"user@jump.example.com:2222", "jump.example.com", "2222", "user"},
		{"192.168.1.100", "192.168.1.100", "22", ""},
		{"192.168.1.100:8022", "192.168.1.100", "8022", ""},
	}

	for _, test := range tests {
		host, port := client.parseJumpHost(test.input)
		if host != test.expectedHost || port != test.expectedPort {
			t.Errorf("parseJumpHost(%q) = (%q, %q), expected (%q, %q)",
				test.input, host, port, test.expectedHost, test.expectedPort)
		}
		if user := jumpUser(test.input); user != test.expectedUser {
			t.Errorf("jumpUser(%q) = %q, expected %q", test.input, user, test.expectedUser)
		}
	}
}

func TestShellEscape(t *testing.T) {
	if got := shellEscape("/srv/my app"); got != "'/srv/my app'" {
		t.Errorf("unexpected: %s", got)
	}
	if got := shellEscape("it's"); got != `'it'\''s'` {
		t.Errorf("unexpected: %s", got)
	}
}

func TestParseScpHeader(t *testing.T) {
	fi, err := parseScpHeader("0755 1024 my binary\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fi.Name() != "my binary" || fi.Size() != 1024 || fi.Mode() != 0755 || fi.IsDir() {
		t.Fatalf("unexpected file info: %+v", fi)
	}

	for _, bad := range []string{"0644 12\n", "9999 1 x\n", "0644 -1 x\n", "0644 abc x\n"} {
		if _, err := parseScpHeader(bad); err == nil {
			t.Errorf("expected error for header %q", bad)
		}
	}
}

func TestReadAck(t *testing.T) {
	if err := readAck(bufio.NewReader(strings.NewReader("\x00"))); err != nil {
		t.Fatalf("expected ok ack, got %v", err)
	}

	err := readAck(bufio.NewReader(strings.NewReader("\x01scp: /nope: No such file or directory\n")))
	if err == nil || !strings.Contains(err.Error(), "No such file or directory") {
		t.Fatalf("expected remote error message, got %v", err)
	}

	if err := readAck(bufio.NewReader(strings.NewReader(""))); err == nil {
		t.Fatalf("expected error on EOF")
	}
}

func TestExitErrorMapping(t *testing.T) {
	if exitError(nil) != nil {
		t.Fatalf("nil should stay nil")
	}
	err := exitError(errors.New("connection lost"))
	if !errors.Is(err, types.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestNewSSHClientRequiresAuth(t *testing.T) {
	if _, err := NewSSHClient(Options{Host: "h", Port: 22, Username: "u"}); err == nil {
		t.Fatalf("expected error without auth methods")
	}

	_, err := NewSSHClient(Options{Host: "h", Port: 22, Username: "u", PrivateKey: "/does/not/exist"})
	if err == nil || !strings.Contains(err.Error(), "private key") {
		t.Fatalf("expected private key error, got %v", err)
	}

	// a bad key is tolerated when a password is also set
	c, err := NewSSHClient(Options{Host: "h", Port: 2222, Username: "u", Password: "p", PrivateKey: "/does/not/exist"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.port != "2222" || c.config.Timeout != 30*time.Second {
		t.Fatalf("unexpected client config: port=%s timeout=%v", c.port, c.config.Timeout)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	o := OptionsFromConfig(config.SSH{Host: "h", Port: 22, Username: "u", PrivateKey: "~/.ssh/id_ed25519", Timeout: 5})
	if o.PrivateKey != home+"/.ssh/id_ed25519" {
		t.Errorf("private key not expanded: %s", o.PrivateKey)
	}
	if o.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", o.Timeout)
	}
}

func TestDisconnectWithoutConnection(t *testing.T) {
	c, err := NewSSHClient(Options{Host: "h", Port: 22, Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Disconnect("finished", "done"); err != nil {
		t.Fatalf("disconnect on unconnected client: %v", err)
	}
	if _, err := c.Stat("/tmp"); err == nil {
		t.Fatalf("expected error on unconnected client")
	}
}
