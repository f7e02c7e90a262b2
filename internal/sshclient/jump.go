package sshclient

import (
	"net"
	"strings"
)

// parseJumpHost splits "[user@]host[:port]" into host and port; the port
// defaults to 22.
func (c *SSHClient) parseJumpHost(target string) (string, string) {
	if i := strings.LastIndex(target, "@"); i >= 0 {
		target = target[i+1:]
	}
	if host, port, err := net.SplitHostPort(target); err == nil {
		return host, port
	}
	return target, "22"
}

// jumpUser returns the user part of a jump host string, if any.
func jumpUser(target string) string {
	if i := strings.LastIndex(target, "@"); i >= 0 {
		return target[:i]
	}
	return ""
}
