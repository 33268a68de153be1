// Package transport supplies TCP/Unix-socket Dialer implementations for
// asyncmy.Pool. DSN parsing and socket establishment are explicitly out
// of scope for the core client library (see spec.md's Non-goals); this
// package is the one seam where that decision is made concrete, kept
// separate so core packages never import net directly.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// TCPDialer builds an asyncmy.Dialer that connects to host:port over TCP,
// honoring both ctx's deadline and dialTimeout; whichever expires first
// ends the dial.
func TCPDialer(host string, port int, dialTimeout time.Duration) func(ctx context.Context) (io.ReadWriteCloser, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	d := net.Dialer{Timeout: dialTimeout}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", addr, err)
		}
		return conn, nil
	}
}

// UnixSocketDialer builds an asyncmy.Dialer that connects to a Unix
// domain socket at path, for local MySQL/MariaDB installs that expose
// one instead of (or in addition to) TCP.
func UnixSocketDialer(path string, dialTimeout time.Duration) func(ctx context.Context) (io.ReadWriteCloser, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	d := net.Dialer{Timeout: dialTimeout}
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		conn, err := d.DialContext(ctx, "unix", path)
		if err != nil {
			return nil, fmt.Errorf("dialing unix socket %s: %w", path, err)
		}
		return conn, nil
	}
}
