package locator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

var (
	ErrConnection      = errors.New("locator: connection failed")
	ErrStatus          = errors.New("locator: status command failed")
	ErrNoActiveManager = errors.New("locator: no active manager")
)

// Credentials authenticate a remote administrative session.
type Credentials struct {
	Username   string
	Password   string
	PrivateKey []byte // optional PEM-encoded key
}

// Session is an open remote administrative session.
type Session interface {
	// Run executes cmd and returns its standard output and standard error.
	Run(ctx context.Context, cmd string) (stdout, stderr []byte, err error)
	Close() error
}

// Dialer opens Sessions.
type Dialer interface {
	Dial(ctx context.Context, addr string, creds Credentials) (Session, error)
}

// managerDump is the subset of `ceph mgr dump -f json` we need.
type managerDump struct {
	ActiveName string `json:"active_name"`
	ActiveAddr string `json:"active_addr"`
	Available  bool   `json:"available"`
}

// Locator resolves the active manager of a cluster.
type Locator struct {
	dialer  Dialer
	command string
}

// New returns a Locator that runs command through d.
func New(d Dialer, command string) *Locator {
	return &Locator{dialer: d, command: command}
}

// ActiveManager connects to addr and returns the active manager's host,
// without port or nonce.
func (l *Locator) ActiveManager(ctx context.Context, addr string, creds Credentials) (host string, err error) {
	sess, err := l.dialer.Dial(ctx, addr, creds)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrConnection, addr, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			slog.Debug("locator: close session", "addr", addr, "err", cerr)
		}
	}()

	stdout, stderr, err := sess.Run(ctx, l.command)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrStatus, addr, ctx.Err())
		}
		return "", fmt.Errorf("%w: %s: %v: %s", ErrStatus, addr, err, firstLine(stderr))
	}

	var dump managerDump
	if err := json.Unmarshal(stdout, &dump); err != nil {
		return "", fmt.Errorf("%w: %s: decode output: %v", ErrStatus, addr, err)
	}

	host = HostOf(dump.ActiveAddr)
	if host == "" {
		return "", fmt.Errorf("%w: %s", ErrNoActiveManager, addr)
	}
	slog.Debug("locator: active manager", "addr", addr, "name", dump.ActiveName, "host", host)
	return host, nil
}

// Check opens and closes a session to addr. It reports reachability only.
func (l *Locator) Check(ctx context.Context, addr string, creds Credentials) error {
	sess, err := l.dialer.Dial(ctx, addr, creds)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnection, addr, err)
	}
	return sess.Close()
}

// HostOf strips the port and the "/nonce" suffix from a Ceph address such as
// "10.0.65.187:6801/2831467" or "[fd00::1]:6800/12".
func HostOf(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	// "host:" or similar; a bare IPv6 address has several colons and is kept.
	if strings.Count(addr, ":") == 1 {
		host, _, _ := strings.Cut(addr, ":")
		return host
	}
	return strings.Trim(addr, "[]")
}

func firstLine(b []byte) string {
	s, _, _ := strings.Cut(strings.TrimSpace(string(b)), "\n")
	return s
}
