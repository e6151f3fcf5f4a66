package locator

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/cephscope/cephscope/ingester/internal/config"
)

// SSHDialer opens Sessions over SSH.
type SSHDialer struct {
	hostKeys ssh.HostKeyCallback
	timeout  time.Duration
}

// NewSSHDialer builds a dialer for the cluster's host key policy and timeout.
func NewSSHDialer(cfg config.SSHConfig) (*SSHDialer, error) {
	var cb ssh.HostKeyCallback
	switch cfg.HostKeyPolicy {
	case config.HostKeyInsecure:
		cb = ssh.InsecureIgnoreHostKey() //nolint:gosec // operator opted in
	case config.HostKeyKnownHosts:
		path, err := expandHome(cfg.KnownHostsFile)
		if err != nil {
			return nil, err
		}
		cb, err = knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unknown host key policy %q", cfg.HostKeyPolicy)
	}
	return &SSHDialer{hostKeys: cb, timeout: cfg.Timeout}, nil
}

// CredentialsFor resolves the password and reads the private key file, if any.
func CredentialsFor(cfg config.SSHConfig) (Credentials, error) {
	creds := Credentials{Username: cfg.Username, Password: cfg.Password()}
	if cfg.PrivateKeyFile != "" {
		path, err := expandHome(cfg.PrivateKeyFile)
		if err != nil {
			return Credentials{}, err
		}
		key, err := os.ReadFile(path)
		if err != nil {
			return Credentials{}, fmt.Errorf("read private key: %w", err)
		}
		creds.PrivateKey = key
	}
	return creds, nil
}

// Dial connects and authenticates. The handshake is bounded by both ctx and
// the dialer timeout.
func (d *SSHDialer) Dial(ctx context.Context, addr string, creds Credentials) (Session, error) {
	auth, err := authMethods(creds)
	if err != nil {
		return nil, err
	}
	clientCfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: d.hostKeys,
		Timeout:         d.timeout,
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return &sshSession{client: ssh.NewClient(c, chans, reqs)}, nil
}

func authMethods(creds Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if len(creds.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(creds.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		pw := creds.Password
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no ssh credentials: set a password or a private key")
	}
	return methods, nil
}

type sshSession struct {
	client *ssh.Client
}

// Run executes cmd in a fresh channel. Cancelling ctx closes the connection,
// which unblocks the command.
func (s *sshSession) Run(ctx context.Context, cmd string) ([]byte, []byte, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, nil, err
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case err := <-done:
		return stdout.Bytes(), stderr.Bytes(), err
	case <-ctx.Done():
		s.client.Close()
		<-done
		return nil, nil, ctx.Err()
	}
}

func (s *sshSession) Close() error {
	return s.client.Close()
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
