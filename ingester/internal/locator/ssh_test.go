package locator

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/cephscope/cephscope/ingester/internal/config"
)

const testPassword = "ceph-admin-pw"

// startSSHServer runs a minimal SSH server on loopback that accepts password
// auth for root and answers every exec request with reply(cmd).
func startSSHServer(t *testing.T, reply func(cmd string) (string, uint32)) (string, ssh.PublicKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "root" && string(pass) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	srvCfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(nc, srvCfg, reply)
		}
	}()
	return ln.Addr().String(), signer.PublicKey()
}

func serveSSH(nc net.Conn, cfg *ssh.ServerConfig, reply func(string) (string, uint32)) {
	defer nc.Close()
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "unsupported") //nolint:errcheck
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					req.Reply(false, nil) //nolint:errcheck
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					req.Reply(false, nil) //nolint:errcheck
					return
				}
				req.Reply(true, nil) //nolint:errcheck
				out, status := reply(payload.Command)
				io.WriteString(ch, out) //nolint:errcheck
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status})) //nolint:errcheck
				return
			}
		}()
	}
}

func insecureDialer(t *testing.T) *SSHDialer {
	t.Helper()
	d, err := NewSSHDialer(config.SSHConfig{HostKeyPolicy: config.HostKeyInsecure, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewSSHDialer: %v", err)
	}
	return d
}

func TestSSHDialer_ActiveManager(t *testing.T) {
	addr, _ := startSSHServer(t, func(cmd string) (string, uint32) {
		if cmd != config.DefaultStatusCommand {
			return "", 1
		}
		return mgrDump, 0
	})

	l := New(insecureDialer(t), config.DefaultStatusCommand)
	host, err := l.ActiveManager(context.Background(), addr, Credentials{Username: "root", Password: testPassword})
	if err != nil {
		t.Fatalf("ActiveManager() error = %v", err)
	}
	if host != "10.0.65.187" {
		t.Errorf("host = %q, want 10.0.65.187", host)
	}
}

func TestSSHDialer_NonZeroExit(t *testing.T) {
	addr, _ := startSSHServer(t, func(string) (string, uint32) { return "", 2 })

	l := New(insecureDialer(t), "ceph mgr dump -f json")
	_, err := l.ActiveManager(context.Background(), addr, Credentials{Username: "root", Password: testPassword})
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("err = %v, want ErrStatus", err)
	}
}

func TestSSHDialer_WrongPassword(t *testing.T) {
	addr, _ := startSSHServer(t, func(string) (string, uint32) { return mgrDump, 0 })

	l := New(insecureDialer(t), "status")
	_, err := l.ActiveManager(context.Background(), addr, Credentials{Username: "root", Password: "wrong"})
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
}

func TestSSHDialer_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	l := New(insecureDialer(t), "status")
	_, err = l.ActiveManager(context.Background(), addr, Credentials{Username: "root", Password: testPassword})
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
}

func TestSSHDialer_KnownHosts(t *testing.T) {
	addr, hostKey := startSSHServer(t, func(string) (string, uint32) { return mgrDump, 0 })

	t.Run("matching key", func(t *testing.T) {
		path := writeKnownHosts(t, addr, hostKey)
		d, err := NewSSHDialer(config.SSHConfig{HostKeyPolicy: config.HostKeyKnownHosts, KnownHostsFile: path, Timeout: 5 * time.Second})
		if err != nil {
			t.Fatalf("NewSSHDialer: %v", err)
		}
		if err := New(d, "status").Check(context.Background(), addr, Credentials{Username: "root", Password: testPassword}); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		_, other, _ := ed25519.GenerateKey(rand.Reader)
		otherSigner, _ := ssh.NewSignerFromKey(other)
		path := writeKnownHosts(t, addr, otherSigner.PublicKey())
		d, err := NewSSHDialer(config.SSHConfig{HostKeyPolicy: config.HostKeyKnownHosts, KnownHostsFile: path, Timeout: 5 * time.Second})
		if err != nil {
			t.Fatalf("NewSSHDialer: %v", err)
		}
		err = New(d, "status").Check(context.Background(), addr, Credentials{Username: "root", Password: testPassword})
		if !errors.Is(err, ErrConnection) {
			t.Fatalf("Check() err = %v, want ErrConnection", err)
		}
	})
}

func TestNewSSHDialer_Errors(t *testing.T) {
	if _, err := NewSSHDialer(config.SSHConfig{}); err == nil {
		t.Error("expected error for empty host key policy")
	}
	missing := filepath.Join(t.TempDir(), "known_hosts")
	if _, err := NewSSHDialer(config.SSHConfig{HostKeyPolicy: config.HostKeyKnownHosts, KnownHostsFile: missing}); err == nil {
		t.Error("expected error for missing known_hosts file")
	}
}

func TestCredentialsFor(t *testing.T) {
	t.Setenv("TEST_CEPH_PW", "pw")
	creds, err := CredentialsFor(config.SSHConfig{Username: "root", PasswordEnv: "TEST_CEPH_PW"})
	if err != nil {
		t.Fatalf("CredentialsFor: %v", err)
	}
	if creds.Username != "root" || creds.Password != "pw" || creds.PrivateKey != nil {
		t.Errorf("creds = %+v", creds)
	}

	if _, err := CredentialsFor(config.SSHConfig{PrivateKeyFile: filepath.Join(t.TempDir(), "id_rsa")}); err == nil {
		t.Error("expected error for missing private key file")
	}
}

func TestAuthMethods_NoCredentials(t *testing.T) {
	if _, err := authMethods(Credentials{Username: "root"}); err == nil {
		t.Error("expected error without password or key")
	}
}

func writeKnownHosts(t *testing.T, addr string, key ssh.PublicKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{addr}, key) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}
	return path
}
