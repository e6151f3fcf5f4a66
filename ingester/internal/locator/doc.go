// Package locator finds a Ceph cluster's active manager over SSH.
//
// Locator.ActiveManager opens a Session through a Dialer, runs the status
// command (by default `cephadm shell ceph mgr dump -f json`), decodes the
// JSON dump and returns the host part of active_addr. The session is closed on
// every path.
//
// Errors:
//   - ErrConnection: the entry point could not be reached or authenticated
//   - ErrStatus: the status command failed or its output was not JSON
//   - ErrNoActiveManager: the cluster answered but reports no active manager
//
// SSHDialer is the production Dialer built on golang.org/x/crypto/ssh. Its
// host key policy comes from config and is never defaulted: known_hosts
// verifies against a file, insecure accepts any key.
package locator
