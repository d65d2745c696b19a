// Package sshtransport opens an SSH connection to a container or host,
// negotiates a PTY shell, and exposes a duplex byte stream through typed
// channels rather than callbacks, so ownership stays unambiguous: the
// broker's session record owns the Transport outright, and nothing holds a
// back-reference into the session.
package sshtransport

import (
	"fmt"
	"sync"
	"time"

	"github.com/webshell/broker/internal/logging"

	"golang.org/x/crypto/ssh"
)

var logger = logging.GetLogger("ssh-transport")

// readBufSize is an implementation detail of the output pump, not a tunable
// policy constant.
const readBufSize = 32 * 1024

// Config carries the dial timeout and keepalive policy for a transport,
// alongside the other policy constants the broker wires in at construction.
type Config struct {
	// ReadyTimeout bounds the SSH dial and handshake.
	ReadyTimeout time.Duration `toml:"ready_timeout"`

	// KeepaliveInterval is the period between SSH keepalive requests sent
	// while the shell is open.
	KeepaliveInterval time.Duration `toml:"keepalive_interval"`

	// KeepaliveMaxMiss is how many consecutive unanswered keepalives are
	// tolerated before the transport declares itself dead.
	KeepaliveMaxMiss int `toml:"keepalive_max_miss"`
}

// DefaultConfig returns the transport's policy defaults.
func DefaultConfig() Config {
	return Config{
		ReadyTimeout:      30 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		KeepaliveMaxMiss:  3,
	}
}

// CloseInfo describes how a transport ended.
type CloseInfo struct {
	Code   int
	Signal string
}

// Transport is a duplex byte stream bound to one SSH interactive shell. All
// exit notifications flow through the Output/Closed/Errors channels; Close
// is idempotent and safe to call from any goroutine.
type Transport struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   interface{ Write([]byte) (int, error) }

	output chan []byte
	closed chan CloseInfo
	errors chan error

	closeOnce sync.Once
	done      chan struct{}
}

// Open dials the host in creds, authenticates with password or private key,
// and opens an interactive shell with the standard PTY profile. Host-key
// verification intentionally accepts any key: this is a deliberate security
// weakening scoped to locally-built disposable containers and must never be
// reused for a transport that reaches an arbitrary user-supplied host.
func Open(creds Credentials, cfg Config) (*Transport, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}

	auth, err := authMethods(creds)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // see doc comment
		Timeout:         cfg.ReadyTimeout,
	}

	addr := fmt.Sprintf("%s:%d", creds.Host, creds.Port)

	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, classifyDialError(err)
	}

	sess, err := client.NewSession()
	if err != nil {
		client.Close()

		return nil, fmt.Errorf("open session: %w", err)
	}

	if err := sess.RequestPty(DefaultTerm, DefaultRows, DefaultCols, terminalModes); err != nil {
		sess.Close()
		client.Close()

		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()

		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()

		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()

		return nil, fmt.Errorf("open shell: %w", err)
	}

	t := &Transport{
		client:  client,
		session: sess,
		stdin:   stdin,
		output:  make(chan []byte, 64),
		closed:  make(chan CloseInfo, 1),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}

	go t.pumpOutput(stdout)
	go t.watchExit()
	go t.keepalive(cfg.KeepaliveInterval, cfg.KeepaliveMaxMiss)

	return t, nil
}

// Output delivers bytes produced by the shell, in order.
func (t *Transport) Output() <-chan []byte { return t.output }

// Closed fires exactly once, when the shell or transport ends.
func (t *Transport) Closed() <-chan CloseInfo { return t.closed }

// Errors delivers asynchronous transport errors (e.g. a keepalive failure).
func (t *Transport) Errors() <-chan error { return t.errors }

// Write sends bytes to the shell's stdin. Writes after Close are silently
// dropped.
func (t *Transport) Write(p []byte) {
	select {
	case <-t.done:
		return
	default:
	}

	if _, err := t.stdin.Write(p); err != nil {
		select {
		case t.errors <- fmt.Errorf("write: %w", err):
		default:
		}
	}
}

// Resize changes the remote PTY's window size.
func (t *Transport) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return nil
	}

	return t.session.WindowChange(rows, cols)
}

// Close is idempotent: it closes the shell then the transport, and any
// further Write is a silent no-op.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.session.Close()
		t.client.Close()
	})
}

func (t *Transport) pumpOutput(stdout interface{ Read([]byte) (int, error) }) {
	buf := make([]byte, readBufSize)

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			select {
			case t.output <- chunk:
			case <-t.done:
				return
			}
		}

		if err != nil {
			return
		}
	}
}

func (t *Transport) watchExit() {
	err := t.session.Wait()

	info := CloseInfo{}

	if exitErr, ok := err.(*ssh.ExitError); ok {
		info.Code = exitErr.ExitStatus()
		info.Signal = exitErr.Signal()
	}

	select {
	case t.closed <- info:
	default:
	}
}

func (t *Transport) keepalive(interval time.Duration, maxMiss int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	misses := 0

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			ok, _, err := t.client.SendRequest("keepalive@webshell-broker", true, nil)
			if err != nil || !ok {
				misses++
				logger.Debugf("keepalive miss %d/%d", misses, maxMiss)

				if misses >= maxMiss {
					select {
					case t.errors <- fmt.Errorf("keepalive: %d consecutive misses", misses):
					default:
					}

					t.Close()

					return
				}

				continue
			}

			misses = 0
		}
	}
}

func authMethods(creds Credentials) ([]ssh.AuthMethod, error) {
	if len(creds.PrivateKey) > 0 {
		var (
			signer ssh.Signer
			err    error
		)

		if creds.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(creds.PrivateKey, []byte(creds.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(creds.PrivateKey)
		}

		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}

		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	return []ssh.AuthMethod{ssh.Password(creds.Password)}, nil
}
