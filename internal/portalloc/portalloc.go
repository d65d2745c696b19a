// Package portalloc hands out free TCP ports on the host and verifies
// liveness of a remote SSH listener bound to one of them.
package portalloc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/webshell/broker/internal/logging"
)

var logger = logging.GetLogger("port-allocator")

const (
	maxAllocateAttempts = 1000
	dialTimeout         = 2 * time.Second
)

// Allocate binds a listening socket starting at startPort, closes it, and
// returns the bound port. Races are acceptable: a caller that loses the
// race after close simply fails later and retries via this allocator.
func Allocate(startPort int) (int, error) {
	for p := startPort; p < startPort+maxAllocateAttempts; p++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", p))
		if err != nil {
			continue
		}

		bound := ln.Addr().(*net.TCPAddr).Port
		ln.Close()

		return bound, nil
	}

	return 0, fmt.Errorf("no free port found starting at %d", startPort)
}

// AwaitListener polls a TCP connection attempt against host:port until it
// succeeds, timeout elapses, or ctx is cancelled.
func AwaitListener(ctx context.Context, host string, port int, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("%s:%d", host, port)

	for {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", addr)
		cancel()

		if err == nil {
			conn.Close()

			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("listener at %s not ready after %s", addr, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
