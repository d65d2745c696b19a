// Package supervisor runs periodic sweeps over the broker's
// sessions and the container pool, plus the orderly shutdown sequence.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/webshell/broker/internal/broker"
	"github.com/webshell/broker/internal/clientchannel"
	"github.com/webshell/broker/internal/containerpool"
	"github.com/webshell/broker/internal/logging"
	"github.com/webshell/broker/internal/procadapter"
)

var logger = logging.GetLogger("supervisor")

// idleContainerMaxAge is the idle-container sweep's reap threshold.
const idleContainerMaxAge = 30 * time.Minute

// pendingReconnectSweepInterval is an implementation detail of the
// reconnect-window mechanism, not a tunable policy constant, so it is not
// in Config.
const pendingReconnectSweepInterval = 10 * time.Second

// Supervisor runs the broker's reliability sweeps: idle-session reaping,
// stuck-state recovery, idle-container reaping, and pending-reconnect
// expiry, each on its own ticker, plus the shutdown sequence triggered by
// a signal.
type Supervisor struct {
	cfg    broker.Config
	broker *broker.Broker
	pool   *containerpool.Manager

	// runtimeBinary is probed once per health sweep as a defense-in-depth
	// liveness check alongside the Docker API client: an API call can
	// succeed against a daemon that is otherwise wedged enough that its
	// own CLI hangs, and vice versa.
	runtimeBinary string

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New constructs a Supervisor bound to broker b and pool p, using cfg for
// every sweep interval and threshold.
func New(cfg broker.Config, b *broker.Broker, p *containerpool.Manager) *Supervisor {
	return &Supervisor{
		cfg:           cfg,
		broker:        b,
		pool:          p,
		runtimeBinary: "docker",
		stop:          make(chan struct{}),
	}
}

// Start launches the four sweeps as background goroutines. Returns
// immediately; call Shutdown to stop them.
func (s *Supervisor) Start() {
	s.wg.Add(4)

	go s.runTicker(s.cfg.SessionSweepInterval, s.sweepIdleSessions)
	go s.runTicker(s.cfg.HealthSweepInterval, s.sweepHealth)
	go s.runTicker(s.cfg.ContainerSweepInterval, s.sweepIdleContainers)
	go s.runTicker(pendingReconnectSweepInterval, s.sweepPendingReconnect)
}

// sweepPendingReconnect stops containers whose reconnect window has elapsed
// without the client reattaching under the same socket ID.
func (s *Supervisor) sweepPendingReconnect() {
	if n := s.broker.SweepPendingReconnect(); n > 0 {
		logger.Infof("pending-reconnect sweep stopped %d expired container(s)", n)
	}
}

func (s *Supervisor) runTicker(interval time.Duration, sweep func()) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// sweepIdleSessions tears down any session whose lastActivity is older
// than idleTimeout, notifying its channel with reason idle_timeout.
func (s *Supervisor) sweepIdleSessions() {
	now := time.Now()

	for _, snap := range s.broker.Snapshot() {
		if snap.State == broker.StateIdle && snap.ContainerID == "" {
			continue
		}

		if now.Sub(snap.LastActivity) > s.cfg.IdleTimeout {
			if s.broker.ForceDisconnect(snap.SocketID, clientchannel.ReasonIdleTimeout) {
				logger.WithField("socket", snap.SocketID).Info("idle session swept")
			}
		}
	}
}

// sweepHealth recovers sessions stuck past stuckConnectingTimeout in
// Connecting, and, redundantly with the session sweep, any session whose
// activity has gone stale past idleTimeout (defense in depth against a
// missed session-sweep tick).
func (s *Supervisor) sweepHealth() {
	probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = procadapter.ProbeCLI(probeCtx, s.runtimeBinary)
	cancel()

	now := time.Now()

	for _, snap := range s.broker.Snapshot() {
		switch {
		case snap.State == broker.StateConnecting && now.Sub(snap.LastConnectAttempt) > s.cfg.StuckConnectingTimeout:
			if s.broker.DestroyStuckConnecting(snap.SocketID) {
				logger.WithField("socket", snap.SocketID).Warn("recovered stuck-connecting session")
			}

		case snap.State == broker.StateConnected && now.Sub(snap.LastActivity) > s.cfg.IdleTimeout:
			if s.broker.ForceDisconnect(snap.SocketID, clientchannel.ReasonInactive) {
				logger.WithField("socket", snap.SocketID).Info("inactive session swept")
			}
		}
	}
}

// sweepIdleContainers reaps every container idle past idleContainerMaxAge.
func (s *Supervisor) sweepIdleContainers() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if n := s.pool.ReapIdle(ctx, idleContainerMaxAge); n > 0 {
		logger.Infof("idle container sweep reaped %d container(s)", n)
	}
}

// Shutdown stops every sweep, notifies every live channel with
// server_shutdown, closes every SSH transport (via the broker), and stops
// every tracked container. Safe to call more than once.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.once.Do(func() {
		close(s.stop)
	})

	s.wg.Wait()

	s.broker.ShutdownAll()

	for _, rec := range s.pool.List() {
		if err := s.pool.Stop(ctx, rec.ContainerID); err != nil {
			logger.WithField("container", rec.ContainerID).Warnf("shutdown stop failed: %v", err)
		}
	}

	logger.Info("supervisor shutdown complete")
}
