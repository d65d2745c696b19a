package containerpool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/webshell/broker/internal/portalloc"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const containerIDDisplayLen = 12

// Manager builds the SSH image lazily, and creates, tracks, and destroys
// containers. All state lives behind a single mutex; no lock is held across
// a subprocess or Docker API call, which is essential to avoid deadlocks
// when Stop is called from the supervisor while Create is in progress.
type Manager struct {
	cli client.CommonAPIClient
	cfg Config

	mu            sync.Mutex
	records       map[string]*Record
	imageBuilt    bool
	buildInFlight chan struct{}
	buildErr      error
}

// NewManager constructs a Manager bound to the given Docker API client.
func NewManager(cli client.CommonAPIClient, cfg Config) *Manager {
	return &Manager{
		cli:     cli,
		cfg:     cfg,
		records: make(map[string]*Record),
	}
}

// EnsureImage is idempotent: it builds the fixed SSH image recipe at most
// once per process lifetime. Concurrent callers block on the same build and
// all succeed or fail together. A failed build leaves the flag unset so the
// next caller retries.
func (m *Manager) EnsureImage(ctx context.Context) error {
	m.mu.Lock()
	if m.imageBuilt {
		m.mu.Unlock()
		return nil
	}

	if ch := m.buildInFlight; ch != nil {
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}

		m.mu.Lock()
		built, err := m.imageBuilt, m.buildErr
		m.mu.Unlock()

		if built {
			return nil
		}

		return err
	}

	ch := make(chan struct{})
	m.buildInFlight = ch
	m.mu.Unlock()

	err := buildImage(ctx, m.cli, m.cfg.Image, m.cfg.RootPassword)

	m.mu.Lock()
	m.buildErr = err
	m.imageBuilt = err == nil
	m.buildInFlight = nil
	m.mu.Unlock()

	close(ch)

	if err != nil {
		logger.WithError(err).Error("image build failed")

		return err
	}

	logger.Infof("built SSH image %s", m.cfg.Image)

	return nil
}

// Create ensures the image, allocates a port, starts a container publishing
// container-port 22 on that host port, awaits the SSH listener, records the
// entry, and returns it. Any failing step rolls back partial state.
func (m *Manager) Create(ctx context.Context) (*Record, error) {
	if err := m.EnsureImage(ctx); err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	port, err := portalloc.Allocate(m.cfg.StartPort)
	if err != nil {
		return nil, fmt.Errorf("create container: allocate port: %w", err)
	}

	containerID, err := m.startContainer(ctx, port)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := portalloc.AwaitListener(ctx, "127.0.0.1", port, m.cfg.SSHReadyTimeout, time.Second); err != nil {
		logger.WithField("container", containerID).Warnf("ssh not ready, rolling back: %v", err)
		m.bestEffortStop(containerID)

		return nil, fmt.Errorf("create container: ssh not ready: %w", err)
	}

	now := time.Now()
	rec := &Record{
		ContainerID: containerID,
		Host:        "127.0.0.1",
		Port:        port,
		Username:    "root",
		Password:    m.cfg.RootPassword,
		CreatedAt:   now,
		LastActive:  now,
	}

	m.mu.Lock()
	m.records[containerID] = rec
	m.mu.Unlock()

	logger.WithField("container", containerID).Infof("container ready on port %d", port)

	return rec, nil
}

func (m *Manager) startContainer(ctx context.Context, hostPort int) (string, error) {
	contConfig := &container.Config{
		Image:        m.cfg.Image,
		ExposedPorts: nat.PortSet{"22/tcp": struct{}{}},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"22/tcp": []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", hostPort)}},
		},
		AutoRemove: false,
	}

	resp, err := m.cli.ContainerCreate(ctx, contConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		m.bestEffortStop(resp.ID)

		return "", fmt.Errorf("container start: %w", err)
	}

	id := resp.ID
	if len(id) > containerIDDisplayLen {
		id = id[:containerIDDisplayLen]
	}

	return id, nil
}

// Stop issues runtime stop then remove and erases the record. It is
// non-fatal if the runtime reports the container already gone.
func (m *Manager) Stop(ctx context.Context, containerID string) error {
	err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{})
	if err != nil && !isNotFound(err) {
		logger.WithField("container", containerID).Warnf("stop error: %v", err)
	}

	err = m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !isNotFound(err) {
		m.mu.Lock()
		delete(m.records, containerID)
		m.mu.Unlock()

		return fmt.Errorf("remove container %s: %w", containerID, err)
	}

	m.mu.Lock()
	delete(m.records, containerID)
	m.mu.Unlock()

	logger.WithField("container", containerID).Info("container stopped")

	return nil
}

func (m *Manager) bestEffortStop(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.Stop(ctx, containerID); err != nil {
		logger.WithField("container", containerID).Warnf("rollback stop failed: %v", err)
	}
}

// Touch advances a container's last-activity time. It is a no-op for an
// unknown container ID.
func (m *Manager) Touch(containerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[containerID]; ok {
		rec.LastActive = time.Now()
	}
}

// Get returns a snapshot copy of the record for containerID, if known.
func (m *Manager) Get(containerID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[containerID]
	if !ok {
		return Record{}, false
	}

	return *rec, true
}

// List returns a snapshot of every live container record.
func (m *Manager) List() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}

	return out
}

// Stats returns per-container activity stats shaped for the administrative
// API, idleTolerance defining the "is active" cutoff.
func (m *Manager) Stats(idleTolerance time.Duration) []Stats {
	now := time.Now()
	records := m.List()

	out := make([]Stats, 0, len(records))
	for _, rec := range records {
		idle := now.Sub(rec.LastActive)
		out = append(out, Stats{
			ContainerID: rec.ContainerID,
			Host:        rec.Host,
			Port:        rec.Port,
			CreatedAt:   rec.CreatedAt,
			Duration:    now.Sub(rec.CreatedAt),
			IdleTime:    idle,
			IsActive:    idle < idleTolerance,
		})
	}

	return out
}

// ReapIdle stops every container whose last activity is older than maxIdle
// and returns the count of containers reaped.
func (m *Manager) ReapIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	var stale []string

	m.mu.Lock()
	for id, rec := range m.records {
		if rec.LastActive.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.Stop(ctx, id); err != nil {
			logger.WithField("container", id).Warnf("idle reap stop failed: %v", err)
		}
	}

	return len(stale)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "no such container") || strings.Contains(msg, "not found")
}
