package containerpool

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webshell/broker/internal/portalloc"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient embeds the (nil) CommonAPIClient interface so it satisfies the
// full interface by promotion, and overrides only the handful of methods
// the container pool actually calls.
type fakeClient struct {
	client.CommonAPIClient

	buildErr   error
	buildCalls int32

	createErr error
	startErr  error
	stopErr   error
	removeErr error

	nextContainerID string
}

func (f *fakeClient) ImageBuild(ctx context.Context, _ io.Reader, _ types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	atomic.AddInt32(&f.buildCalls, 1)

	if f.buildErr != nil {
		return types.ImageBuildResponse{}, f.buildErr
	}

	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader("{}\n"))}, nil
}

func (f *fakeClient) ContainerCreate(ctx context.Context, _ *container.Config, _ *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}

	return container.CreateResponse{ID: f.nextContainerID}, nil
}

func (f *fakeClient) ContainerStart(ctx context.Context, id string, _ container.StartOptions) error {
	return f.startErr
}

func (f *fakeClient) ContainerStop(ctx context.Context, id string, _ container.StopOptions) error {
	return f.stopErr
}

func (f *fakeClient) ContainerRemove(ctx context.Context, id string, _ container.RemoveOptions) error {
	return f.removeErr
}

func TestEnsureImage_BuildsOnceAndCachesSuccess(t *testing.T) {
	cli := &fakeClient{}
	m := NewManager(cli, DefaultConfig())

	require.NoError(t, m.EnsureImage(context.Background()))
	require.NoError(t, m.EnsureImage(context.Background()))

	assert.EqualValues(t, 1, atomic.LoadInt32(&cli.buildCalls))
}

func TestEnsureImage_FailureLeavesFlagUnsetForRetry(t *testing.T) {
	cli := &fakeClient{buildErr: errors.New("build failed")}
	m := NewManager(cli, DefaultConfig())

	require.Error(t, m.EnsureImage(context.Background()))

	cli.buildErr = nil
	require.NoError(t, m.EnsureImage(context.Background()))

	assert.EqualValues(t, 2, atomic.LoadInt32(&cli.buildCalls))
}

func TestCreate_HappyPathRegistersRecordAfterListenerIsUp(t *testing.T) {
	port, err := portalloc.Allocate(21000)
	require.NoError(t, err)

	cli := &fakeClient{nextContainerID: "abc123def456abcdef00000"}
	cfg := DefaultConfig()
	cfg.StartPort = port
	cfg.SSHReadyTimeout = 2 * time.Second

	m := NewManager(cli, cfg)
	m.imageBuilt = true // skip the real build path for this test

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer ln.Close()

	rec, err := m.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123def456", rec.ContainerID)
	assert.Equal(t, port, rec.Port)

	got, ok := m.Get(rec.ContainerID)
	require.True(t, ok)
	assert.Equal(t, rec.ContainerID, got.ContainerID)
}

func TestStop_UnknownContainerIsANoOp(t *testing.T) {
	cli := &fakeClient{}
	m := NewManager(cli, DefaultConfig())

	err := m.Stop(context.Background(), "does-not-exist")
	assert.NoError(t, err)
}

func TestTouch_UnknownContainerIsANoOp(t *testing.T) {
	m := NewManager(&fakeClient{}, DefaultConfig())
	m.Touch("does-not-exist") // must not panic
}

func TestReapIdle_StopsOnlyContainersPastThreshold(t *testing.T) {
	m := NewManager(&fakeClient{}, DefaultConfig())
	m.records["fresh"] = &Record{ContainerID: "fresh", LastActive: time.Now()}
	m.records["stale"] = &Record{ContainerID: "stale", LastActive: time.Now().Add(-time.Hour)}

	n := m.ReapIdle(context.Background(), 30*time.Minute)

	assert.Equal(t, 1, n)

	_, freshStillThere := m.Get("fresh")
	_, staleGone := m.Get("stale")
	assert.True(t, freshStillThere)
	assert.False(t, staleGone)
}
