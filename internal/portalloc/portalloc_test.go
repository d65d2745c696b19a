package portalloc

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate_ReturnsAFreePort(t *testing.T) {
	port, err := Allocate(20000)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 20000)

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	require.NoError(t, err)
	ln.Close()
}

func TestAllocate_SkipsAnOccupiedPort(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	occupied := ln.Addr().(*net.TCPAddr).Port

	port, err := Allocate(occupied)
	require.NoError(t, err)
	assert.NotEqual(t, occupied, port)
}

func TestAwaitListener_SucceedsOnceListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = AwaitListener(ctx, "127.0.0.1", port, 3*time.Second, 100*time.Millisecond)
	assert.NoError(t, err)
}

func TestAwaitListener_TimesOutWhenNothingListens(t *testing.T) {
	port, err := Allocate(30000)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = AwaitListener(ctx, "127.0.0.1", port, 500*time.Millisecond, 100*time.Millisecond)
	assert.Error(t, err)
}
