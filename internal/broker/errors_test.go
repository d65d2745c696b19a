package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{errors.New("dial tcp: connection refused"), KindNetworkRefused},
		{errors.New("dial tcp: i/o timeout"), KindTimeout},
		{errors.New("ssh: handshake failed: ssh: unable to authenticate"), KindAuth},
		{errors.New("ssh: protocol mismatch"), KindProtocol},
		{errors.New("no route to host"), KindNetworkUnreachable},
		{nil, KindUnknown},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err))
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Too many connection attempts. Please wait before trying again.", Message(KindRateLimited, ""))
	assert.Equal(t, "Authentication failed - check username and password", Message(KindAuth, ""))
	assert.Equal(t, "Shell error: boom", Message(KindShell, "boom"))
	assert.Equal(t, "Failed to create container: boom", Message(KindContainerCreate, "boom"))
}
