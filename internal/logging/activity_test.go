package logging

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityLogger_FlushesOnNewline(t *testing.T) {
	base, hook := test.NewNullLogger()
	entry := base.WithField("component", "activity-test")

	a := NewActivityLogger(entry)
	defer a.Close()

	n, err := a.Write([]byte("ls -la\n"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	require.Eventually(t, func() bool {
		return len(hook.AllEntries()) >= 1
	}, time.Second, 10*time.Millisecond)

	assert.Contains(t, hook.LastEntry().Message, "ls -la")
}

func TestActivityLogger_WriteAfterCloseDoesNotBlock(t *testing.T) {
	base, _ := test.NewNullLogger()
	a := NewActivityLogger(base.WithField("component", "activity-test-2"))

	a.Close()
	a.Close() // idempotent

	done := make(chan struct{})
	go func() {
		a.Write([]byte("x\n"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write blocked after Close")
	}
}
