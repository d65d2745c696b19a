package logging

import (
	"bytes"

	"github.com/sirupsen/logrus"
)

const activityBufMax = 512

// ActivityLogger tees raw PTY bytes into logrus Info lines at newline
// boundaries, so an interactive session leaves a readable trail without one
// log entry per byte. It implements io.Writer.
type ActivityLogger struct {
	buf    []byte
	cmdCh  chan []byte
	doneCh chan struct{}
	entry  *logrus.Entry
}

// NewActivityLogger starts a background goroutine that drains writes into
// line-buffered log entries under the given logrus.Entry.
func NewActivityLogger(entry *logrus.Entry) *ActivityLogger {
	a := &ActivityLogger{
		buf:    make([]byte, 0, activityBufMax),
		cmdCh:  make(chan []byte, 64),
		doneCh: make(chan struct{}),
		entry:  entry,
	}
	go a.run()

	return a
}

// Write queues p for line-buffered logging. It never blocks the caller on
// the actual log write.
func (a *ActivityLogger) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)

	select {
	case a.cmdCh <- cp:
	case <-a.doneCh:
	}

	return len(p), nil
}

// Close stops the background goroutine, flushing no further input.
func (a *ActivityLogger) Close() {
	select {
	case <-a.doneCh:
	default:
		close(a.doneCh)
	}
}

func (a *ActivityLogger) run() {
	for {
		var p []byte

		select {
		case <-a.doneCh:
			return
		case p = <-a.cmdCh:
		}

		for len(p) > 0 {
			left := activityBufMax - len(a.buf)
			if left >= len(p) {
				a.buf = append(a.buf, p...)
				p = nil
			} else {
				a.buf = append(a.buf, p[:left]...)
				p = p[left:]
			}

			if idx := bytes.IndexAny(a.buf, "\r\n"); idx != -1 {
				a.entry.Infof("input: %s", string(a.buf[:idx]))

				if idx+1 < len(a.buf) {
					a.buf = a.buf[idx+1:]
				} else {
					a.buf = a.buf[:0]
				}
			} else if len(a.buf) == activityBufMax {
				a.entry.Infof("input: %s", string(a.buf))
				a.buf = a.buf[:0]
			}
		}
	}
}
