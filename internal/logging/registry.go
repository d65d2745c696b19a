// Package logging provides the process-wide logger registry used by every
// component of the broker: one named logrus.Logger per component, created
// lazily and configured centrally.
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Environment variable keys controlling the default logger configuration.
const (
	EnvKeyEnableStdout = "WEBSHELL_LOG_ENABLE_STDOUT"
	EnvKeyLogLevel     = "WEBSHELL_LOG_LEVEL"
)

var (
	logMap       = make(map[string]*logrus.Logger)
	locker       sync.Mutex
	enableStdout = true
	level        = logrus.InfoLevel
)

func init() {
	if os.Getenv(EnvKeyEnableStdout) == "false" {
		enableStdout = false
	}

	if lvl, err := logrus.ParseLevel(os.Getenv(EnvKeyLogLevel)); err == nil {
		level = lvl
	}
}

// SetLevel updates the log level of every logger created so far, and of any
// logger created afterwards.
func SetLevel(l logrus.Level) {
	locker.Lock()
	defer locker.Unlock()

	level = l
	for _, logger := range logMap {
		logger.SetLevel(l)
	}
}

// SetEnableStdout toggles whether newly created loggers also write to
// stdout in addition to their normal output.
func SetEnableStdout(enable bool) {
	locker.Lock()
	defer locker.Unlock()

	enableStdout = enable
}

// GetLogger returns the logger for the given component name, creating it on
// first use.
func GetLogger(component string) *logrus.Logger {
	locker.Lock()
	defer locker.Unlock()

	if l, ok := logMap[component]; ok {
		return l
	}

	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(level)

	if enableStdout {
		l.SetOutput(os.Stdout)
	} else {
		l.SetOutput(os.Stderr)
	}

	logMap[component] = l

	return l
}
