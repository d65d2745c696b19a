// Package procadapter spawns external subprocesses on behalf of the
// container pool and supervisor, and drains their output without leaking
// file descriptors. It never passes arguments through a shell.
package procadapter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/webshell/broker/internal/logging"
)

var logger = logging.GetLogger("proc-adapter")

const stderrTailLines = 20

// Result carries the outcome of a completed subprocess invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Failed reports whether the subprocess exited non-zero.
func (r *Result) Failed() bool {
	return r.ExitCode != 0
}

// Run spawns name with args, fully drains stdout/stderr, and waits for
// exit. Arguments are never interpolated through a shell.
func Run(ctx context.Context, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}
	if res.Failed() {
		return res, fmt.Errorf("%s exited %d: %s", name, exitCode, tail(res.Stderr, stderrTailLines))
	}

	return res, nil
}

// LineFunc is invoked once per line of combined stdout/stderr as a
// streaming subprocess produces it.
type LineFunc func(line string, isStderr bool)

// RunStreaming spawns name with args, invoking onLine for every line of
// output as it arrives, and returns once the process exits.
func RunStreaming(ctx context.Context, onLine LineFunc, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	var stdout, stderr bytes.Buffer

	done := make(chan struct{}, 2)

	drain := func(r *bufio.Scanner, buf *bytes.Buffer, isStderr bool) {
		for r.Scan() {
			line := r.Text()
			buf.WriteString(line)
			buf.WriteByte('\n')

			if onLine != nil {
				onLine(line, isStderr)
			}
		}
		done <- struct{}{}
	}

	go drain(bufio.NewScanner(stdoutPipe), &stdout, false)
	go drain(bufio.NewScanner(stderrPipe), &stderr, true)
	<-done
	<-done

	err = cmd.Wait()

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return nil, fmt.Errorf("wait %s: %w", name, err)
	}

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}
	if res.Failed() {
		return res, fmt.Errorf("%s exited %d: %s", name, exitCode, tail(res.Stderr, stderrTailLines))
	}

	return res, nil
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}

	return strings.Join(lines[len(lines)-n:], "\n")
}

// ProbeCLI runs a liveness probe against the container runtime CLI, used by
// the supervisor as a defense-in-depth check alongside the API client.
func ProbeCLI(ctx context.Context, binary string) error {
	res, err := Run(ctx, binary, "info", "--format", "{{.ServerVersion}}")
	if err != nil {
		logger.WithError(err).Warnf("%s info probe failed", binary)

		return err
	}

	logger.Debugf("%s server version: %s", binary, strings.TrimSpace(res.Stdout))

	return nil
}
