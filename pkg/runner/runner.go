// Package runner executes composed shell scripts in a module working
// directory with a captured environment, streaming stdout line-by-line while
// supporting two independent cancellation paths: a graceful interrupt that
// lets the underlying tool flush partial state, and a hard kill of the whole
// process tree.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// LogSink receives stdout lines as they arrive, before the subprocess exits.
type LogSink func(line string)

// Signals carries the two independent cancellation paths for one subprocess.
// Both may fire; graceful first and kill later is a normal escalation, though
// the escalation timer itself is caller policy.
type Signals struct {
	// Graceful requests an interrupt of the process group, giving the
	// tool a chance to write partial state before a kill might follow.
	Graceful <-chan struct{}

	// Kill force-terminates the whole process tree.
	Kill <-chan struct{}
}

// EnvFunc supplies the resolved environment for a run. Returning an error
// aborts the run before the subprocess starts; engines use this to enforce
// that Init has persisted an environment first.
type EnvFunc func() (map[string]string, error)

// Options configures one script execution.
type Options struct {
	// Dir is the working directory, normally the module init directory.
	Dir string

	// Env supplies the resolved environment map.
	Env EnvFunc

	// ExtraPaths are binary search paths prepended to PATH.
	ExtraPaths []string

	// StrictStderr fails the run on any stderr output even with exit code
	// 0. Terraform-family tools write benign text to stderr
	// inconsistently, so their engines choose to be strict; the Pulumi
	// engine relaxes this because Pulumi routinely writes progress text
	// to stderr.
	StrictStderr bool

	// Sink receives stdout lines as they arrive. Optional.
	Sink LogSink

	// Shell is the shell binary used to run the script. Defaults to
	// /bin/sh.
	Shell string

	// Logger is used for debug logging around the subprocess lifecycle.
	Logger zerolog.Logger
}

// ExitError is a subprocess failure: a non-zero exit code, or stderr output
// under a strict-stderr policy. Stderr carries the tool's own diagnostics
// verbatim.
type ExitError struct {
	// ExitCode is the subprocess exit code; 0 when the failure is
	// stderr-output-only under a strict policy.
	ExitCode int

	// Stderr is the accumulated stderr text.
	Stderr string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.ExitCode == 0 {
		return fmt.Sprintf("command wrote to stderr: %s", e.Stderr)
	}
	return fmt.Sprintf("command exited with code %d: %s", e.ExitCode, e.Stderr)
}

// CanceledError indicates the subprocess was terminated by a cancellation
// signal rather than failing on its own. Callers branch on this before
// generic failure handling so an operator sees "canceled", not "failed".
type CanceledError struct {
	// Graceful records whether the graceful path fired (the kill path may
	// also have fired afterwards).
	Graceful bool
}

// Error implements the error interface.
func (e *CanceledError) Error() string {
	if e.Graceful {
		return "command canceled (graceful interrupt)"
	}
	return "command canceled"
}

// Run executes the script and returns the accumulated stdout. Stdout is
// streamed to the sink line-by-line as it arrives; stderr is accumulated
// separately and only surfaced on failure.
func Run(ctx context.Context, script string, opts Options, sig Signals) (string, error) {
	env, err := opts.Env()
	if err != nil {
		return "", err
	}

	shell := opts.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	// -e makes the shell abort on the first failing line, so a failing
	// before hook never lets the base command run. Scripts that need to
	// tolerate a failure guard the line with "|| rc=$?" themselves.
	cmd := exec.Command(shell, "-e", "-c", script)
	cmd.Dir = opts.Dir
	cmd.Env = flattenEnv(env, opts.ExtraPaths)
	// Own process group so cancellation signals reach the whole tree,
	// not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("creating stdout pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting shell: %w", err)
	}
	pgid := cmd.Process.Pid

	opts.Logger.Debug().
		Int("pid", pgid).
		Str("dir", opts.Dir).
		Msg("subprocess started")

	var canceled, graceful atomic.Bool
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-sig.Graceful:
				graceful.Store(true)
				canceled.Store(true)
				if err := sendInterrupt(pgid); err != nil {
					opts.Logger.Warn().Err(err).Msg("graceful interrupt failed")
				}
				sig.Graceful = nil
			case <-sig.Kill:
				canceled.Store(true)
				if err := killProcessGroup(pgid); err != nil {
					opts.Logger.Warn().Err(err).Msg("process group kill failed")
				}
				sig.Kill = nil
			case <-ctx.Done():
				canceled.Store(true)
				_ = killProcessGroup(pgid)
				return
			case <-stop:
				return
			}
		}
	}()

	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		stdout.WriteString(line)
		stdout.WriteByte('\n')
		if opts.Sink != nil {
			opts.Sink(line)
		}
	}

	waitErr := cmd.Wait()
	close(stop)

	opts.Logger.Debug().
		Int("pid", pgid).
		Dur("duration", time.Since(start)).
		Int("stderr_len", stderr.Len()).
		Err(waitErr).
		Msg("subprocess finished")

	if canceled.Load() {
		return stdout.String(), &CanceledError{Graceful: graceful.Load()}
	}
	if waitErr != nil {
		code := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return stdout.String(), &ExitError{ExitCode: code, Stderr: stderr.String()}
	}
	if opts.StrictStderr && stderr.Len() > 0 {
		return stdout.String(), &ExitError{ExitCode: 0, Stderr: stderr.String()}
	}

	return stdout.String(), nil
}

// flattenEnv renders the resolved map into KEY=VALUE form, prepending extra
// binary search paths to PATH. Keys are sorted so the environment handed to
// the shell is stable between runs.
func flattenEnv(env map[string]string, extraPaths []string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(env)+1)
	sawPath := false
	for _, k := range keys {
		v := env[k]
		if k == "PATH" && len(extraPaths) > 0 {
			v = strings.Join(extraPaths, ":") + ":" + v
			sawPath = true
		}
		out = append(out, k+"="+v)
	}
	if !sawPath && len(extraPaths) > 0 {
		out = append(out, "PATH="+strings.Join(extraPaths, ":"))
	}
	return out
}
