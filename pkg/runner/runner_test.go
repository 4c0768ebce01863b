package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func staticEnv(env map[string]string) EnvFunc {
	return func() (map[string]string, error) {
		return env, nil
	}
}

func baseOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Dir:    t.TempDir(),
		Env:    staticEnv(map[string]string{"PATH": "/usr/bin:/bin"}),
		Logger: zerolog.Nop(),
	}
}

func TestRunCapturesAndStreamsStdout(t *testing.T) {
	opts := baseOptions(t)
	var streamed []string
	opts.Sink = func(line string) {
		streamed = append(streamed, line)
	}

	out, err := Run(context.Background(), "echo one; echo two", opts, Signals{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if out != "one\ntwo\n" {
		t.Errorf("stdout = %q, want %q", out, "one\ntwo\n")
	}
	if len(streamed) != 2 || streamed[0] != "one" || streamed[1] != "two" {
		t.Errorf("streamed lines = %v, want [one two]", streamed)
	}
}

func TestRunUsesResolvedEnvironment(t *testing.T) {
	opts := baseOptions(t)
	opts.Env = staticEnv(map[string]string{
		"PATH":      "/usr/bin:/bin",
		"TF_TOKEN":  "s3cr3t",
		"EMPTY_VAR": "",
	})

	out, err := Run(context.Background(), `echo "token=$TF_TOKEN"`, opts, Signals{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out, "token=s3cr3t") {
		t.Errorf("stdout = %q, want it to contain token=s3cr3t", out)
	}
}

func TestRunEnvFuncFailureAbortsBeforeStart(t *testing.T) {
	opts := baseOptions(t)
	wantErr := errors.New("environment not resolved")
	opts.Env = func() (map[string]string, error) {
		return nil, wantErr
	}

	_, err := Run(context.Background(), "echo never", opts, Signals{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	opts := baseOptions(t)

	_, err := Run(context.Background(), "echo doom 1>&2; exit 3", opts, Signals{})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Run() error = %v, want ExitError", err)
	}
	if exitErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", exitErr.ExitCode)
	}
	if !strings.Contains(exitErr.Stderr, "doom") {
		t.Errorf("Stderr = %q, want it to contain the tool's diagnostics", exitErr.Stderr)
	}
}

func TestRunStopsAtFirstFailingLine(t *testing.T) {
	opts := baseOptions(t)

	out, err := Run(context.Background(), "echo first\nfalse\necho unreachable", opts, Signals{})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Run() error = %v, want ExitError", err)
	}
	if strings.Contains(out, "unreachable") {
		t.Errorf("stdout = %q, lines after a failure must not run", out)
	}
	if !strings.Contains(out, "first") {
		t.Errorf("stdout = %q, lines before the failure should have run", out)
	}
}

func TestRunStrictStderrPolicy(t *testing.T) {
	script := "echo fine; echo noise 1>&2"

	strict := baseOptions(t)
	strict.StrictStderr = true
	_, err := Run(context.Background(), script, strict, Signals{})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("strict Run() error = %v, want ExitError", err)
	}
	if exitErr.ExitCode != 0 {
		t.Errorf("strict ExitCode = %d, want 0", exitErr.ExitCode)
	}

	tolerant := baseOptions(t)
	tolerant.StrictStderr = false
	out, err := Run(context.Background(), script, tolerant, Signals{})
	if err != nil {
		t.Fatalf("tolerant Run() error = %v", err)
	}
	if !strings.Contains(out, "fine") {
		t.Errorf("tolerant stdout = %q, want it to contain fine", out)
	}
}

func TestRunKillCancellation(t *testing.T) {
	opts := baseOptions(t)
	kill := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(kill)
	}()

	start := time.Now()
	_, err := Run(context.Background(), "sleep 30", opts, Signals{Kill: kill})
	var canceled *CanceledError
	if !errors.As(err, &canceled) {
		t.Fatalf("Run() error = %v, want CanceledError", err)
	}
	if canceled.Graceful {
		t.Error("CanceledError.Graceful = true, want false for kill path")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("kill took %v, subprocess was not terminated", elapsed)
	}
}

func TestRunGracefulCancellation(t *testing.T) {
	opts := baseOptions(t)
	graceful := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(graceful)
	}()

	_, err := Run(context.Background(), "sleep 30", opts, Signals{Graceful: graceful})
	var canceled *CanceledError
	if !errors.As(err, &canceled) {
		t.Fatalf("Run() error = %v, want CanceledError", err)
	}
	if !canceled.Graceful {
		t.Error("CanceledError.Graceful = false, want true for graceful path")
	}
}

func TestRunContextCancellation(t *testing.T) {
	opts := baseOptions(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := Run(ctx, "sleep 30", opts, Signals{})
	var canceled *CanceledError
	if !errors.As(err, &canceled) {
		t.Fatalf("Run() error = %v, want CanceledError", err)
	}
}

func TestFlattenEnvPrependsExtraPaths(t *testing.T) {
	got := flattenEnv(map[string]string{"PATH": "/usr/bin", "A": "1"}, []string{"/opt/tf/bin", "/opt/pulumi/bin"})

	want := "PATH=/opt/tf/bin:/opt/pulumi/bin:/usr/bin"
	found := false
	for _, kv := range got {
		if kv == want {
			found = true
		}
	}
	if !found {
		t.Errorf("flattenEnv() = %v, want it to contain %q", got, want)
	}
}
