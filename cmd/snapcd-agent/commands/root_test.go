package commands

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func closed(t *testing.T, ch <-chan struct{}, within time.Duration) bool {
	t.Helper()
	select {
	case <-ch:
		return true
	case <-time.After(within):
		return false
	}
}

func TestEscalateZeroGracePassesKillThrough(t *testing.T) {
	graceful := make(chan struct{})
	kill := make(chan struct{})

	out := escalate(graceful, kill, 0, zerolog.Nop())
	if out != (<-chan struct{})(kill) {
		t.Fatal("escalate(grace=0) did not pass the kill channel through")
	}
}

func TestEscalateFiresAfterGracePeriod(t *testing.T) {
	graceful := make(chan struct{})
	kill := make(chan struct{})

	out := escalate(graceful, kill, 20*time.Millisecond, zerolog.Nop())
	if closed(t, out, 50*time.Millisecond) {
		t.Fatal("derived kill closed before any cancellation")
	}

	close(graceful)
	if !closed(t, out, time.Second) {
		t.Fatal("derived kill did not close after the grace period elapsed")
	}
}

func TestEscalatePropagatesKillImmediately(t *testing.T) {
	graceful := make(chan struct{})
	kill := make(chan struct{})

	out := escalate(graceful, kill, time.Hour, zerolog.Nop())
	close(kill)
	if !closed(t, out, time.Second) {
		t.Fatal("derived kill did not follow the process-level kill channel")
	}
}

func TestEscalateKillDuringGraceWindow(t *testing.T) {
	graceful := make(chan struct{})
	kill := make(chan struct{})

	out := escalate(graceful, kill, time.Hour, zerolog.Nop())
	close(graceful)
	if closed(t, out, 50*time.Millisecond) {
		t.Fatal("derived kill closed before the grace period or kill signal")
	}

	close(kill)
	if !closed(t, out, time.Second) {
		t.Fatal("derived kill did not close on the second interrupt")
	}
}
