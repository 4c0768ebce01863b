package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/snapcd/agent/cmd/snapcd-agent/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Bootstrap logging; the configured logger replaces this once settings
	// are loaded.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First interrupt requests a graceful stop so the running tool can
	// flush partial state; the second one force-kills.
	graceful := make(chan struct{})
	kill := make(chan struct{})
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Interrupt received, stopping gracefully (interrupt again to force)")
		close(graceful)
		<-sigChan
		log.Warn().Msg("Second interrupt, force-killing")
		close(kill)
		cancel()
	}()

	if err := commands.Execute(ctx, commands.Signals{Graceful: graceful, Kill: kill}, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		os.Exit(1)
	}
}
