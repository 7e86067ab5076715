package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dickyybayu/advprog-module10-broadcast/internal/logging"
	"github.com/dickyybayu/advprog-module10-broadcast/internal/server"
)

// Exit codes reported to the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := server.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay configuration error: %v\n", err)
		return exitConfig
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Msg("Starting broadcast relay...")

	relay := server.New(cfg, log)
	httpServer := server.CreateServer(cfg.ListenAddr, relay.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, log)
	}()

	code := exitOK
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", cfg.ListenAddr).Msg("Listener failed")
			code = exitRuntime
		}
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	_ = server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log)
	_ = relay.Shutdown(cfg.ShutdownTimeout)
	return code
}
