package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"relay-lab/admin"
	"relay-lab/auth"
	"relay-lab/hub"
	"relay-lab/idgen"
	"relay-lab/moderation"
	"relay-lab/repositories"
	"relay-lab/services"
)

var errSingleMaskChar = fmt.Errorf("MODERATION_CHARACTER_REPLACEMENT must be a single character")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components and manages the server lifecycle, so
// every defer executes before the process exits and the entry point
// stays testable.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Core state. Everything is process-lifetime memory, reset at
	// start by construction.
	registry := repositories.NewIdentityRegistry(log)
	store := repositories.NewChannelStore(registry, log)
	tokens := auth.NewTokenIssuer([]byte(config.TokenSecret), config.AuthTokenDuration)
	accounts := services.NewAccountService(registry, idgen.NewShortIDGenerator(), tokens, log)

	// 3. Moderation (optional)
	var moderator *moderation.Moderator
	if config.ModerationEnabled {
		mask, err := config.maskRune()
		if err != nil {
			return err
		}
		lists, err := moderation.LoadEmbeddedWords()
		if err != nil {
			return fmt.Errorf("loading censored words: %w", err)
		}
		log.Info(fmt.Sprintf("%d censored words loaded [%s]",
			len(lists.Words), strings.Join(lists.Languages, ",")))
		moderator, err = moderation.NewModerator(lists.Words, mask, log)
		if err != nil {
			return fmt.Errorf("building moderator: %w", err)
		}
	}

	// 4. Hub + admin surface on the single configured listener
	connHub := hub.NewHub(log, accounts, registry, store, moderator, hub.Options{
		RequireAuth:    config.RequireAuth,
		SendBufferSize: config.SendBufferSize,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", connHub.ServeWS)
	admin.NewFacade(registry, store, log).Register(mux)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler: mux,
	}

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		log.Info("Relay listening", "address", server.Addr, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("Program stopped cleanly")
	return nil
}
