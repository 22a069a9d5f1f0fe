package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reminder-notify-backend/internal/api"
	"reminder-notify-backend/internal/logger"
	"reminder-notify-backend/internal/mw"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the dispatcher and reconciliation sweep",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be configured")
	}

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workers sync.WaitGroup
	if a.cfg.Dispatcher.Enabled {
		workers.Add(1)
		go func() {
			defer workers.Done()
			a.dispatcher.Run(ctx)
		}()
	}
	if a.cfg.Sync.Enabled {
		workers.Add(1)
		go func() {
			defer workers.Done()
			a.syncer.Run(ctx)
		}()
	}

	handler := api.NewHandler(a.store, a.syncer, a.registry, a.vapidPublicKey())
	verifier := mw.NewTokenVerifier(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer)
	router := api.NewRouter(handler, verifier, a.cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", "port", a.cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutdown signal received, stopping services")
	case err := <-serveErr:
		cancel()
		workers.Wait()
		return fmt.Errorf("HTTP server ListenAndServe: %w", err)
	}

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server Shutdown: %w", err)
	}
	cancel()
	workers.Wait()

	logger.Info("server gracefully stopped")
	return nil
}
