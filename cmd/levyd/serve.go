package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/warp/levy-engine/api"
	"github.com/warp/levy-engine/levy"
	"github.com/warp/levy-engine/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

func serveCmd(v *viper.Viper, load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the levy HTTP API.

On SIGINT/SIGTERM the server stops accepting connections, waits up to 30s
for in-flight requests, then closes the database.

Examples:
  levyd serve
  levyd serve --port 3000 --db ./data/levy.db
  LEVY_AUTH_SECRET=... levyd serve --config /etc/levy.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), load)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP server port (overrides server.port)")
	bindFlag(v, "server.port", cmd, "port")
	return cmd
}

func runServe(ctx context.Context, load loader) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	handler := api.NewHandler(store, loc)
	handler.Collections.DefaultPageSize = cfg.Levy.DashboardPageSize
	handler.Collections.Observers = append(handler.Collections.Observers, levy.LogAuditSink{})

	auth := api.NewAuthenticator(cfg.Auth)
	if !cfg.Auth.Enabled {
		log.Println("[Server] WARNING: authentication disabled, trusting X-Actor headers")
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, auth, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Printf("[Server] listening on %s (db=%s, tz=%s)", cfg.Addr(), cfg.Database.Path, loc)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Println("[Server] shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Println("[Server] stopped")
	return nil
}
