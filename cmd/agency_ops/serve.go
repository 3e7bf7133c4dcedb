package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/agency-orchestrator/internal/config"
	"github.com/jonathan/agency-orchestrator/internal/server"
	"github.com/jonathan/agency-orchestrator/internal/server/ratelimit"
)

var (
	servePort    int
	serveRecover bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that exposes REST endpoints for leads and runs, a
Server-Sent Events stream per run, and Prometheus metrics.

Runs left queued or running by a previous process are resumed on startup
unless --recover=false is given. Set JWT_SECRET to require bearer tokens.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveRecover, "recover", true, "Resume interrupted runs on startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := newServer(a)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if serveRecover {
		if n := a.orch.RecoverInterrupted(ctx); n > 0 {
			a.logger.Info("resumed interrupted runs", zap.Int("count", n))
		}
	}

	serveErr := srv.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.orch.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("orchestrator did not stop cleanly", zap.Error(err))
	}
	return serveErr
}

// newServer builds the HTTP server over the app's components.
func newServer(a *app) (*server.Server, error) {
	jwtConfig, err := config.LoadJWTConfig()
	if err != nil {
		return nil, err
	}
	if jwtConfig == nil {
		a.logger.Warn("JWT_SECRET is not set; the API is unauthenticated")
	}

	port := a.cfg.Port
	if servePort > 0 {
		port = servePort
	}

	cfg := server.Config{
		Port:        port,
		Runner:      a.orch,
		Store:       a.store,
		Hub:         a.hub,
		Gatherer:    a.registry,
		JWT:         jwtConfig,
		Credentials: &a.cfg,
		Logger:      a.logger.Named("http"),
	}
	if a.cfg.RateLimit {
		cfg.RateLimit = ratelimit.LoadConfig()
	}
	return server.New(cfg)
}
