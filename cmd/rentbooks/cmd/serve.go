package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rentbooks/rentbooks/internal/server"
	"github.com/rentbooks/rentbooks/pkg/estimate"
)

var serveAddr string

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the expense webhook",
	Long: `Start the HTTP server that receives expense form submissions.

Endpoints:
- POST /api/expenses  post one expense to the Duplex ledger
- GET  /api/estimate  the property value estimate
- GET  /healthz

When SERVER_TOKEN is set, /api requests must carry it as a bearer token.

Example:
  rentbooks serve
  rentbooks serve --addr :8085`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default SERVER_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	exitOnError(err, "failed to initialize")
	defer a.Close()

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	cfg := server.Config{
		NewRun:   func() server.Expenses { return a.newRun() },
		Token:          a.cfg.Server.Token,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Location:       a.location,
		Logger:         a.logger,
	}
	prop, err := estimate.ParseAddress(a.cfg.Property.Street, a.cfg.Property.CityStateZip, a.cfg.Property.TruliaID)
	if err != nil {
		slog.Warn("Property address incomplete, estimate endpoint disabled", "error", err)
	} else {
		cfg.Estimates = a.deps.Estimates
		cfg.Address = prop
	}
	if cfg.Token == "" {
		slog.Warn("SERVER_TOKEN not set, API is unauthenticated")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.NewRouter(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			exitOnError(err, "server failed")
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}
}
