// nodegated is the gateway daemon: it terminates node websocket connections
// and serves the operator REST and MCP surfaces on one HTTP listener.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nodegate/nodegate/internal/config"
	"github.com/nodegate/nodegate/internal/httpapi"
	"github.com/nodegate/nodegate/internal/invoke"
	"github.com/nodegate/nodegate/internal/logging"
	"github.com/nodegate/nodegate/internal/nodeauth"
	"github.com/nodegate/nodegate/internal/persistence"
	"github.com/nodegate/nodegate/internal/registry"
	"github.com/nodegate/nodegate/internal/timewheel"
	"github.com/nodegate/nodegate/internal/wsgateway"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	credentials, err := config.LoadNodeCredentials(cfg.NodeCredentialsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.NodeCredentialsFile).Msg("failed to load node credentials")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := persistence.Open(ctx, cfg.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open database")
	}
	defer db.Close()
	invocationLog := persistence.NewInvocationLog(db, logger)
	defer invocationLog.Close()

	wheel := timewheel.New(cfg.WheelTick, cfg.WheelSize, logger)
	wheel.Start()
	defer wheel.Stop()

	store := registry.NewStore()
	reg := invoke.NewRegistry(store, wheel, invoke.Options{
		MaxPendingPerNode: cfg.MaxPendingPerNode,
		IdempotencyTTL:    cfg.IdempotencyTTL,
		DefaultTimeout:    cfg.InvokeTimeout,
	}, logger)
	reg.SetRecorder(invocationLog)

	auth := nodeauth.NewAuthenticator(credentials, cfg.ReplayWindow)
	gateway := wsgateway.New(reg, store, auth, cfg.PingIntervalSec, logger)

	handler := httpapi.NewHandler(store, reg, invocationLog, logger)
	operatorAuth := httpapi.NewOperatorAuth(cfg.OperatorUsername, cfg.OperatorPassword)
	mcpHandler := httpapi.NewMCPHandler(store, reg)
	router := httpapi.NewRouter(handler, operatorAuth, mcpHandler, gateway.HandleNode, cfg.NodeWSPath)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("node_ws_path", cfg.NodeWSPath).
			Int("nodes_configured", len(credentials)).
			Msg("nodegate listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
}
