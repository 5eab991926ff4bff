// Package main provides the entry point for the FableSeek server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"

	"github.com/fableseek/fableseek-server/internal/di"
	"github.com/fableseek/fableseek-server/internal/di/providers"
	"github.com/fableseek/fableseek-server/internal/fulfillment"
	"github.com/fableseek/fableseek-server/internal/logger"
	"github.com/fableseek/fableseek-server/internal/sse"
)

func main() {
	injector := di.NewContainer()

	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap server: %v\n", err)
		os.Exit(1)
	}

	log := do.MustInvoke[*logger.Logger](injector)
	manager := do.MustInvoke[*sse.Manager](injector)
	orchestrator := do.MustInvoke[*fulfillment.Orchestrator](injector)
	monitor := do.MustInvoke[*fulfillment.Monitor](injector)
	srv := do.MustInvoke[*providers.HTTPServerHandle](injector)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		manager.Start(ctx)
		return nil
	})
	g.Go(func() error {
		orchestrator.Run(ctx)
		return nil
	})
	g.Go(func() error {
		monitor.Run(ctx)
		return nil
	})
	g.Go(func() error {
		log.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Stop accepting connections once a shutdown signal arrives.
		<-ctx.Done()
		return srv.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
	}

	log.Info("Shutting down gracefully...")

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.Shutdown(drainCtx); err != nil {
		log.Error("SSE shutdown error", "error", err)
	}

	if err := injector.Shutdown(); err != nil {
		log.Error("Shutdown error", "error", err)
	}

	log.Info("Goodbye.")
}
