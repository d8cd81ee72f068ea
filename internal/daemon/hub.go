package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/peerlink/internal/infra/lobby"
	"github.com/tutu-network/peerlink/internal/logging"
)

// ServeHub runs a lobby hub on cfg.Hub.Listen until ctx ends or the
// process is interrupted.
func ServeHub(ctx context.Context, cfg Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()

	ln, err := net.Listen("tcp", cfg.Hub.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Hub.Listen, err)
	}
	return serveHub(ctx, ln, cfg, logger.Named("hub"))
}

func serveHub(ctx context.Context, ln net.Listener, cfg Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := lobby.NewHub(logger)
	srv := lobby.NewServer(hub)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info("lobby listening", zap.String("addr", ln.Addr().String()))
	fmt.Printf("peerlink lobby listening on ws://%s/ws\n", ln.Addr())
	return g.Wait()
}
