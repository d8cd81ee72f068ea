package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/peerlink/internal/api"
	"github.com/tutu-network/peerlink/internal/app/session"
	"github.com/tutu-network/peerlink/internal/domain"
	"github.com/tutu-network/peerlink/internal/health"
	"github.com/tutu-network/peerlink/internal/infra/lobby"
	"github.com/tutu-network/peerlink/internal/infra/sqlite"
	"github.com/tutu-network/peerlink/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// Daemon is the peerlink runtime. It wires together all services.
type Daemon struct {
	Config  Config
	Logger  *zap.Logger
	DB      *sqlite.DB
	Lobby   *lobby.Client
	Session *session.Coordinator
	Health  *health.Checker
	Server  *api.Server
	cancel  context.CancelFunc
}

// New creates and initializes a Daemon from the config file.
func New(ctx context.Context) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(ctx, cfg)
}

// NewWithConfig creates a Daemon with the given configuration. It joins
// the lobby but does not start advertising or browsing.
func NewWithConfig(ctx context.Context, cfg Config) (*Daemon, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	db, err := sqlite.Open(peerlinkHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	local, err := resolveIdentity(db, cfg.Node.DisplayName)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	retry := lobby.DefaultRetryConfig()
	retry.MaxRetries = cfg.Lobby.DialRetries
	client, err := lobby.DialWithRetry(ctx, lobby.ClientConfig{
		URL:              cfg.Lobby.URL,
		Service:          cfg.Lobby.ServiceType,
		Local:            local,
		Info:             cfg.Lobby.DiscoveryInfo,
		HandshakeTimeout: cfg.Lobby.DialTimeout.Duration,
	}, retry, logger.Named("lobby"))
	if err != nil {
		db.Close()
		return nil, err
	}

	coord := session.NewCoordinator(client, session.Config{
		InviteTimeout: cfg.Session.InviteTimeout.Duration,
		TieBreakOnID:  cfg.Session.TieBreakOnID,
	}, logger.Named("session"))
	coord.SetJournal(db)

	checker := health.NewChecker(db, client, logger.Named("health"))
	checker.SetInterval(cfg.Telemetry.HealthInterval.Duration)

	srv := api.NewServer(coord, logger.Named("api"))
	srv.SetHistory(db)
	srv.SetHealth(checker)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Lobby:   client,
		Session: coord,
		Health:  checker,
		Server:  srv,
	}, nil
}

// resolveIdentity loads the persisted peer ID, creating one on first
// run, and records the current display name.
func resolveIdentity(db *sqlite.DB, displayName string) (domain.PeerIdentity, error) {
	id, err := db.GetNodeInfo(sqlite.KeyPeerID)
	if err != nil {
		return domain.PeerIdentity{}, err
	}
	if id == "" {
		id = uuid.NewString()
		if err := db.SetNodeInfo(sqlite.KeyPeerID, id); err != nil {
			return domain.PeerIdentity{}, err
		}
	}
	if err := db.SetNodeInfo(sqlite.KeyDisplayName, displayName); err != nil {
		return domain.PeerIdentity{}, err
	}
	return domain.PeerIdentity{ID: id, DisplayName: displayName}, nil
}

// Serve starts services, the event loop, health checks and the HTTP
// API, and blocks until ctx ends, a shutdown signal arrives or the lobby
// connection is lost.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	addr := d.Config.APIAddr()
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     d.Server.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := d.Session.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		d.Health.Run(gctx)
		return nil
	})

	g.Go(func() error {
		d.watchSignals(gctx, cancel)
		return nil
	})

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		d.Session.StopServices()
		_ = d.Lobby.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := d.Session.StartServices(); err != nil {
		d.Logger.Warn("services started degraded", zap.Error(err))
	}

	local := d.Session.LocalPeer()
	fmt.Printf("peerlink %q serving on http://%s\n", local.DisplayName, addr)
	fmt.Printf("  Peer ID: %s\n", local.ID)
	fmt.Printf("  Lobby:   %s (%s)\n", d.Config.Lobby.URL, d.Config.Lobby.ServiceType)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	return g.Wait()
}

// watchSignals maps process signals onto the service lifecycle until
// ctx ends. Shutdown signals cancel the daemon.
func (d *Daemon) watchSignals(ctx context.Context, shutdown context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, lifecycleSignals()...)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch {
			case isBackground(sig):
				d.Logger.Info("entering background", zap.Stringer("signal", sig))
				d.Session.StopServices()
				d.Server.StateHub().Notify()
			case isForeground(sig):
				d.Logger.Info("entering foreground", zap.Stringer("signal", sig))
				if err := d.Session.StartServices(); err != nil {
					d.Logger.Warn("services started degraded", zap.Error(err))
				}
				d.Server.StateHub().Notify()
			default:
				d.Logger.Info("shutting down", zap.Stringer("signal", sig))
				shutdown()
				return
			}
		}
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Lobby != nil {
		_ = d.Lobby.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}
}
