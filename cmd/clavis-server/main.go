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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/service"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store"
	filestore "github.com/BrandonDHaskell/Clavis/server/internal/clavis/store/file"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store/memory"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store/postgres"
	sqlitestore "github.com/BrandonDHaskell/Clavis/server/internal/clavis/store/sqlite"
	"github.com/BrandonDHaskell/Clavis/server/internal/config"
	"github.com/BrandonDHaskell/Clavis/server/internal/db"
	"github.com/BrandonDHaskell/Clavis/server/internal/gateway"
	"github.com/BrandonDHaskell/Clavis/server/internal/httpapi"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "clavis-server",
		Short: "Clavis lock code management for Z-Wave smart locks",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lock management daemon",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: clavis.yaml on the search path)")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, logger)
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var (
		documents store.DocumentBackend
		history   store.AccessLog
	)
	if cfg.Storage.Backend == "memory" {
		documents = memory.NewDocumentBackend()
		history = memory.NewAccessLog()
	} else {
		// Access history always lands in sqlite; the document backend is
		// selected independently.
		sqlDB, err := db.Open(ctx, db.Config{Path: cfg.Storage.DBPath})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer sqlDB.Close()
		writer := db.NewWriter(sqlDB)
		defer writer.Close()
		history = sqlitestore.NewAccessLog(sqlDB, writer)

		if cfg.Env == "dev" {
			for _, lc := range cfg.Locks {
				if err := db.SeedDev(ctx, sqlDB, lc.ID); err != nil {
					logger.Warn("dev seed failed", zap.String("lock", lc.ID), zap.Error(err))
				}
			}
		}

		switch cfg.Storage.Backend {
		case "sqlite":
			documents = sqlitestore.NewDocumentBackend(sqlDB, writer)
		case "file":
			documents = filestore.NewDocumentBackend(cfg.Storage.DataDir)
		case "postgres":
			pg, err := postgres.NewDocumentBackend(cfg.Storage.PostgresDSN)
			if err != nil {
				return fmt.Errorf("open postgres: %w", err)
			}
			defer pg.Close()
			documents = pg
		}
	}

	conn := gateway.NewConn(gateway.Options{
		URL:            cfg.Gateway.URL,
		CommandTimeout: cfg.Gateway.CommandTimeout,
		Logger:         logger.Named("gateway"),
	})

	events := httpapi.NewEventsHub(logger.Named("events"))
	defer events.Close()

	manager := service.NewManager(logger.Named("manager"))

	var pollers []*service.Poller
	for _, lc := range cfg.Locks {
		log := logger.Named("lock").With(zap.String("lock", lc.ID))

		st := store.New(documents, lc.ID, log)
		st.Load(ctx)

		client := gateway.NewClient(conn, lc.NodeID, cfg.Gateway.ReadTimeout, log)

		eng := service.NewEngine(service.EngineConfig{
			Slots:            lc.Slots,
			SettleDelay:      cfg.Sync.SettleDelay,
			VerifyRetries:    cfg.Sync.VerifyRetries,
			VerifyRetryDelay: cfg.Sync.VerifyRetryDelay,
		}, st, client, events, history, log)

		poller := service.NewPoller(eng, client, cfg.Sync.ScanInterval, log)
		eng.SetRefreshFunc(poller.Kick)
		pollers = append(pollers, poller)

		manager.Register(&service.Lock{
			ID:     lc.ID,
			Name:   lc.Name,
			NodeID: lc.NodeID,
			Engine: eng,
			Device: client,
		})
	}

	conn.OnEvent(manager.OnGatewayEvent)

	pruner := service.NewAccessLogPruner(history, service.PrunerConfig{
		RetentionDays: cfg.History.RetentionDays,
		IntervalHours: cfg.History.PruneIntervalHours,
	}, logger.Named("pruner"))

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  logger.Named("http"),
		Addr:    cfg.HTTPAddr,
		Manager: manager,
		Events:  events,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return conn.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	for _, p := range pollers {
		p.Start(gctx)
	}
	pruner.Start(gctx)

	err := g.Wait()

	for _, p := range pollers {
		p.Stop()
	}
	pruner.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
