package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/tournament-vote-backend/internal/archive"
	"github.com/DoyleJ11/tournament-vote-backend/internal/broadcast"
	"github.com/DoyleJ11/tournament-vote-backend/internal/catalog"
	"github.com/DoyleJ11/tournament-vote-backend/internal/config"
	"github.com/DoyleJ11/tournament-vote-backend/internal/httpapi"
	"github.com/DoyleJ11/tournament-vote-backend/internal/logging"
	"github.com/DoyleJ11/tournament-vote-backend/internal/registry"
	"github.com/DoyleJ11/tournament-vote-backend/internal/ws"
)

func openCatalog(cfg *config.Config) (catalog.Catalog, error) {
	if cfg.CatalogDriver == config.CatalogPostgres {
		return catalog.OpenPostgres(cfg.DatabaseURL)
	}
	return catalog.LoadFile(cfg.CatalogPath)
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cat, err := openCatalog(cfg)
	if err != nil {
		return err
	}

	regOpts := []registry.Option{
		registry.WithSettings(cfg.RegistrySettings()),
		registry.WithLogger(log.Named("registry")),
		registry.WithHub(broadcast.NewHub(
			broadcast.WithBuffer(cfg.WSSendBuffer),
			broadcast.WithLogger(log.Named("broadcast")),
		)),
	}
	apiOpts := []httpapi.Option{
		httpapi.WithPublicURL(cfg.PublicURL),
		httpapi.WithLogger(log.Named("http")),
		httpapi.WithCORSOrigins(cfg.CORSOrigins...),
	}
	if cfg.ArchivePath != "" {
		store, err := archive.Open(cfg.ArchivePath)
		if err != nil {
			return err
		}
		defer store.Close()
		regOpts = append(regOpts, registry.WithArchive(store))
		apiOpts = append(apiOpts, httpapi.WithResults(store))
	}

	reg := registry.New(ctx, cat, regOpts...)
	defer reg.Shutdown()

	stream := ws.NewHandler(reg,
		ws.WithLogger(log.Named("ws")),
		ws.WithTimeouts(cfg.WSReadTimeout, cfg.WSWriteTimeout),
		ws.WithPingInterval(cfg.WSPingInterval),
		ws.WithAllowedOrigins(cfg.CORSOrigins...),
	)
	apiOpts = append(apiOpts, httpapi.WithStream(stream))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.New(reg, cat, apiOpts...).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("catalog", cfg.CatalogDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
