package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/garnizeh/initiatives/api"
	dbfiles "github.com/garnizeh/initiatives/db"
	"github.com/garnizeh/initiatives/internal/catalog"
	"github.com/garnizeh/initiatives/internal/config"
	"github.com/garnizeh/initiatives/internal/db"
	"github.com/garnizeh/initiatives/internal/obs"
	"github.com/garnizeh/initiatives/internal/repository/sqlite"
	"github.com/garnizeh/initiatives/internal/seed"
)

const (
	embeddedCatalog = "seed/initiatives.csv"
	// seedEmbedded as seed_path imports the fixture shipped in the binary.
	seedEmbedded = "embedded"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger.Info("starting initiatives server", slog.String("version", version), slog.String("build_time", buildTime))

	conn, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Error("close db", slog.Any("err", err))
		}
	}()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, conn, dbfiles.Migrations); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	repo := sqlite.New(conn, logger)
	if cfg.SeedPath != "" {
		if _, err := runSeed(ctx, repo, cfg.SeedPath); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	store := newCatalogStore(cfg.Catalog, metrics.CatalogHooks())
	if _, err := store.Reload(ctx); err != nil {
		return fmt.Errorf("initial catalog load: %w", err)
	}

	handler := api.SetupRoutes(cfg, version, buildTime, api.Deps{
		Users:          repo,
		Participations: repo,
		Catalog:        store,
		DB:             conn.GetConn(),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	if cfg.Catalog.Watch && cfg.Catalog.Path != "" {
		g.Go(func() error {
			err := store.Watch(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("catalog watcher stopped", slog.Any("err", err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}

func openDB(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	conn, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", cfg.DatabasePath, err)
	}
	return conn, nil
}

// newCatalogStore reads the configured file, or the embedded catalog when no
// path is set.
func newCatalogStore(cc config.CatalogConfig, hooks catalog.Hooks) *catalog.Store {
	if cc.Path != "" {
		return catalog.NewStore(&catalog.FileSource{Path: cc.Path}, logger, hooks)
	}
	data, err := fs.ReadFile(dbfiles.SeedFiles, embeddedCatalog)
	if err != nil {
		// the file is embedded at build time
		panic(fmt.Sprintf("embedded catalog missing: %v", err))
	}
	return catalog.NewStore(&catalog.BytesSource{Label: "embedded:" + embeddedCatalog, Data: data}, logger, hooks)
}

func runSeed(ctx context.Context, repo *sqlite.SQLiteRepo, path string) (seed.Result, error) {
	im, err := seed.NewEmbeddedImporter(repo, repo, dbfiles.SeedFiles, logger)
	if err != nil {
		return seed.Result{}, err
	}
	if path == seedEmbedded {
		path = ""
	}
	res, err := im.ImportFile(ctx, path, dbfiles.SeedFiles)
	if err != nil {
		return res, fmt.Errorf("seed: %w", err)
	}
	return res, nil
}
