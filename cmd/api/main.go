package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shelfmark/api/internal/app"
	"shelfmark/api/internal/cache"
	"shelfmark/api/internal/config"
	"shelfmark/api/internal/session"
	"shelfmark/api/internal/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "shelfmark-api",
	Short:        "Bookmark collections API",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var (
		data     app.DataStore
		sessions app.SessionStore
	)
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		memory := store.NewMemoryStore()
		data, sessions = memory, memory
	default:
		db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolConfig())
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if err := store.MigrateUp(db); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		postgres := store.NewPostgresStore(db)
		data, sessions = postgres, postgres
	}

	var c cache.Cache = cache.NewMemoryCache(cfg.CacheTTL)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := session.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		redisSessions := session.NewRedisStore(client)
		defer redisSessions.Close()
		sessions = redisSessions

		redisCache := cache.NewRedisCache(client, cfg.CacheTTL)
		stopListening, err := redisCache.Listen(ctx)
		if err != nil {
			return fmt.Errorf("cache invalidation listener: %w", err)
		}
		defer func() {
			if err := stopListening(); err != nil {
				logger.Warn("stop cache listener", "error", err)
			}
		}()
		c = redisCache
		logger.Info("using redis for sessions and cache")
	}

	service := app.New(cfg, data, sessions, c, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("shelfmark api listening", "addr", cfg.Addr, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shelfmark api stopped")
	return nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(db *sql.DB) error {
			if err := store.MigrateUp(db); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(db *sql.DB) error {
			if err := store.MigrateDown(db); err != nil {
				return err
			}
			fmt.Println("Migrations rolled back")
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(db *sql.DB) error {
			version, dirty, err := store.MigrationVersion(db)
			if err != nil {
				return err
			}
			fmt.Printf("Version: %d\n", version)
			if dirty {
				fmt.Println("Schema is dirty")
			}
			return nil
		})
	},
}

func withDB(ctx context.Context, fn func(db *sql.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd)
}
