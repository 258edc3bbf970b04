package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/fenggwsx/PostBoard/internal/config"
	"github.com/fenggwsx/PostBoard/internal/ratelimit"
	"github.com/fenggwsx/PostBoard/internal/server"
	"github.com/fenggwsx/PostBoard/internal/storage"
	"github.com/fenggwsx/PostBoard/internal/storage/postgres"
	"github.com/fenggwsx/PostBoard/internal/storage/sqlite"
)

func serveCmd(cfg *config.ServerConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Accept WebSocket sessions and broadcast posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfg)
		},
	}
}

func migrateCmd(cfg *config.ServerConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the storage schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Printf("schema up to date driver=%s", driverName(cfg.Database))
			return nil
		},
	}
}

func historyCmd(cfg *config.ServerConfig) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			posts, err := store.RecentPosts(ctx, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, post := range posts {
				fmt.Fprintf(out, "%s  #%d  %s: %s\n", post.Timestamp.Local().Format("2006-01-02 15:04:05"), post.ID, post.Username, post.Content)
				if post.ImageURL != nil {
					fmt.Fprintf(out, "    image: %s\n", *post.ImageURL)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", cfg.HistoryLimit, "number of posts to print")
	return cmd
}

func serve(parent context.Context, cfg config.ServerConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("trace shutdown err=%v", err)
		}
	}()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	limiter, closeLimiter := newLimiter(cfg)
	defer closeLimiter()

	app := server.NewApp(cfg, store, limiter)
	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Printf("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, error) {
	switch driverName(cfg) {
	case config.DriverSQLite:
		store, err := sqlite.NewStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("init sqlite storage: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.NewStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init postgres storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func driverName(cfg config.DatabaseConfig) string {
	if cfg.Driver == "" {
		return config.DriverSQLite
	}
	return cfg.Driver
}

// newLimiter picks the shared Redis limiter when an address is configured.
func newLimiter(cfg config.ServerConfig) (ratelimit.Limiter, func()) {
	if cfg.Redis.Addr == "" {
		return ratelimit.NewTokenBucket(cfg.RateLimit.Burst, cfg.RateLimit.Interval), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.Printf("rate limiting via redis addr=%s", cfg.Redis.Addr)
	limiter := ratelimit.NewSlidingWindow(client, cfg.RateLimit.Burst, cfg.RateLimit.Interval, "postboard:ratelimit:")
	return limiter, func() { _ = client.Close() }
}
