package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/geopuzzle/api/internal/auth"
	"github.com/geopuzzle/api/internal/config"
	"github.com/geopuzzle/api/internal/database"
	"github.com/geopuzzle/api/internal/game"
	"github.com/geopuzzle/api/internal/leaderboard"
	"github.com/geopuzzle/api/internal/migrations"
	"github.com/geopuzzle/api/internal/server"
	"github.com/geopuzzle/api/internal/storage"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	// --- Redis (optional) ---
	var rdb *redis.Client
	var board *leaderboard.Leaderboard
	if cfg.RedisURL != "" {
		rdb, err = openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		board = leaderboard.New(rdb)
		logger.Info("connected to redis, leaderboard enabled")
	}

	// --- Object storage ---
	var objects storage.ObjectStore
	uploadDir := ""
	if cfg.S3Bucket != "" {
		objects, err = storage.NewS3Store(ctx, cfg.S3Endpoint, cfg.S3AccessKeyID, cfg.S3SecretKey, cfg.S3Bucket, cfg.CDNBaseURL)
		if err != nil {
			return fmt.Errorf("connecting to object storage: %w", err)
		}
		logger.Info("using s3 object storage", "bucket", cfg.S3Bucket)
	} else {
		objects, err = storage.NewDiskStore(cfg.UploadDir)
		if err != nil {
			return fmt.Errorf("preparing upload directory: %w", err)
		}
		uploadDir = cfg.UploadDir
		logger.Info("using local object storage", "dir", cfg.UploadDir)
	}

	// --- Wiring ---
	store := server.NewSQLStore(db)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.TokenTTL)
	sink := server.NewScoreboardSink(logger, store, board)
	registry := game.NewRegistry(logger, store, sink, cfg.SessionIdleTimeout, cfg.ReapInterval)
	hub := game.NewHub()

	if err := server.SeedDemo(ctx, logger, store, cfg.DefaultThumbnail); err != nil {
		return fmt.Errorf("seeding demo data: %w", err)
	}

	srv := server.New(cfg.HTTPAddr, server.Deps{
		Logger:           logger,
		Store:            store,
		DB:               db,
		Redis:            rdb,
		Tokens:           tokens,
		Registry:         registry,
		Hub:              hub,
		Board:            board,
		Objects:          objects,
		SendTimeout:      cfg.SendTimeout,
		UploadDir:        uploadDir,
		DefaultThumbnail: cfg.DefaultThumbnail,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		err := registry.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
