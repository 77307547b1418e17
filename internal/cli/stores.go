package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"noob2root-bot/internal/app"
	"noob2root-bot/internal/config"
	"noob2root-bot/internal/infra/memory"
	"noob2root-bot/internal/infra/postgres"
	redisstore "noob2root-bot/internal/infra/redis"
	"noob2root-bot/internal/infra/sqlite"
	logging "noob2root-bot/internal/logger"
)

// stores is the persistence wiring shared by every subcommand.
type stores struct {
	backend     string
	docs        app.DocumentStore
	leaderboard app.Leaderboard
	sessions    app.SessionRepository
	closers     []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func backendFor(cfg config.Config) string {
	if cfg.Store.Backend != "" {
		return cfg.Store.Backend
	}
	switch {
	case cfg.Postgres.URL != "":
		return "postgres"
	case cfg.SQLite.Path != "":
		return "sqlite"
	case cfg.Redis.Addr != "":
		return "redis"
	}
	return "memory"
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	s := &stores{backend: backendFor(cfg)}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, func() { _ = redisClient.Close() })
	}

	switch s.backend {
	case "postgres":
		if cfg.Postgres.URL == "" {
			s.Close()
			return nil, fmt.Errorf("store backend postgres needs postgres.url")
		}
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			s.Close()
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		s.docs = postgres.NewDocumentStore(pool)
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = db.Close() })
		s.docs = db
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("store backend redis needs redis.addr")
		}
		s.docs = redisstore.NewDocumentStore(redisClient)
	default:
		logger.Warn("using in-memory store, progress is lost on restart")
		s.docs = memory.NewDocumentStore()
	}

	if redisClient != nil {
		s.leaderboard = redisstore.NewLeaderboard(redisClient)
		s.sessions = redisstore.NewSessionStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	} else {
		s.leaderboard = memory.NewLeaderboard()
		s.sessions = memory.NewSessionStore()
	}
	logger.Info("stores ready", zap.String("backend", s.backend), zap.Bool("redis", redisClient != nil))
	return s, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
}
