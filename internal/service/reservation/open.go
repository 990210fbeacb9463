package reservation

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/Rosvend/university-reservations/internal/catalog"
	"github.com/Rosvend/university-reservations/internal/common/config"
	"github.com/Rosvend/university-reservations/internal/common/database"
	"github.com/Rosvend/university-reservations/internal/repository"
)

// redisKeyPrefix はRedisに保存するキーの接頭辞です
const redisKeyPrefix = "reservations:"

// Open は設定に従ってカタログと保存先を用意し、予約ストアを作成します
// 返される関数で保存先の接続を閉じます
func Open(ctx context.Context, cfg *config.Config, fsys afero.Fs, opts ...Option) (*Store, func() error, error) {
	cat, err := catalog.Load(fsys, cfg.Store.CatalogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load space catalog: %w", err)
	}

	repo, closeRepo, err := OpenRepository(ctx, cfg, fsys)
	if err != nil {
		return nil, nil, err
	}

	options := []Option{
		WithKey(cfg.Store.Key),
		WithMaxRetries(cfg.Store.MaxRetries),
		WithPastDateCheck(cfg.Store.RejectPastDates),
	}
	store, err := NewStore(repo, cat, append(options, opts...)...)
	if err != nil {
		closeRepo()
		return nil, nil, err
	}
	log.Infof("Reservation store ready (backend=%s, key=%s, spaces=%d)", cfg.Store.Backend, cfg.Store.Key, cat.Len())
	return store, closeRepo, nil
}

// OpenRepository は設定された保存先の BlobRepository を作成します
func OpenRepository(ctx context.Context, cfg *config.Config, fsys afero.Fs) (repository.BlobRepository, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store.Backend {
	case config.BackendMemory:
		log.Warnf("Using the in-memory backend, reservations will not survive a restart")
		return repository.NewMemoryBlobRepository(), noop, nil

	case config.BackendFile:
		repo, err := repository.NewFileBlobRepository(fsys, cfg.Store.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return repo, noop, nil

	case config.BackendSQL:
		if cfg.DB.Driver == "sqlite" {
			if err := fsys.MkdirAll(filepath.Dir(cfg.DB.Path), 0o755); err != nil {
				return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err := database.NewDB(cfg.DB, cfg.EnableTracing)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database connection: %w", err)
		}
		// database.DBをrepository.DBに変換
		repoDB, err := repository.NewDB(db.DB)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		repo := repository.NewSQLBlobRepository(repoDB)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, db.Close, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return repository.NewRedisBlobRepository(client, redisKeyPrefix), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Store.Backend)
	}
}
