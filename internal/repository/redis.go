package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Rosvend/university-reservations/internal/common/utils"
)

// RedisBlobRepository はRedisの文字列値としてBlobを保存する BlobRepository です
// 複数プロセスで同じ予約データを共有する場合に使います
// CompareAndSet は WATCH と MULTI/EXEC で実現し、版はBlob内容のハッシュです
type RedisBlobRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisBlobRepository は RedisBlobRepository を作成します
// prefix はすべてのキーの前に付与されます
func NewRedisBlobRepository(client *redis.Client, prefix string) *RedisBlobRepository {
	return &RedisBlobRepository{client: client, prefix: prefix}
}

func (r *RedisBlobRepository) redisKey(key string) string {
	return r.prefix + key
}

// Get implements BlobRepository.
func (r *RedisBlobRepository) Get(ctx context.Context, key string) ([]byte, Version, error) {
	if err := validateKey(key); err != nil {
		return nil, NoVersion, err
	}
	ctx, done := utils.Trace(ctx, "RedisBlobRepository.Get")

	blob, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		done(nil)
		return nil, NoVersion, nil
	}
	if err != nil {
		done(err)
		return nil, NoVersion, fmt.Errorf("failed to get %s: %w", r.redisKey(key), err)
	}
	done(nil)
	return blob, ContentVersion(blob), nil
}

// Set implements BlobRepository.
func (r *RedisBlobRepository) Set(ctx context.Context, key string, blob []byte) (Version, error) {
	if err := validateKey(key); err != nil {
		return NoVersion, err
	}
	ctx, done := utils.Trace(ctx, "RedisBlobRepository.Set")

	if err := r.client.Set(ctx, r.redisKey(key), blob, 0).Err(); err != nil {
		done(err)
		return NoVersion, fmt.Errorf("failed to set %s: %w", r.redisKey(key), err)
	}
	done(nil)
	return ContentVersion(blob), nil
}

// CompareAndSet implements BlobRepository.
func (r *RedisBlobRepository) CompareAndSet(ctx context.Context, key string, blob []byte, expected Version) (Version, error) {
	if err := validateKey(key); err != nil {
		return NoVersion, err
	}
	ctx, done := utils.Trace(ctx, "RedisBlobRepository.CompareAndSet")
	rk := r.redisKey(key)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current := NoVersion
		existing, err := tx.Get(ctx, rk).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to get %s: %w", rk, err)
		default:
			current = ContentVersion(existing)
		}
		if current != expected {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, blob, 0)
			return nil
		})
		return err
	}, rk)

	switch {
	case err == nil:
		done(nil)
		return ContentVersion(blob), nil
	case errors.Is(err, ErrVersionConflict), errors.Is(err, redis.TxFailedErr):
		// WATCH 中に他のクライアントが書き込んだ
		done(nil)
		return NoVersion, ErrVersionConflict
	default:
		done(err)
		return NoVersion, fmt.Errorf("failed to compare-and-set %s: %w", rk, err)
	}
}

// Remove implements BlobRepository.
func (r *RedisBlobRepository) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	ctx, done := utils.Trace(ctx, "RedisBlobRepository.Remove")

	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		done(err)
		return fmt.Errorf("failed to delete %s: %w", r.redisKey(key), err)
	}
	done(nil)
	return nil
}
