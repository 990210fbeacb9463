package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Rosvend/university-reservations/internal/common/utils"
)

const blobTable = "reservation_blobs"

// SQLBlobRepository はSQLデータベースの1行に1つのBlobを保存する BlobRepository です
// version 列を楽観ロックに使い、CompareAndSet は条件付きの UPDATE / INSERT を1つのトランザクションで実行します
type SQLBlobRepository struct {
	db *DB
}

// NewSQLBlobRepository は SQLBlobRepository を作成します
func NewSQLBlobRepository(db *DB) *SQLBlobRepository {
	return &SQLBlobRepository{db: db}
}

type blobRow struct {
	Payload string `db:"payload"`
	Version int64  `db:"version"`
}

// EnsureSchema はBlob保存用のテーブルがなければ作成します
func (r *SQLBlobRepository) EnsureSchema(ctx context.Context) error {
	ctx, done := utils.Trace(ctx, "SQLBlobRepository.EnsureSchema")

	payloadType := "TEXT"
	if r.db.Dialect() == DialectMySQL {
		payloadType = "LONGTEXT"
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			blob_key VARCHAR(191) NOT NULL PRIMARY KEY,
			payload %s NOT NULL,
			version BIGINT NOT NULL
		)
	`, blobTable, payloadType)

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		done(err)
		return fmt.Errorf("failed to create %s table: %w", blobTable, err)
	}
	done(nil)
	return nil
}

// Get implements BlobRepository.
func (r *SQLBlobRepository) Get(ctx context.Context, key string) ([]byte, Version, error) {
	if err := validateKey(key); err != nil {
		return nil, NoVersion, err
	}
	ctx, done := utils.Trace(ctx, "SQLBlobRepository.Get")

	var row blobRow
	err := r.db.GetContext(ctx, &row, `SELECT payload, version FROM `+blobTable+` WHERE blob_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		done(nil)
		return nil, NoVersion, nil
	}
	if err != nil {
		done(err)
		return nil, NoVersion, fmt.Errorf("failed to select blob %q: %w", key, err)
	}
	done(nil)
	return []byte(row.Payload), formatSQLVersion(row.Version), nil
}

// Set implements BlobRepository.
func (r *SQLBlobRepository) Set(ctx context.Context, key string, blob []byte) (Version, error) {
	if err := validateKey(key); err != nil {
		return NoVersion, err
	}
	ctx, done := utils.Trace(ctx, "SQLBlobRepository.Set")
	v, err := setWithRetry(ctx, r, key, blob, 10)
	done(err)
	return v, err
}

// CompareAndSet implements BlobRepository.
func (r *SQLBlobRepository) CompareAndSet(ctx context.Context, key string, blob []byte, expected Version) (Version, error) {
	if err := validateKey(key); err != nil {
		return NoVersion, err
	}
	ctx, done := utils.Trace(ctx, "SQLBlobRepository.CompareAndSet")

	var v Version
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if expected == NoVersion {
			v, err = r.insertIfAbsent(ctx, tx, key, blob)
		} else {
			v, err = r.updateIfVersion(ctx, tx, key, blob, expected)
		}
		return err
	})
	if err != nil && !errors.Is(err, ErrVersionConflict) {
		done(err)
		return NoVersion, err
	}
	done(nil)
	return v, err
}

// Remove implements BlobRepository.
func (r *SQLBlobRepository) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	ctx, done := utils.Trace(ctx, "SQLBlobRepository.Remove")

	if _, err := r.db.ExecContext(ctx, `DELETE FROM `+blobTable+` WHERE blob_key = ?`, key); err != nil {
		done(err)
		return fmt.Errorf("failed to delete blob %q: %w", key, err)
	}
	done(nil)
	return nil
}

func (r *SQLBlobRepository) insertIfAbsent(ctx context.Context, tx *sqlx.Tx, key string, blob []byte) (Version, error) {
	query := `INSERT INTO ` + blobTable + ` (blob_key, payload, version) VALUES (?, ?, ?) ON CONFLICT (blob_key) DO NOTHING`
	if r.db.Dialect() == DialectMySQL {
		query = `INSERT IGNORE INTO ` + blobTable + ` (blob_key, payload, version) VALUES (?, ?, ?)`
	}

	// 削除後に作り直した行が古い版と一致しないよう、初版は時刻から採番する
	initial := time.Now().UnixNano()
	result, err := r.db.ExecTx(ctx, tx, query, key, string(blob), initial)
	if err != nil {
		return NoVersion, fmt.Errorf("failed to insert blob %q: %w", key, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return NoVersion, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return NoVersion, ErrVersionConflict
	}
	return formatSQLVersion(initial), nil
}

func (r *SQLBlobRepository) updateIfVersion(ctx context.Context, tx *sqlx.Tx, key string, blob []byte, expected Version) (Version, error) {
	current, err := strconv.ParseInt(string(expected), 10, 64)
	if err != nil {
		// この保存先が発行していない版は一致しようがない
		return NoVersion, ErrVersionConflict
	}

	query := `
		UPDATE ` + blobTable + `
		SET payload = ?,
			version = version + 1
		WHERE blob_key = ? AND version = ?
	`
	result, err := r.db.ExecTx(ctx, tx, query, string(blob), key, current)
	if err != nil {
		return NoVersion, fmt.Errorf("failed to update blob %q: %w", key, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return NoVersion, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return NoVersion, ErrVersionConflict
	}

	// 同じトランザクション内で更新後の版を読み直す
	var next int64
	if err := r.db.GetTx(ctx, tx, &next, `SELECT version FROM `+blobTable+` WHERE blob_key = ?`, key); err != nil {
		return NoVersion, fmt.Errorf("failed to read version of blob %q: %w", key, err)
	}
	return formatSQLVersion(next), nil
}

func formatSQLVersion(v int64) Version {
	return Version(strconv.FormatInt(v, 10))
}
