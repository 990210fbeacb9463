package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Rosvend/university-reservations/internal/common/utils"
)

// Dialect はSQL方言の違いを吸収するための識別子です
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// DialectFor はドライバ名から方言を判定します
func DialectFor(driverName string) (Dialect, error) {
	switch driverName {
	case "postgres", "pgx":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driverName)
	}
}

// DB はX-Rayのサブセグメントを記録する sqlx.DB のラッパーです
type DB struct {
	*sqlx.DB
	dialect Dialect
}

// NewDB は接続済みの sqlx.DB をラップします
func NewDB(conn *sqlx.DB) (*DB, error) {
	dialect, err := DialectFor(conn.DriverName())
	if err != nil {
		return nil, err
	}
	return &DB{DB: conn, dialect: dialect}, nil
}

// Dialect は接続先の方言を返します
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// BeginTxx starts a new transaction
func (db *DB) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	ctx, done := utils.Trace(ctx, "DB.BeginTx")
	tx, err := db.DB.BeginTxx(ctx, opts)
	done(err)
	return tx, err
}

// InTx は fn を1つのトランザクション内で実行します
// fn がエラーを返した場合はロールバックし、そのエラーをそのまま返します
func (db *DB) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warnf("Failed to rollback transaction: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetContext wraps sqlx.DB.GetContext with X-Ray tracing
func (db *DB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, done := utils.Trace(ctx, "DB.Get")
	// クエリをメタデータとして追加
	utils.AddMetadata(ctx, "query", query)

	err := db.DB.GetContext(ctx, dest, db.Rebind(query), args...)
	done(err)
	return err
}

// ExecContext wraps sqlx.DB.ExecContext with X-Ray tracing
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, done := utils.Trace(ctx, "DB.Exec")
	utils.AddMetadata(ctx, "query", query)

	result, err := db.DB.ExecContext(ctx, db.Rebind(query), args...)
	done(err)
	return result, err
}

// ExecTx は tx 上でクエリを実行します。プレースホルダは方言に合わせて変換します
func (db *DB) ExecTx(ctx context.Context, tx *sqlx.Tx, query string, args ...interface{}) (sql.Result, error) {
	ctx, done := utils.Trace(ctx, "DB.ExecTx")
	utils.AddMetadata(ctx, "query", query)

	result, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	done(err)
	return result, err
}

// GetTx は tx 上で1行を取得します
func (db *DB) GetTx(ctx context.Context, tx *sqlx.Tx, dest interface{}, query string, args ...interface{}) error {
	ctx, done := utils.Trace(ctx, "DB.GetTx")
	utils.AddMetadata(ctx, "query", query)

	err := tx.GetContext(ctx, dest, tx.Rebind(query), args...)
	done(err)
	return err
}
