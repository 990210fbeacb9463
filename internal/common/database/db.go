package database

import (
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sqlx.DB
}

// Config はデータベース接続の設定です
// Driver が sqlite の場合は Path のみを使用します
type Config struct {
	Driver   string `validate:"oneof=postgres mysql sqlite"`
	Host     string
	Port     int
	UserName string
	Password string
	DBName   string
	SSLMode  string
	Path     string
}

// DSN はドライバごとの接続文字列を返します
func (cfg Config) DSN() (string, error) {
	switch cfg.Driver {
	case "postgres":
		// localhostのDBの場合はSSLを無効化
		sslMode := cfg.SSLMode
		if sslMode == "" {
			if cfg.Host == "localhost" || cfg.Host == "127.0.0.1" {
				sslMode = "disable"
			} else {
				sslMode = "require" // 本番環境ではSSLを有効にする
			}
		}
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host,
			cfg.Port,
			cfg.UserName,
			cfg.Password,
			cfg.DBName,
			sslMode,
		), nil
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = cfg.UserName
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.DBName = cfg.DBName
		mc.ParseTime = true
		mc.Loc = time.UTC
		mc.Params = map[string]string{"charset": "utf8mb4"}
		return mc.FormatDSN(), nil
	case "sqlite":
		if cfg.Path == "" {
			return "", fmt.Errorf("sqlite database path is empty")
		}
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewDB はデータベースに接続します
// tracing が有効な場合、postgres と mysql はX-Ray対応のSQLコンテキストで接続します
func NewDB(cfg Config, tracing bool) (*DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if tracing && cfg.Driver != "sqlite" {
		// X-Ray対応のSQLコンテキストを作成
		db, err = xray.SQLContext(cfg.Driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database with X-Ray: %w", err)
		}
	} else {
		db, err = sql.Open(cfg.Driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	// コネクションプールの設定
	if cfg.Driver == "sqlite" {
		// 書き込みは1接続に直列化する
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	// 接続テスト
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{sqlx.NewDb(db, cfg.Driver)}, nil
}
