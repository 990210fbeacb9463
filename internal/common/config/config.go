package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Rosvend/university-reservations/internal/common/database"
)

var log = logging.Logger("common/config")

// 設定キー。環境変数名と同じです
const (
	KeyBackend         = "RESERVATIONS_BACKEND"
	KeyStoreKey        = "RESERVATIONS_STORE_KEY"
	KeyDataDir         = "RESERVATIONS_DATA_DIR"
	KeyCatalog         = "RESERVATIONS_CATALOG"
	KeyRejectPastDates = "RESERVATIONS_REJECT_PAST_DATES"
	KeyMaxRetries      = "RESERVATIONS_MAX_RETRIES"
	KeyLogLevel        = "RESERVATIONS_LOG_LEVEL"

	KeyDBDriver   = "DB_DRIVER"
	KeyDBHost     = "DB_HOST"
	KeyDBPort     = "DB_PORT"
	KeyDBUserName = "DB_USERNAME"
	KeyDBPassword = "DB_PASSWORD"
	KeyDBName     = "DB_NAME"
	KeyDBSSLMode  = "DB_SSL_MODE"
	KeyDBPath     = "DB_PATH"

	KeyRedisAddr     = "REDIS_ADDR"
	KeyRedisPassword = "REDIS_PASSWORD"
	KeyRedisDB       = "REDIS_DB"

	KeyRabbitMQURL       = "RABBITMQ_URL"
	KeyNotificationQueue = "NOTIFICATION_QUEUE"

	KeyEnableTracing = "SBCNTR_ENABLE_TRACING"
	KeyEnv           = "ENV"
)

// 予約データの保存先
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
)

type Config struct {
	Store StoreConfig
	DB    database.Config `validate:"-"`
	Redis RedisConfig
	AMQP  AMQPConfig
	SFN   struct {
		TaskToken string
	}
	EnableTracing bool
	// Local は ENV=LOCAL の場合に true です。Step Functions への報告を行いません
	Local    bool
	LogLevel string `validate:"oneof=debug info warn error dpanic panic fatal"`
}

// StoreConfig は予約ストアの設定です
type StoreConfig struct {
	Backend         string `validate:"oneof=memory file sql redis"`
	Key             string `validate:"required"`
	DataDir         string `validate:"required_if=Backend file"`
	CatalogPath     string
	RejectPastDates bool
	MaxRetries      int `validate:"gte=1"`
}

type RedisConfig struct {
	Addr     string `validate:"required_if=Enabled true"`
	Password string
	DB       int `validate:"gte=0"`
	Enabled  bool
}

type AMQPConfig struct {
	URL   string
	Queue string `validate:"required"`
}

// Defaults は各キーの既定値を設定します
func Defaults(v *viper.Viper) {
	v.SetDefault(KeyBackend, BackendFile)
	v.SetDefault(KeyStoreKey, "university_reservations")
	v.SetDefault(KeyDataDir, "./data")
	v.SetDefault(KeyCatalog, "")
	v.SetDefault(KeyRejectPastDates, false)
	v.SetDefault(KeyMaxRetries, 5)
	v.SetDefault(KeyLogLevel, "info")

	v.SetDefault(KeyDBDriver, "postgres")
	v.SetDefault(KeyDBHost, "localhost")
	v.SetDefault(KeyDBPort, 5432)
	v.SetDefault(KeyDBUserName, "sbcntrapp")
	v.SetDefault(KeyDBPassword, "password")
	v.SetDefault(KeyDBName, "sbcntrapp")
	v.SetDefault(KeyDBSSLMode, "")
	v.SetDefault(KeyDBPath, "./data/reservations.db")

	v.SetDefault(KeyRedisAddr, "localhost:6379")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisDB, 0)

	v.SetDefault(KeyRabbitMQURL, "")
	v.SetDefault(KeyNotificationQueue, "reservation.notifications")

	v.SetDefault(KeyEnableTracing, "")
	v.SetDefault(KeyEnv, "")
}

// LoadDotEnv は .env ファイルがあれば環境変数に読み込みます
// 既に設定されている環境変数は上書きしません
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Warnf("Failed to load %s: %v", p, err)
			}
			continue
		}
		log.Debugf("Loaded environment from %s", p)
	}
}

// LoadConfig は環境変数から設定を読み込みます
func LoadConfig(taskToken string) (*Config, error) {
	return Load(viper.New(), taskToken)
}

// Load は v から設定を読み込みます
// フラグを v にバインドしておけば、フラグ・環境変数・既定値の順に優先されます
func Load(v *viper.Viper, taskToken string) (*Config, error) {
	Defaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Store: StoreConfig{
			Backend:         strings.ToLower(v.GetString(KeyBackend)),
			Key:             strings.TrimSpace(v.GetString(KeyStoreKey)),
			DataDir:         v.GetString(KeyDataDir),
			CatalogPath:     v.GetString(KeyCatalog),
			RejectPastDates: v.GetBool(KeyRejectPastDates),
			MaxRetries:      v.GetInt(KeyMaxRetries),
		},
		DB: database.Config{
			Driver:   strings.ToLower(v.GetString(KeyDBDriver)),
			Host:     v.GetString(KeyDBHost),
			Port:     v.GetInt(KeyDBPort),
			UserName: v.GetString(KeyDBUserName),
			Password: v.GetString(KeyDBPassword),
			DBName:   v.GetString(KeyDBName),
			SSLMode:  v.GetString(KeyDBSSLMode),
			Path:     v.GetString(KeyDBPath),
		},
		Redis: RedisConfig{
			Addr:     v.GetString(KeyRedisAddr),
			Password: v.GetString(KeyRedisPassword),
			DB:       v.GetInt(KeyRedisDB),
		},
		AMQP: AMQPConfig{
			URL:   v.GetString(KeyRabbitMQURL),
			Queue: v.GetString(KeyNotificationQueue),
		},
		Local:    v.GetString(KeyEnv) == "LOCAL",
		LogLevel: strings.ToLower(v.GetString(KeyLogLevel)),
	}
	cfg.SFN.TaskToken = taskToken
	cfg.Redis.Enabled = cfg.Store.Backend == BackendRedis

	// 環境変数[SBCNTR_ENABLE_TRACING]を見てトレースを有効にする。対応しているTracingはAWS_XRAYのみ。
	// 環境変数[AWS_XRAY_SDK_DISABLED]がtrueの場合は必ずトレースを無効にする。
	enableKey := v.GetString(KeyEnableTracing)
	if !sdkDisabled() && (strings.ToLower(enableKey) == "true" || enableKey == "1") {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "FALSE")
		cfg.EnableTracing = true
	} else {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
		cfg.EnableTracing = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値を検証します
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Store.Backend == BackendSQL {
		if err := validate.Struct(c.DB); err != nil {
			return fmt.Errorf("invalid database config: %w", err)
		}
	}
	return nil
}

// SetupLogging はすべてのロガーのレベルを設定します
func SetupLogging(level string) error {
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logging.SetAllLoggers(lvl)
	return nil
}

// Check if SDK is disabled
func sdkDisabled() bool {
	disableKey := os.Getenv("AWS_XRAY_SDK_DISABLED")
	return strings.ToLower(disableKey) == "true"
}
