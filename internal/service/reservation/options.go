package reservation

import (
	"time"

	"github.com/google/uuid"

	"github.com/Rosvend/university-reservations/internal/model"
)

const (
	// DefaultKey は予約一覧を保存するキーです
	DefaultKey = "university_reservations"
	// DefaultMaxRetries は版の競合時に書き込みを試行する最大回数です
	DefaultMaxRetries = 5
)

// Option は Store の設定を変更します
type Option func(*Store)

// WithClock は現在時刻の取得方法を差し替えます
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator は予約IDの採番方法を差し替えます
func WithIDGenerator(newID func() model.ReservationID) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// WithKey は保存先のキーを変更します
func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithMaxRetries は版の競合時の最大試行回数を変更します
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		s.maxRetries = n
	}
}

// WithNotifier は作成・キャンセル完了時のイベント通知先を設定します
func WithNotifier(n Notifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

// WithPastDateCheck は今日より前の日付の予約を拒否するかどうかを設定します
func WithPastDateCheck(enabled bool) Option {
	return func(s *Store) {
		s.rejectPastDates = enabled
	}
}

func newUUID() model.ReservationID {
	return model.ReservationID(uuid.NewString())
}
