// Package reservation は大学スペースの予約を検証・保存・一覧・取り消しする予約ストアを提供します
// 同じスペース・日付・時刻に2件の予約が存在しないことを保証します
package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	logging "github.com/ipfs/go-log/v2"

	"github.com/Rosvend/university-reservations/internal/common/utils"
	"github.com/Rosvend/university-reservations/internal/model"
	"github.com/Rosvend/university-reservations/internal/repository"
)

var log = logging.Logger("service/reservation")

// SpaceCatalog は予約対象のスペースを参照するためのインターフェースです
type SpaceCatalog interface {
	Lookup(id int) (model.Space, bool)
}

// Notifier は予約イベントの通知先です
// 通知の失敗は予約操作の結果に影響しません
type Notifier interface {
	Notify(ctx context.Context, event model.ReservationEvent) error
}

// Store は予約一覧を1つのBlobとして永続化する予約ストアです
// 書き込みは読み込んだ時点の版を条件にした CompareAndSet で行い、
// 他のプロセスとの競合を検出した場合は読み込みからやり直します
type Store struct {
	repo    repository.BlobRepository
	catalog SpaceCatalog

	key             string
	now             func() time.Time
	newID           func() model.ReservationID
	maxRetries      int
	notifier        Notifier
	rejectPastDates bool

	mu           sync.Mutex
	index        *SlotIndex
	indexVersion repository.Version
}

// NewStore は予約ストアを作成します
func NewStore(repo repository.BlobRepository, catalog SpaceCatalog, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, errors.New("blob repository is required")
	}
	if catalog == nil {
		return nil, errors.New("space catalog is required")
	}
	s := &Store{
		repo:       repo,
		catalog:    catalog,
		key:        DefaultKey,
		now:        time.Now,
		newID:      newUUID,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	if strings.TrimSpace(s.key) == "" {
		return nil, errors.New("store key cannot be empty")
	}
	if s.maxRetries < 1 {
		return nil, fmt.Errorf("max retries must be at least 1, got %d", s.maxRetries)
	}
	return s, nil
}

// Load は保存済みの予約を保存順で返します
// 保存データが壊れている場合は空の一覧を返し、読み込み自体に失敗した場合は StorageError を返します
func (s *Store) Load(ctx context.Context) ([]model.Reservation, error) {
	ctx, done := utils.Trace(ctx, "ReservationStore.Load")
	s.mu.Lock()
	defer s.mu.Unlock()

	decoded, _, err := s.snapshot(ctx, "load")
	done(err)
	return decoded.records, err
}

// List は予約を作成日時の新しい順に返します
// 作成日時が同じ場合は保存順を保ちます
func (s *Store) List(ctx context.Context) ([]model.Reservation, error) {
	ctx, done := utils.Trace(ctx, "ReservationStore.List")
	s.mu.Lock()
	defer s.mu.Unlock()

	decoded, _, err := s.snapshot(ctx, "list")
	if err != nil {
		done(err)
		return nil, err
	}
	records := decoded.records
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt().After(records[j].CreatedAt())
	})
	utils.AddMetadata(ctx, "count", len(records))
	done(nil)
	return records, nil
}

// Create は入力値を検証し、重複がなければ予約を作成して保存します
// 同じスペース・日付・時刻の予約が既にある場合は DuplicateBookingError を返し、何も書き込みません
func (s *Store) Create(ctx context.Context, candidate model.Candidate) (model.Reservation, error) {
	ctx, done := utils.Trace(ctx, "ReservationStore.Create")

	candidate = candidate.Normalize()
	space, err := s.validate(candidate)
	if err != nil {
		done(err)
		return model.Reservation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.retry(ctx, "create", func() (model.Reservation, error) {
		decoded, version, err := s.snapshot(ctx, "create")
		if err != nil {
			return model.Reservation{}, backoff.Permanent(err)
		}
		slot := candidate.Slot()
		if existing, taken := s.lookupSlot(decoded.records, version, slot); taken {
			return model.Reservation{}, backoff.Permanent(model.DuplicateBookingError{Slot: slot, ExistingID: existing})
		}

		r, err := model.NewReservation(s.newID(), candidate, space.Name, s.now().Truncate(time.Millisecond))
		if err != nil {
			return model.Reservation{}, backoff.Permanent(err)
		}
		next, err := decoded.withAppended(r)
		if err != nil {
			return model.Reservation{}, backoff.Permanent(model.NewStorageError("create", err))
		}
		if err := s.write(ctx, "create", next, version); err != nil {
			return model.Reservation{}, err
		}
		return r, nil
	})
	if err != nil {
		done(err)
		return model.Reservation{}, err
	}

	log.Infof("Created reservation %s for space %d on %s at %s", created.ID(), created.SpaceID(), created.Date(), created.Time())
	s.notify(ctx, model.EventReservationCreated, created)
	done(nil)
	return created, nil
}

// Cancel は予約を取り消します
// 予約が存在しない場合は NotFoundError を返し、何も書き込みません
func (s *Store) Cancel(ctx context.Context, id model.ReservationID) error {
	ctx, done := utils.Trace(ctx, "ReservationStore.Cancel")

	id = model.ReservationID(strings.TrimSpace(string(id)))
	if id == "" {
		err := model.ValidationError{Field: "id", Reason: "is required"}
		done(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled, err := s.retry(ctx, "cancel", func() (model.Reservation, error) {
		decoded, version, err := s.snapshot(ctx, "cancel")
		if err != nil {
			return model.Reservation{}, backoff.Permanent(err)
		}
		next, removed, ok := decoded.without(id)
		if !ok {
			return model.Reservation{}, backoff.Permanent(model.NotFoundError{ID: id})
		}
		if err := s.write(ctx, "cancel", next, version); err != nil {
			return model.Reservation{}, err
		}
		return removed, nil
	})
	if err != nil {
		done(err)
		return err
	}

	log.Infof("Cancelled reservation %s", id)
	s.notify(ctx, model.EventReservationCancelled, cancelled)
	done(nil)
	return nil
}

// Clear はすべての予約を削除します
func (s *Store) Clear(ctx context.Context) error {
	ctx, done := utils.Trace(ctx, "ReservationStore.Clear")
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Remove(ctx, s.key); err != nil {
		serr := model.NewStorageError("clear", err)
		done(serr)
		return serr
	}
	s.index, s.indexVersion = nil, repository.NoVersion
	log.Infof("Cleared all reservations under %q", s.key)
	done(nil)
	return nil
}

// validate は保存データを読む前に確認できる項目を検証し、予約対象のスペースを返します
func (s *Store) validate(c model.Candidate) (model.Space, error) {
	if err := model.ValidateCandidate(c); err != nil {
		return model.Space{}, err
	}
	if s.rejectPastDates && c.Date < s.now().Format(model.DateLayout) {
		return model.Space{}, model.ValidationError{Field: "date", Reason: "must not be in the past"}
	}
	space, ok := s.catalog.Lookup(c.SpaceID)
	if !ok {
		return model.Space{}, model.ValidationError{
			Field:  "spaceId",
			Reason: fmt.Sprintf("space %d does not exist", c.SpaceID),
		}
	}
	return space, nil
}

// snapshot は保存済みの予約一覧と版を読み込みます
// 読み飛ばした要素も書き戻せるよう、解析結果ごと返します
func (s *Store) snapshot(ctx context.Context, op string) (decodeResult, repository.Version, error) {
	blob, version, err := s.repo.Get(ctx, s.key)
	if err != nil {
		return decodeResult{}, repository.NoVersion, model.NewStorageError(op, err)
	}
	decoded := decodeCollection(blob)
	if decoded.skipped > 0 {
		log.Warnf("Skipped %d malformed reservations under %q, they are kept as stored", decoded.skipped, s.key)
	}
	return decoded, version, nil
}

// write は読み込み時の版を条件に予約一覧を書き込みます
// 版の競合は repository.ErrVersionConflict のまま返し、それ以外は StorageError にします
func (s *Store) write(ctx context.Context, op string, entries []storedEntry, expected repository.Version) error {
	blob, err := encodeCollection(entries)
	if err != nil {
		return backoff.Permanent(model.NewStorageError(op, err))
	}
	version, err := s.repo.CompareAndSet(ctx, s.key, blob, expected)
	if errors.Is(err, repository.ErrVersionConflict) {
		log.Debugf("Version conflict on %q during %s, reloading", s.key, op)
		return err
	}
	if err != nil {
		return backoff.Permanent(model.NewStorageError(op, err))
	}
	s.index, s.indexVersion = NewSlotIndex(validRecords(entries)), version
	return nil
}

// lookupSlot は slot を占有している予約を探します
// 直前の書き込みで作った索引が読み込んだ版と一致すればそれを使い、一致しなければ一覧を走査します
func (s *Store) lookupSlot(records []model.Reservation, version repository.Version, slot model.SlotKey) (model.ReservationID, bool) {
	if s.index != nil && version != repository.NoVersion && version == s.indexVersion {
		return s.index.Lookup(slot)
	}
	return FindConflict(records, slot)
}

// retry は版の競合が続く限り最大 maxRetries 回まで op を繰り返します
func (s *Store) retry(ctx context.Context, op string, fn backoff.Operation[model.Reservation]) (model.Reservation, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond

	r, err := backoff.Retry(ctx, fn, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.maxRetries)))
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrDuplicateBooking),
		errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrStorage):
		return model.Reservation{}, err
	case errors.Is(err, repository.ErrVersionConflict):
		log.Errorf("Giving up %s after %d conflicting attempts on %q", op, s.maxRetries, s.key)
		return model.Reservation{}, model.NewStorageError(op, fmt.Errorf("gave up after %d attempts: %w", s.maxRetries, err))
	default:
		return model.Reservation{}, model.NewStorageError(op, err)
	}
}

func (s *Store) notify(ctx context.Context, eventType model.ReservationEventType, r model.Reservation) {
	if s.notifier == nil {
		return
	}
	event := model.NewReservationEvent(eventType, r, s.now())
	if err := s.notifier.Notify(ctx, event); err != nil {
		log.Warnf("Failed to notify %s for reservation %s: %v", eventType, r.ID(), err)
	}
}
