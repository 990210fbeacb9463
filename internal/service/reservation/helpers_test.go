package reservation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rosvend/university-reservations/internal/catalog"
	"github.com/Rosvend/university-reservations/internal/model"
	"github.com/Rosvend/university-reservations/internal/repository"
)

var testBase = time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)

// stepClock は呼ばれるたびに1秒進む時計です
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{t: start}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func sequentialIDs(prefix string) func() model.ReservationID {
	var n int
	return func() model.ReservationID {
		n++
		return model.ReservationID(fmt.Sprintf("%s%d", prefix, n))
	}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]model.Space{
		{ID: 1, Name: "Main Library Study Room", Type: "Study Room", Capacity: 8},
		{ID: 2, Name: "Computer Lab A", Type: "Laboratory", Capacity: 30},
	})
	require.NoError(t, err)
	return c
}

func newTestStore(t *testing.T, repo repository.BlobRepository, opts ...Option) *Store {
	t.Helper()
	defaults := []Option{
		WithClock(newStepClock(testBase).Now),
		WithIDGenerator(sequentialIDs("r")),
	}
	s, err := NewStore(repo, testCatalog(t), append(defaults, opts...)...)
	require.NoError(t, err)
	return s
}

func candidate(name string, spaceID int, date, clock string) model.Candidate {
	return model.Candidate{StudentName: name, SpaceID: spaceID, Date: date, Time: clock}
}

// faultyRepository は指定したエラーを返すようにできる BlobRepository です
type faultyRepository struct {
	repository.BlobRepository

	mu     sync.Mutex
	getErr error
	casErr error
}

func (r *faultyRepository) setErrors(getErr, casErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getErr, r.casErr = getErr, casErr
}

func (r *faultyRepository) Get(ctx context.Context, key string) ([]byte, repository.Version, error) {
	r.mu.Lock()
	err := r.getErr
	r.mu.Unlock()
	if err != nil {
		return nil, repository.NoVersion, err
	}
	return r.BlobRepository.Get(ctx, key)
}

func (r *faultyRepository) CompareAndSet(ctx context.Context, key string, blob []byte, expected repository.Version) (repository.Version, error) {
	r.mu.Lock()
	err := r.casErr
	r.mu.Unlock()
	if err != nil {
		return repository.NoVersion, err
	}
	return r.BlobRepository.CompareAndSet(ctx, key, blob, expected)
}

// racingRepository は最初の書き込みの直前に別の書き込みを割り込ませます
type racingRepository struct {
	repository.BlobRepository

	once   sync.Once
	before func()
}

func (r *racingRepository) CompareAndSet(ctx context.Context, key string, blob []byte, expected repository.Version) (repository.Version, error) {
	r.once.Do(r.before)
	return r.BlobRepository.CompareAndSet(ctx, key, blob, expected)
}

// conflictingRepository は CompareAndSet で常に版の競合を返します
type conflictingRepository struct {
	repository.BlobRepository
	calls atomic.Int32
}

func (r *conflictingRepository) CompareAndSet(ctx context.Context, key string, blob []byte, expected repository.Version) (repository.Version, error) {
	r.calls.Add(1)
	return repository.NoVersion, repository.ErrVersionConflict
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.ReservationEvent
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, event model.ReservationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) Events() []model.ReservationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.ReservationEvent(nil), n.events...)
}
