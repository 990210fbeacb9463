package repository

import (
	"context"
	"strconv"
	"sync"
)

// MemoryBlobRepository はテストや単一プロセスでの利用を想定したメモリ上の BlobRepository です
// 版は書き込みごとに増える連番で、再利用されません
type MemoryBlobRepository struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	seq     uint64
}

type memoryEntry struct {
	blob    []byte
	version Version
}

// NewMemoryBlobRepository は空の MemoryBlobRepository を作成します
func NewMemoryBlobRepository() *MemoryBlobRepository {
	return &MemoryBlobRepository{entries: make(map[string]memoryEntry)}
}

// Get implements BlobRepository.
func (r *MemoryBlobRepository) Get(ctx context.Context, key string) ([]byte, Version, error) {
	if err := validateKey(key); err != nil {
		return nil, NoVersion, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, NoVersion, nil
	}
	return append([]byte(nil), e.blob...), e.version, nil
}

// Set implements BlobRepository.
func (r *MemoryBlobRepository) Set(ctx context.Context, key string, blob []byte) (Version, error) {
	if err := validateKey(key); err != nil {
		return NoVersion, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.put(key, blob), nil
}

// CompareAndSet implements BlobRepository.
func (r *MemoryBlobRepository) CompareAndSet(ctx context.Context, key string, blob []byte, expected Version) (Version, error) {
	if err := validateKey(key); err != nil {
		return NoVersion, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current := NoVersion
	if e, ok := r.entries[key]; ok {
		current = e.version
	}
	if current != expected {
		return NoVersion, ErrVersionConflict
	}
	return r.put(key, blob), nil
}

// Remove implements BlobRepository.
func (r *MemoryBlobRepository) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}

func (r *MemoryBlobRepository) put(key string, blob []byte) Version {
	r.seq++
	v := Version(strconv.FormatUint(r.seq, 10))
	r.entries[key] = memoryEntry{blob: append([]byte(nil), blob...), version: v}
	return v
}
