package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/afero"

	"github.com/Rosvend/university-reservations/internal/common/utils"
)

// FileBlobRepository はキーごとに1つのJSONファイルへBlobを保存する BlobRepository です
// 書き込みは一時ファイルへの書き込みとリネームで行うため、途中で失敗しても既存のファイルは壊れません
// 版はファイル内容のハッシュです
// 書き込み系の操作は <key>.lock を O_CREATE|O_EXCL で作成して排他するため、同じディレクトリを使う別プロセスとも競合しません
type FileBlobRepository struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

const (
	// lockTimeout はロックの取得を待つ最大時間です
	lockTimeout = 5 * time.Second
	// staleLockAge を過ぎたロックファイルは異常終了したプロセスが残したものとみなして削除します
	staleLockAge = 30 * time.Second
)

var errLocked = errors.New("blob is locked")

// NewFileBlobRepository は dir 配下にBlobを保存する FileBlobRepository を作成します
func NewFileBlobRepository(fsys afero.Fs, dir string) (*FileBlobRepository, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return &FileBlobRepository{fs: fsys, dir: dir}, nil
}

// Path はキーに対応するファイルのパスを返します
func (r *FileBlobRepository) Path(key string) string {
	return filepath.Join(r.dir, key+".json")
}

// LockPath はキーの書き込みを排他するロックファイルのパスを返します
func (r *FileBlobRepository) LockPath(key string) string {
	return filepath.Join(r.dir, key+".lock")
}

// Get implements BlobRepository.
func (r *FileBlobRepository) Get(ctx context.Context, key string) ([]byte, Version, error) {
	if err := validateKey(key); err != nil {
		return nil, NoVersion, err
	}
	_, done := utils.Trace(ctx, "FileBlobRepository.Get")

	r.mu.Lock()
	defer r.mu.Unlock()
	blob, version, err := r.read(key)
	done(err)
	return blob, version, err
}

// Set implements BlobRepository.
func (r *FileBlobRepository) Set(ctx context.Context, key string, blob []byte) (Version, error) {
	if err := validateKey(key); err != nil {
		return NoVersion, err
	}
	_, done := utils.Trace(ctx, "FileBlobRepository.Set")

	r.mu.Lock()
	defer r.mu.Unlock()
	unlock, err := r.lock(ctx, key)
	if err != nil {
		done(err)
		return NoVersion, err
	}
	defer unlock()
	if err := r.write(key, blob); err != nil {
		done(err)
		return NoVersion, err
	}
	done(nil)
	return ContentVersion(blob), nil
}

// CompareAndSet implements BlobRepository.
func (r *FileBlobRepository) CompareAndSet(ctx context.Context, key string, blob []byte, expected Version) (Version, error) {
	if err := validateKey(key); err != nil {
		return NoVersion, err
	}
	_, done := utils.Trace(ctx, "FileBlobRepository.CompareAndSet")

	r.mu.Lock()
	defer r.mu.Unlock()
	unlock, err := r.lock(ctx, key)
	if err != nil {
		done(err)
		return NoVersion, err
	}
	defer unlock()
	_, current, err := r.read(key)
	if err != nil {
		done(err)
		return NoVersion, err
	}
	if current != expected {
		done(nil)
		return NoVersion, ErrVersionConflict
	}
	if err := r.write(key, blob); err != nil {
		done(err)
		return NoVersion, err
	}
	done(nil)
	return ContentVersion(blob), nil
}

// Remove implements BlobRepository.
func (r *FileBlobRepository) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, done := utils.Trace(ctx, "FileBlobRepository.Remove")

	r.mu.Lock()
	defer r.mu.Unlock()
	unlock, err := r.lock(ctx, key)
	if err != nil {
		done(err)
		return err
	}
	defer unlock()
	err = r.fs.Remove(r.Path(key))
	if err != nil && !isNotExist(err) {
		err = fmt.Errorf("failed to remove %s: %w", r.Path(key), err)
		done(err)
		return err
	}
	done(nil)
	return nil
}

// lock はロックファイルを作成し、解放する関数を返します
// 他のプロセスがロック中の場合は lockTimeout まで待ちます
func (r *FileBlobRepository) lock(ctx context.Context, key string) (func(), error) {
	path := r.LockPath(key)
	acquire := func() (struct{}, error) {
		f, err := r.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return struct{}{}, f.Close()
		}
		if !errors.Is(err, fs.ErrExist) && !os.IsExist(err) {
			return struct{}{}, backoff.Permanent(fmt.Errorf("failed to create lock %s: %w", path, err))
		}
		r.breakStaleLock(path)
		return struct{}{}, errLocked
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	if _, err := backoff.Retry(ctx, acquire, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(lockTimeout)); err != nil {
		return nil, fmt.Errorf("failed to lock %q: %w", key, err)
	}
	return func() {
		if err := r.fs.Remove(path); err != nil && !isNotExist(err) {
			log.Warnf("Failed to release lock %s: %v", path, err)
		}
	}, nil
}

func (r *FileBlobRepository) breakStaleLock(path string) {
	info, err := r.fs.Stat(path)
	if err != nil || time.Since(info.ModTime()) < staleLockAge {
		return
	}
	log.Warnf("Removing stale lock %s (created %v)", path, info.ModTime())
	if err := r.fs.Remove(path); err != nil && !isNotExist(err) {
		log.Warnf("Failed to remove stale lock %s: %v", path, err)
	}
}

func (r *FileBlobRepository) read(key string) ([]byte, Version, error) {
	blob, err := afero.ReadFile(r.fs, r.Path(key))
	if isNotExist(err) {
		return nil, NoVersion, nil
	}
	if err != nil {
		return nil, NoVersion, fmt.Errorf("failed to read %s: %w", r.Path(key), err)
	}
	return blob, ContentVersion(blob), nil
}

func (r *FileBlobRepository) write(key string, blob []byte) error {
	tmp, err := afero.TempFile(r.fs, r.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", r.dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		r.cleanup(tmpName)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		r.cleanup(tmpName)
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		r.cleanup(tmpName)
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := r.fs.Rename(tmpName, r.Path(key)); err != nil {
		r.cleanup(tmpName)
		return fmt.Errorf("failed to replace %s: %w", r.Path(key), err)
	}
	return nil
}

func (r *FileBlobRepository) cleanup(name string) {
	if err := r.fs.Remove(name); err != nil && !isNotExist(err) {
		log.Warnf("Failed to remove temp file %s: %v", name, err)
	}
}

func isNotExist(err error) bool {
	return err != nil && (errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err))
}
