package repository

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/minio/sha256-simd"
)

var log = logging.Logger("repository")

// Version は保存済みBlobの版を表す不透明なトークンです
type Version string

// NoVersion はキーが存在しないことを表します
const NoVersion Version = ""

var (
	// ErrVersionConflict は CompareAndSet の期待する版と現在の版が一致しない場合のエラーです
	ErrVersionConflict = errors.New("blob version conflict")
	// ErrInvalidKey はキーが空、または保存先で扱えない文字を含む場合のエラーです
	ErrInvalidKey = errors.New("invalid blob key")
)

// BlobRepository はキーごとに1つのBlobを丸ごと読み書きする永続化のインターフェースです
// 部分的な書き込みは行わず、書き込みはBlob単位で全か無かになります
type BlobRepository interface {
	// Get はキーのBlobと版を返します。キーが存在しない場合は nil, NoVersion, nil を返します
	Get(ctx context.Context, key string) ([]byte, Version, error)
	// Set は現在の版に関係なくBlobを書き込みます
	Set(ctx context.Context, key string, blob []byte) (Version, error)
	// CompareAndSet は現在の版が expected と一致する場合のみBlobを書き込みます
	// expected が NoVersion の場合はキーが存在しないことを条件にします
	// 一致しない場合は何も書き込まずに ErrVersionConflict を返します
	CompareAndSet(ctx context.Context, key string, blob []byte, expected Version) (Version, error)
	// Remove はキーを削除します。キーが存在しない場合も成功します
	Remove(ctx context.Context, key string) error
}

// ContentVersion はBlobの内容から版を計算します
// 内容が同じであれば版も同じになります
func ContentVersion(blob []byte) Version {
	sum := sha256.Sum256(blob)
	return Version(hex.EncodeToString(sum[:]))
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	if strings.ContainsAny(key, `/\*`) || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// setWithRetry は CompareAndSet を使って無条件書き込みを実現します
// 版の競合が続く場合は maxAttempts 回で諦めます
func setWithRetry(ctx context.Context, repo BlobRepository, key string, blob []byte, maxAttempts int) (Version, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		_, current, err := repo.Get(ctx, key)
		if err != nil {
			return NoVersion, err
		}
		version, err := repo.CompareAndSet(ctx, key, blob, current)
		if err == nil {
			return version, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return NoVersion, err
		}
		lastErr = err
		log.Debugf("Set on %q lost a version race (attempt %d)", key, attempt+1)
	}
	return NoVersion, fmt.Errorf("failed to set %q after %d attempts: %w", key, maxAttempts, lastErr)
}
