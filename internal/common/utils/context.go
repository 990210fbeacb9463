package utils

import (
	"context"
	"fmt"
	"time"
)

// RunWithTimeout は指定されたタイムアウト時間内で fn を実行します
// タイムアウトまたは親コンテキストのキャンセル時は fn の完了を待たずにエラーを返します
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return fmt.Errorf("process stopped after %v: %w", timeout, ctx.Err())
	}
}
