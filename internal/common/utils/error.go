package utils

import (
	"errors"
	"runtime/debug"
)

// StackError は発生時点のスタックトレースを保持するエラーです
// Error() は元のエラーのメッセージだけを返します
type StackError struct {
	Err   error
	Stack []byte
}

func (e *StackError) Error() string {
	return e.Err.Error()
}

func (e *StackError) Unwrap() error {
	return e.Err
}

// GetStackWithError は、エラーに呼び出し時点のスタックトレースを付与して返します
// 既にスタックトレースを持つエラーはそのまま返します
func GetStackWithError(err error) error {
	if err == nil {
		return nil
	}
	var se *StackError
	if errors.As(err, &se) {
		return err
	}
	return &StackError{Err: err, Stack: debug.Stack()}
}

// StackTrace は err に付与されたスタックトレースを返します
// 付与されていない場合は空文字を返します
func StackTrace(err error) string {
	var se *StackError
	if errors.As(err, &se) {
		return string(se.Stack)
	}
	return ""
}
