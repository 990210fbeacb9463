package model

import (
	"errors"
	"fmt"
)

// 予約ストアの操作結果を分類するためのセンチネルエラーです
// errors.Is で種類を判定できます
var (
	ErrValidation       = errors.New("validation failed")
	ErrDuplicateBooking = errors.New("slot already booked")
	ErrNotFound         = errors.New("reservation not found")
	ErrStorage          = errors.New("storage failure")
)

// ValidationError は入力値が形式・長さ・存在チェックに違反した場合のエラーです
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// DuplicateBookingError は同じスペース・日付・時刻の予約が既に存在する場合のエラーです
type DuplicateBookingError struct {
	Slot       SlotKey
	ExistingID ReservationID
}

func (e DuplicateBookingError) Error() string {
	return fmt.Sprintf("space %d is already booked on %s at %s (reservation %s)",
		e.Slot.SpaceID, e.Slot.Date, e.Slot.Time, e.ExistingID)
}

func (e DuplicateBookingError) Is(target error) bool {
	return target == ErrDuplicateBooking
}

// NotFoundError はキャンセル対象の予約が存在しない場合のエラーです
type NotFoundError struct {
	ID ReservationID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("reservation %s not found", e.ID)
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StorageError は永続化層の読み書きに失敗した場合のエラーです
// 元のエラーは Unwrap で取り出せます
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) StorageError {
	return StorageError{Op: op, Err: err}
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e StorageError) Unwrap() error {
	return e.Err
}
