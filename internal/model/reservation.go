package model

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DateLayout は予約日の形式です (YYYY-MM-DD)
	DateLayout = "2006-01-02"
	// TimeLayout は予約時刻の形式です (24時間表記 HH:MM)
	TimeLayout = "15:04"
)

var (
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

	validate = newValidator()
)

// ReservationID は予約の識別子です
// ストアが作成時に採番し、再利用も変更もされません
type ReservationID string

func (id ReservationID) String() string {
	return string(id)
}

// SlotKey は重複予約を判定するためのキー (スペース・日付・時刻) です
type SlotKey struct {
	SpaceID int
	Date    string
	Time    string
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.SpaceID, k.Date, k.Time)
}

// Candidate は予約作成の入力値です
// ID と作成日時はストアが付与するため含みません
type Candidate struct {
	StudentName string `json:"studentName" yaml:"studentName" validate:"required,min=3,max=100"`
	SpaceID     int    `json:"spaceId" yaml:"spaceId" validate:"required,gt=0"`
	Date        string `json:"date" yaml:"date" validate:"required,isodate"`
	Time        string `json:"time" yaml:"time" validate:"required,clock"`
}

// Normalize は前後の空白を取り除いた入力値を返します
func (c Candidate) Normalize() Candidate {
	return Candidate{
		StudentName: strings.TrimSpace(c.StudentName),
		SpaceID:     c.SpaceID,
		Date:        strings.TrimSpace(c.Date),
		Time:        strings.TrimSpace(c.Time),
	}
}

// Slot は入力値の重複判定キーを返します
func (c Candidate) Slot() SlotKey {
	return SlotKey{SpaceID: c.SpaceID, Date: c.Date, Time: c.Time}
}

// ValidateCandidate は入力値の形式と長さを検証します
// 違反がある場合は最初の違反項目を ValidationError として返します
func ValidateCandidate(c Candidate) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return ValidationError{Field: fe.Field(), Reason: reasonFor(fe)}
	}
	return ValidationError{Field: "candidate", Reason: err.Error()}
}

// Reservation は永続化される予約レコードです
// フィールドは非公開で、NewReservation / RestoreReservation を通してのみ生成されます
type Reservation struct {
	id          ReservationID
	studentName string
	spaceID     int
	spaceName   string
	date        string
	time        string
	createdAt   time.Time
}

// ID は予約の識別子を返します
func (r Reservation) ID() ReservationID {
	return r.id
}

// StudentName は予約者名を返します
func (r Reservation) StudentName() string {
	return r.studentName
}

// SpaceID は予約したスペースのIDを返します
func (r Reservation) SpaceID() int {
	return r.spaceID
}

// SpaceName は予約作成時点のスペース名を返します
func (r Reservation) SpaceName() string {
	return r.spaceName
}

// Date は予約日 (YYYY-MM-DD) を返します
func (r Reservation) Date() string {
	return r.date
}

// Time は予約時刻 (HH:MM) を返します
func (r Reservation) Time() string {
	return r.time
}

// CreatedAt は作成日時を返します
func (r Reservation) CreatedAt() time.Time {
	return r.createdAt
}

// Slot は予約の重複判定キーを返します
func (r Reservation) Slot() SlotKey {
	return SlotKey{SpaceID: r.spaceID, Date: r.date, Time: r.time}
}

// NewReservation は検証済みの入力値から予約レコードを作成します
// 入力値の前後の空白は取り除かれます
func NewReservation(id ReservationID, c Candidate, spaceName string, createdAt time.Time) (Reservation, error) {
	c = c.Normalize()
	return validateReservation(Reservation{
		id:          id,
		studentName: c.StudentName,
		spaceID:     c.SpaceID,
		spaceName:   spaceName,
		date:        c.Date,
		time:        c.Time,
		createdAt:   createdAt.UTC(),
	})
}

// RestoreReservation は永続化済みのフィールドから予約レコードを復元します
// 保存された値は空白も含めてそのまま保持し、作成時と同じ検証に通らないレコードはエラーになります
func RestoreReservation(id ReservationID, studentName string, spaceID int, spaceName, date, clock string, createdAt time.Time) (Reservation, error) {
	return validateReservation(Reservation{
		id:          id,
		studentName: studentName,
		spaceID:     spaceID,
		spaceName:   spaceName,
		date:        date,
		time:        clock,
		createdAt:   createdAt.UTC(),
	})
}

func validateReservation(r Reservation) (Reservation, error) {
	if r.id == "" {
		return Reservation{}, ValidationError{Field: "id", Reason: "cannot be empty"}
	}
	if err := ValidateCandidate(Candidate{
		StudentName: r.studentName,
		SpaceID:     r.spaceID,
		Date:        r.date,
		Time:        r.time,
	}); err != nil {
		return Reservation{}, err
	}
	if strings.TrimSpace(r.spaceName) == "" {
		return Reservation{}, ValidationError{Field: "spaceName", Reason: "cannot be empty"}
	}
	if r.createdAt.IsZero() {
		return Reservation{}, ValidationError{Field: "createdAt", Reason: "cannot be empty"}
	}
	return r, nil
}

// ReservationEventType は予約イベントの種類を表します
type ReservationEventType string

const (
	// EventReservationCreated は予約が作成されたことを表します
	EventReservationCreated ReservationEventType = "reservation.created"
	// EventReservationCancelled は予約がキャンセルされたことを表します
	EventReservationCancelled ReservationEventType = "reservation.cancelled"
)

// ReservationEvent は予約の作成・キャンセル完了時に発行されるイベントの構造体
type ReservationEvent struct {
	Type          ReservationEventType `json:"type"`
	ReservationID ReservationID        `json:"reservation_id"`
	StudentName   string               `json:"student_name"`
	SpaceID       int                  `json:"space_id"`
	SpaceName     string               `json:"space_name"`
	Date          string               `json:"date"`
	Time          string               `json:"time"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// NewReservationEvent は予約レコードからイベントを作成します
func NewReservationEvent(eventType ReservationEventType, r Reservation, occurredAt time.Time) ReservationEvent {
	return ReservationEvent{
		Type:          eventType,
		ReservationID: r.id,
		StudentName:   r.studentName,
		SpaceID:       r.spaceID,
		SpaceName:     r.spaceName,
		Date:          r.date,
		Time:          r.time,
		OccurredAt:    occurredAt.UTC(),
	}
}

// IsISODate は s が実在する YYYY-MM-DD 形式の日付かどうかを返します
func IsISODate(s string) bool {
	if !datePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// IsClock は s が HH:MM 形式 (00:00〜23:59) の時刻かどうかを返します
func IsClock(s string) bool {
	return clockPattern.MatchString(s)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		return IsISODate(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return IsClock(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Validator はモデル共通の validator インスタンスを返します
func Validator() *validator.Validate {
	return validate
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "isodate":
		return "must be a calendar date in YYYY-MM-DD format"
	case "clock":
		return "must be a 24-hour time in HH:MM format"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
