package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/Rosvend/university-reservations/internal/model"
)

// CreatedAtLayout はブラウザの toISOString と同じミリ秒精度のUTC表記です
const CreatedAtLayout = "2006-01-02T15:04:05.000Z"

// ReservationRow は永続化されるJSON配列の1要素を表す構造体です
// フィールド名は既存の保存データと互換です
type ReservationRow struct {
	ID          RowID  `json:"id"`
	StudentName string `json:"studentName"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	SpaceID     int    `json:"spaceId"`
	SpaceName   string `json:"spaceName"`
	CreatedAt   string `json:"createdAt"`
}

// numberLiteral はJSONの数値リテラルの文法です
var numberLiteral = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// RowID は数値・文字列のどちらでも保存されうる予約IDです
// 読み込んだ数値は桁数や小数を含めて元の表記のまま保持し、JSONの数値として書ける表記は数値として書き出します
type RowID string

func (id RowID) MarshalJSON() ([]byte, error) {
	if numberLiteral.MatchString(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *RowID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return fmt.Errorf("id is null")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RowID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*id = RowID(n.String())
	return nil
}

// ToReservation は保存行を検証済みの予約レコードに変換します
func (row ReservationRow) ToReservation() (model.Reservation, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("invalid createdAt %q: %w", row.CreatedAt, err)
	}
	return model.RestoreReservation(
		model.ReservationID(row.ID),
		row.StudentName,
		row.SpaceID,
		row.SpaceName,
		row.Date,
		row.Time,
		createdAt,
	)
}

// FromReservation は予約レコードを保存行に変換します
func FromReservation(r model.Reservation) ReservationRow {
	return ReservationRow{
		ID:          RowID(r.ID()),
		StudentName: r.StudentName(),
		Date:        r.Date(),
		Time:        r.Time(),
		SpaceID:     r.SpaceID(),
		SpaceName:   r.SpaceName(),
		CreatedAt:   r.CreatedAt().UTC().Format(CreatedAtLayout),
	}
}
