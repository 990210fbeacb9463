package reservation

import "github.com/Rosvend/university-reservations/internal/model"

// FindConflict は existing の中で key と同じスペース・日付・時刻を占有している最初の予約のIDを返します
func FindConflict(existing []model.Reservation, key model.SlotKey) (model.ReservationID, bool) {
	for _, r := range existing {
		if r.Slot() == key {
			return r.ID(), true
		}
	}
	return "", false
}

// SlotIndex は重複判定キーから予約IDを引くための索引です
// 保存済みの一覧から作り直され、作成後は変更されません
type SlotIndex struct {
	slots map[model.SlotKey]model.ReservationID
}

// NewSlotIndex は予約一覧から索引を作成します
// 同じキーが複数ある場合は先に現れた予約を採用します
func NewSlotIndex(records []model.Reservation) *SlotIndex {
	slots := make(map[model.SlotKey]model.ReservationID, len(records))
	for _, r := range records {
		if _, ok := slots[r.Slot()]; !ok {
			slots[r.Slot()] = r.ID()
		}
	}
	return &SlotIndex{slots: slots}
}

// Lookup は key を占有している予約のIDを返します
func (i *SlotIndex) Lookup(key model.SlotKey) (model.ReservationID, bool) {
	id, ok := i.slots[key]
	return id, ok
}

// Len は索引に含まれるキーの数を返します
func (i *SlotIndex) Len() int {
	return len(i.slots)
}
