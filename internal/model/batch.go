package model

// BatchAction はバッチで実行する操作の種類を表します
type BatchAction string

const (
	BatchActionCreate BatchAction = "create"
	BatchActionCancel BatchAction = "cancel"
)

// BatchCommand は予約バッチの1件分の入力です
// create の場合は Candidate、cancel の場合は ReservationID を使用します
type BatchCommand struct {
	Action        BatchAction   `json:"action" yaml:"action"`
	Candidate     Candidate     `json:"candidate" yaml:"candidate"`
	ReservationID ReservationID `json:"reservation_id,omitempty" yaml:"reservation_id"`
}

// BatchResult はバッチ1件分の処理結果です
type BatchResult struct {
	Action        BatchAction   `json:"action"`
	ReservationID ReservationID `json:"reservation_id,omitempty"`
	Succeeded     bool          `json:"succeeded"`
	Error         string        `json:"error,omitempty"`
}
