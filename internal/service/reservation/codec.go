package reservation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Rosvend/university-reservations/internal/common/models"
	"github.com/Rosvend/university-reservations/internal/model"
)

// storedEntry は保存済みBlobの1要素です
// raw は読み込んだときのバイト列で、書き戻すときもそのまま使います
type storedEntry struct {
	raw    json.RawMessage
	record model.Reservation
	// valid は raw が予約として読めたかどうかを表します。読めなかった要素も保存データには残します
	valid bool
}

// newEntry は作成した予約を保存形式の要素に変換します
func newEntry(r model.Reservation) (storedEntry, error) {
	raw, err := json.Marshal(models.FromReservation(r))
	if err != nil {
		return storedEntry{}, fmt.Errorf("failed to encode reservation %s: %w", r.ID(), err)
	}
	return storedEntry{raw: raw, record: r, valid: true}, nil
}

// decodeResult は保存済みBlobの解析結果です
type decodeResult struct {
	entries []storedEntry
	// records は予約として読めた要素だけを保存順に並べたものです
	records []model.Reservation
	// skipped は形式が不正で読み飛ばした要素の数です
	skipped int
	// corrupt はBlob全体がJSON配列として読めなかったことを表します
	corrupt bool
}

// decodeCollection は保存済みBlobを予約一覧に変換します
// Blob全体が壊れている場合は空の一覧、要素単位で壊れている場合はその要素のみ一覧から除きます
func decodeCollection(blob []byte) decodeResult {
	if len(blob) == 0 {
		return decodeResult{}
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(blob, &raw); err != nil {
		log.Warnf("Stored reservations are not a JSON array, treating as empty: %v", err)
		return decodeResult{corrupt: true}
	}

	res := decodeResult{
		entries: make([]storedEntry, 0, len(raw)),
		records: make([]model.Reservation, 0, len(raw)),
	}
	for i, item := range raw {
		entry := storedEntry{raw: item}
		var row models.ReservationRow
		if err := json.Unmarshal(item, &row); err != nil {
			log.Warnf("Skipping malformed reservation at index %d: %v", i, err)
			res.skipped++
			res.entries = append(res.entries, entry)
			continue
		}
		r, err := row.ToReservation()
		if err != nil {
			log.Warnf("Skipping invalid reservation at index %d: %v", i, err)
			res.skipped++
			res.entries = append(res.entries, entry)
			continue
		}
		entry.record, entry.valid = r, true
		res.entries = append(res.entries, entry)
		res.records = append(res.records, r)
	}
	return res
}

// withAppended は末尾に予約を追加した要素一覧を返します
func (d decodeResult) withAppended(r model.Reservation) ([]storedEntry, error) {
	entry, err := newEntry(r)
	if err != nil {
		return nil, err
	}
	next := make([]storedEntry, 0, len(d.entries)+1)
	next = append(next, d.entries...)
	return append(next, entry), nil
}

// without は id の予約を除いた要素一覧と、除いた予約を返します
// 予約として読めなかった要素は対象にしません
func (d decodeResult) without(id model.ReservationID) ([]storedEntry, model.Reservation, bool) {
	for i, e := range d.entries {
		if !e.valid || e.record.ID() != id {
			continue
		}
		next := make([]storedEntry, 0, len(d.entries)-1)
		next = append(next, d.entries[:i]...)
		next = append(next, d.entries[i+1:]...)
		return next, e.record, true
	}
	return nil, model.Reservation{}, false
}

// encodeCollection は要素一覧を保存形式のJSON配列に変換します
// 各要素は読み込んだときのバイト列のまま書き出します
func encodeCollection(entries []storedEntry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range entries {
		if len(e.raw) == 0 || !json.Valid(e.raw) {
			return nil, fmt.Errorf("failed to encode reservations: element %d is not valid JSON", i)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(e.raw)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// validRecords は予約として読めた要素だけを返します
func validRecords(entries []storedEntry) []model.Reservation {
	records := make([]model.Reservation, 0, len(entries))
	for _, e := range entries {
		if e.valid {
			records = append(records, e.record)
		}
	}
	return records
}
