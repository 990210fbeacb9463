package reservation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rosvend/university-reservations/internal/model"
)

func mustReservation(t *testing.T, id string, spaceID int, date, clock string) model.Reservation {
	t.Helper()
	r, err := model.NewReservation(model.ReservationID(id), candidate("Jane Smith", spaceID, date, clock), "Room", testBase)
	require.NoError(t, err)
	return r
}

func TestFindConflict(t *testing.T) {
	existing := []model.Reservation{
		mustReservation(t, "r1", 1, "2025-12-25", "14:00"),
		mustReservation(t, "r2", 2, "2025-12-25", "15:00"),
	}

	tests := []struct {
		name string
		key  model.SlotKey
		want bool
	}{
		{name: "同じ枠", key: model.SlotKey{SpaceID: 1, Date: "2025-12-25", Time: "14:00"}, want: true},
		{name: "時刻が違う", key: model.SlotKey{SpaceID: 1, Date: "2025-12-25", Time: "15:00"}, want: false},
		{name: "日付が違う", key: model.SlotKey{SpaceID: 1, Date: "2025-12-26", Time: "14:00"}, want: false},
		{name: "スペースが違う", key: model.SlotKey{SpaceID: 2, Date: "2025-12-25", Time: "14:00"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanned, found := FindConflict(existing, tt.key)
			require.Equal(t, tt.want, found)

			id, ok := NewSlotIndex(existing).Lookup(tt.key)
			require.Equal(t, tt.want, ok, "index must agree with the linear scan")
			if ok {
				require.Equal(t, model.ReservationID("r1"), id)
				require.Equal(t, id, scanned)
			}
		})
	}

	_, found := FindConflict(nil, model.SlotKey{SpaceID: 1, Date: "2025-12-25", Time: "14:00"})
	require.False(t, found)
}

func TestSlotIndex_FirstOccurrenceWins(t *testing.T) {
	records := []model.Reservation{
		mustReservation(t, "old", 1, "2025-12-25", "14:00"),
		mustReservation(t, "dup", 1, "2025-12-25", "14:00"),
	}
	idx := NewSlotIndex(records)
	require.Equal(t, 1, idx.Len())

	id, ok := idx.Lookup(records[0].Slot())
	require.True(t, ok)
	require.Equal(t, model.ReservationID("old"), id)
}

func TestEncodeDecode(t *testing.T) {
	blob, err := encodeCollection(nil)
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(blob))

	r, err := model.NewReservation("r1", candidate("Jane Smith", 1, "2025-12-31", "10:00"), "Room",
		time.Date(2025, 12, 1, 9, 30, 0, 123_456_789, time.UTC))
	require.NoError(t, err)

	next, err := decodeCollection(nil).withAppended(r)
	require.NoError(t, err)
	blob, err = encodeCollection(next)
	require.NoError(t, err)
	require.JSONEq(t, `[{
		"id": "r1",
		"studentName": "Jane Smith",
		"date": "2025-12-31",
		"time": "10:00",
		"spaceId": 1,
		"spaceName": "Room",
		"createdAt": "2025-12-01T09:30:00.123Z"
	}]`, string(blob))

	decoded := decodeCollection(blob)
	require.False(t, decoded.corrupt)
	require.Zero(t, decoded.skipped)
	require.Len(t, decoded.records, 1)
	require.Equal(t, r.ID(), decoded.records[0].ID())

	require.True(t, decodeCollection([]byte(`{`)).corrupt)
	require.Equal(t, 1, decodeCollection([]byte(`[1]`)).skipped)
	require.Empty(t, decodeCollection(nil).records)
}

func TestEncodeCollection_KeepsUnreadableElements(t *testing.T) {
	stored := `[{"id":1,"studentName":"Jane Smith","date":"2025-12-31","time":"09:30:00","spaceId":1,"spaceName":"Room","createdAt":"2024-12-12T10:40:00.000Z"},` +
		`"not a reservation",` +
		`{"id":2,"studentName":"John Doe","date":"2025-12-31","time":"10:00","spaceId":1,"spaceName":"Room","createdAt":"2024-12-12T10:41:00.000Z"}]`

	decoded := decodeCollection([]byte(stored))
	require.Equal(t, 2, decoded.skipped)
	require.Len(t, decoded.entries, 3)
	require.Len(t, decoded.records, 1)

	blob, err := encodeCollection(decoded.entries)
	require.NoError(t, err)
	require.Equal(t, stored, string(blob))

	next, removed, ok := decoded.without("2")
	require.True(t, ok)
	require.Equal(t, model.ReservationID("2"), removed.ID())
	require.Len(t, next, 2)
	require.Empty(t, validRecords(next))

	_, _, ok = decoded.without("1")
	require.False(t, ok, "unreadable elements cannot be cancelled")
}
