package model

import (
	"fmt"
	"time"
)

// NotificationType は通知の種類を表します
type NotificationType string

const (
	// NotificationTypeReservationConfirmed は予約確定の通知を表します
	NotificationTypeReservationConfirmed NotificationType = "reservation_confirmed"
	// NotificationTypeReservationCancelled は予約キャンセルの通知を表します
	NotificationTypeReservationCancelled NotificationType = "reservation_cancelled"
)

// Notification は予約イベントから作成される利用者向けの通知です
// キューに発行される形式と一致しています
type Notification struct {
	Type          NotificationType `json:"type"`
	ReservationID ReservationID    `json:"reservation_id"`
	Recipient     string           `json:"recipient"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`
	CreatedAt     time.Time        `json:"created_at"`
}

// NewReservationNotification は予約イベントから通知を作成します
func NewReservationNotification(event ReservationEvent) (Notification, error) {
	if event.ReservationID == "" {
		return Notification{}, fmt.Errorf("reservation_id is empty")
	}

	when := fmt.Sprintf("%s at %s", FormatDate(event.Date), FormatTime(event.Time))

	switch event.Type {
	case EventReservationCreated:
		return Notification{
			Type:          NotificationTypeReservationConfirmed,
			ReservationID: event.ReservationID,
			Recipient:     event.StudentName,
			Title:         "Reservation confirmed",
			Message:       fmt.Sprintf("Reservation confirmed for %s on %s", event.SpaceName, when),
			CreatedAt:     event.OccurredAt,
		}, nil
	case EventReservationCancelled:
		return Notification{
			Type:          NotificationTypeReservationCancelled,
			ReservationID: event.ReservationID,
			Recipient:     event.StudentName,
			Title:         "Reservation cancelled",
			Message:       fmt.Sprintf("Reservation for %s on %s has been cancelled", event.SpaceName, when),
			CreatedAt:     event.OccurredAt,
		}, nil
	default:
		return Notification{}, fmt.Errorf("unexpected event type: %q", event.Type)
	}
}
