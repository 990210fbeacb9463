package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/Rosvend/university-reservations/internal/common/config"
	"github.com/Rosvend/university-reservations/internal/common/utils"
	"github.com/Rosvend/university-reservations/internal/model"
	"github.com/Rosvend/university-reservations/internal/queue"
)

// NotificationBatchService は通知バッチ処理を担当します
type NotificationBatchService struct {
	args      []model.ReservationEvent
	publisher queue.Publisher
	cfg       *config.Config
}

// NewNotificationBatchService は新しいNotificationBatchServiceを作成します
// ブローカーが設定されていない場合やローカル環境では通知をログに出力するだけにします
func NewNotificationBatchService(cfg *config.Config) (*NotificationBatchService, error) {
	var publisher queue.Publisher = queue.LogPublisher{}
	if cfg.AMQP.URL != "" && !cfg.Local {
		p, err := queue.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return nil, fmt.Errorf("failed to create notification publisher: %w", err)
		}
		publisher = p
	} else {
		log.Warnf("RabbitMQ is not configured, notifications will only be logged")
	}

	return &NotificationBatchService{
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

// Close は終了処理を行います
func (s *NotificationBatchService) Close() error {
	if s.publisher != nil {
		return s.publisher.Close()
	}
	return nil
}

// SetArgs は通知バッチ処理の引数を設定します
func (s *NotificationBatchService) SetArgs(args []model.ReservationEvent) {
	s.args = args
}

// Run は通知バッチ処理を実行します
func (s *NotificationBatchService) Run(ctx context.Context) error {
	ctx, done := utils.Trace(ctx, "NotificationBatchService.Run")

	events := s.args
	log.Infof("Starting notification batch process for %d events...", len(events))
	utils.AddMetadata(ctx, "event_count", len(events))

	// 処理開始時刻を記録
	startTime := time.Now()

	notifications, err := buildNotifications(events)
	if err != nil {
		done(err)
		return err
	}

	for _, n := range notifications {
		if err := s.publisher.Publish(ctx, n); err != nil {
			err = utils.GetStackWithError(fmt.Errorf("failed to publish notification for reservation %s: %w", n.ReservationID, err))
			done(err)
			return err
		}
	}

	duration := time.Since(startTime)
	utils.AddMetadata(ctx, "duration", duration.String())
	utils.AddMetadata(ctx, "notification_count", len(notifications))

	log.Infof("Notification batch process completed successfully. %d notifications published. Duration: %v", len(notifications), duration)
	done(nil)
	return nil
}

// buildNotifications はイベントを通知に変換します
// 同じ予約・同じ種類のイベントが複数ある場合は最初の1件だけを通知します
func buildNotifications(events []model.ReservationEvent) ([]model.Notification, error) {
	type eventKey struct {
		eventType model.ReservationEventType
		id        model.ReservationID
	}
	seen := make(map[eventKey]struct{}, len(events))

	notifications := make([]model.Notification, 0, len(events))
	for _, event := range events {
		key := eventKey{eventType: event.Type, id: event.ReservationID}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		n, err := model.NewReservationNotification(event)
		if err != nil {
			return nil, fmt.Errorf("failed to build notification for reservation %s: %w", event.ReservationID, err)
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}
