// Package queue は予約通知をRabbitMQへ発行します
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Rosvend/university-reservations/internal/common/utils"
	"github.com/Rosvend/university-reservations/internal/model"
)

var log = logging.Logger("queue")

// DefaultQueue は通知を発行するキューの既定名です
const DefaultQueue = "reservation.notifications"

// Publisher は通知の発行先です
type Publisher interface {
	Publish(ctx context.Context, n model.Notification) error
	Close() error
}

// AMQPPublisher はRabbitMQのデフォルトエクスチェンジ経由でキューに通知を発行します
// メッセージは永続化指定で発行されます
type AMQPPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPPublisher はブローカーに接続し、キューを宣言します
func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	// 冪等な宣言。ブローカー再起動後もメッセージが残るよう durable にする
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, queue: queue}, nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, n model.Notification) error {
	ctx, done := utils.Trace(ctx, "AMQPPublisher.Publish")

	msg, err := newPublishing(n)
	if err != nil {
		done(err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		done(err)
		return fmt.Errorf("failed to publish %s for reservation %s: %w", n.Type, n.ReservationID, err)
	}
	done(nil)
	return nil
}

// Close はチャネルと接続を閉じます
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		log.Warnf("Failed to close channel: %v", err)
	}
	return p.conn.Close()
}

func newPublishing(n model.Notification) (amqp.Publishing, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal notification: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID(n),
		Type:         string(n.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}

// messageID は同じ予約・同じ種類の通知で同じ値になる識別子です
func messageID(n model.Notification) string {
	return fmt.Sprintf("%s:%s", n.Type, n.ReservationID)
}

// LogPublisher は通知をログに出力するだけの Publisher です
// ローカル実行時やブローカーが設定されていない場合に使います
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(ctx context.Context, n model.Notification) error {
	log.Infof("Notification %s for %s: %s", n.Type, n.Recipient, n.Message)
	return nil
}

// Close implements Publisher.
func (LogPublisher) Close() error {
	return nil
}

// EventNotifier は予約イベントを通知に変換して発行します
// 予約ストアの通知先として使います
type EventNotifier struct {
	publisher Publisher
}

// NewEventNotifier は EventNotifier を作成します
func NewEventNotifier(p Publisher) *EventNotifier {
	return &EventNotifier{publisher: p}
}

// Notify は予約イベントを通知に変換して発行します
func (n *EventNotifier) Notify(ctx context.Context, event model.ReservationEvent) error {
	notification, err := model.NewReservationNotification(event)
	if err != nil {
		return fmt.Errorf("failed to build notification: %w", err)
	}
	return n.publisher.Publish(ctx, notification)
}
