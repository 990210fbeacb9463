package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"

	"github.com/Rosvend/university-reservations/internal/common/config"
	"github.com/Rosvend/university-reservations/internal/common/utils"
	"github.com/Rosvend/university-reservations/internal/model"
	"github.com/Rosvend/university-reservations/internal/service/reservation"
)

var log = logging.Logger("service/batch")

// ReservationStore はバッチが操作する予約ストアです
type ReservationStore interface {
	Create(ctx context.Context, candidate model.Candidate) (model.Reservation, error)
	Cancel(ctx context.Context, id model.ReservationID) error
}

// SFNClient はタスクの完了を Step Functions に報告するクライアントです
type SFNClient interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
}

// TaskOutput は Step Functions に返す出力です
// 通知バッチの入力としてそのまま使えます
type TaskOutput struct {
	Events  []model.ReservationEvent `json:"events"`
	Results []model.BatchResult      `json:"results"`
}

// ReservationBatchService は予約バッチ処理を担当します
type ReservationBatchService struct {
	args       []model.BatchCommand
	store      ReservationStore
	events     *EventCollector
	closeStore func() error
	sfnClient  SFNClient
	cfg        *config.Config
}

// NewReservationBatchService は新しいReservationBatchServiceを作成します
func NewReservationBatchService(ctx context.Context, cfg *config.Config, sfnClient SFNClient) (*ReservationBatchService, error) {
	events := &EventCollector{}
	store, closeStore, err := reservation.Open(ctx, cfg, afero.NewOsFs(), reservation.WithNotifier(events))
	if err != nil {
		return nil, fmt.Errorf("failed to open reservation store: %w", err)
	}
	return &ReservationBatchService{
		store:      store,
		events:     events,
		closeStore: closeStore,
		sfnClient:  sfnClient,
		cfg:        cfg,
	}, nil
}

// Close は終了処理を行います
func (s *ReservationBatchService) Close() error {
	if s.closeStore != nil {
		return s.closeStore()
	}
	return nil
}

// SetArgs は予約バッチ処理の引数を設定します
func (s *ReservationBatchService) SetArgs(args []model.BatchCommand) {
	s.args = args
}

// Run は予約バッチ処理を実行します
// 個々のコマンドの失敗はバッチ全体を失敗させず、結果として報告します
func (s *ReservationBatchService) Run(ctx context.Context) error {
	ctx, done := utils.Trace(ctx, "ReservationBatchService.Run")

	startTime := time.Now()
	log.Infof("Starting reservation batch process for %d commands...", len(s.args))

	results := s.processCommands(ctx, s.args)
	events := s.events.Drain()

	// イベントを発行
	if err := s.sendTaskSuccess(ctx, TaskOutput{Events: events, Results: results}); err != nil {
		err = utils.GetStackWithError(fmt.Errorf("failed to send task success: %w", err))
		done(err)
		return err
	}

	duration := time.Since(startTime)
	utils.AddMetadata(ctx, "duration", duration.String())
	utils.AddMetadata(ctx, "event_count", len(events))

	log.Infof("Reservation batch process completed. %d/%d commands succeeded. Duration: %v", len(events), len(results), duration)
	done(nil)
	return nil
}

// processCommands はコマンドを順に予約ストアへ適用します
func (s *ReservationBatchService) processCommands(ctx context.Context, commands []model.BatchCommand) []model.BatchResult {
	results := make([]model.BatchResult, 0, len(commands))
	for i, cmd := range commands {
		result := model.BatchResult{Action: cmd.Action, ReservationID: cmd.ReservationID}

		var err error
		switch cmd.Action {
		case model.BatchActionCreate:
			var created model.Reservation
			created, err = s.store.Create(ctx, cmd.Candidate)
			if err == nil {
				result.ReservationID = created.ID()
			}
		case model.BatchActionCancel:
			err = s.store.Cancel(ctx, cmd.ReservationID)
		default:
			err = fmt.Errorf("unknown batch action %q", cmd.Action)
		}

		if err != nil {
			log.Errorf("Failed to %s (command %d): %v", cmd.Action, i, err)
			result.Error = err.Error()
		} else {
			result.Succeeded = true
		}
		results = append(results, result)
	}
	return results
}

// sendTaskSuccess は、Step Functionsのタスク成功を通知し、イベントを返却します
func (s *ReservationBatchService) sendTaskSuccess(ctx context.Context, output TaskOutput) error {
	// ローカルの場合はStep Functionsの処理をスキップ
	if s.cfg.Local || s.sfnClient == nil {
		log.Infof("Local environment detected. Skipping Step Functions task success notification")
		return nil
	}

	body, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal task output: %w", err)
	}

	// タスクトークンを設定から取得
	taskToken := s.cfg.SFN.TaskToken
	if taskToken == "" {
		return fmt.Errorf("task token is not set in config")
	}

	// SendTaskSuccess APIを呼び出す
	input := &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(taskToken),
		Output:    aws.String(string(body)),
	}
	if _, err := s.sfnClient.SendTaskSuccess(ctx, input); err != nil {
		return fmt.Errorf("failed to send task success: %w", err)
	}

	log.Infof("Successfully sent task success with %d events", len(output.Events))
	return nil
}

// EventCollector は予約ストアが発行したイベントを溜めておく通知先です
type EventCollector struct {
	mu     sync.Mutex
	events []model.ReservationEvent
}

// Notify implements reservation.Notifier.
func (c *EventCollector) Notify(ctx context.Context, event model.ReservationEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

// Drain は溜まったイベントを取り出し、空にします
func (c *EventCollector) Drain() []model.ReservationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := c.events
	c.events = nil
	return events
}
