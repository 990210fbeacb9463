package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/spf13/afero"

	"github.com/Rosvend/university-reservations/internal/common/config"
	"github.com/Rosvend/university-reservations/internal/common/utils"
	"github.com/Rosvend/university-reservations/internal/service/batch"
)

const (
	projectName    = "reservations-notification"
	serviceVersion = "1.0.0"
)

func main() {
	// コマンドライン引数のパース
	timeout := flag.Duration("timeout", 5*time.Minute, "バッチ処理のタイムアウト時間")
	input := flag.String("input", "", "予約バッチの出力ファイル。省略時は最初の引数をJSONとして扱います")
	envFile := flag.String("env-file", ".env", "読み込む .env ファイル")
	flag.Parse()

	config.LoadDotEnv(*envFile)

	// 予約バッチの出力 ({"events": [...]}) を読み込む
	var data []byte
	switch {
	case *input != "":
		b, err := afero.ReadFile(afero.NewOsFs(), *input)
		if err != nil {
			log.Fatalf("Failed to read input: %v", err)
		}
		data = b
	case flag.NArg() > 0:
		data = []byte(flag.Arg(0))
	default:
		log.Fatalf("Task input is required")
	}
	events, err := batch.ParseTaskInput(data)
	if err != nil {
		log.Fatalf("Failed to parse task input: %v", err)
	}

	// 設定の読み込み
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v\nStack trace:\n%s", err, debug.Stack())
	}
	if err := config.SetupLogging(cfg.LogLevel); err != nil {
		log.Printf("Failed to set log level: %v", err)
	}

	// X-Ray設定
	if cfg.EnableTracing {
		if err := utils.ConfigureTracing(serviceVersion); err != nil {
			log.Fatalf("Failed to configure default X-Ray settings: %v", err)
		}
	}

	// 通知バッチサービスを作成
	service, err := batch.NewNotificationBatchService(cfg)
	if err != nil {
		log.Fatalf("Failed to create notification batch service: %v", err)
	}
	defer service.Close()
	service.SetArgs(events)

	// コンテキストを作成
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// X-Rayセグメントの作成
	if cfg.EnableTracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, projectName)
		defer seg.Close(nil)

		if err := seg.AddMetadata("event_count", len(events)); err != nil {
			log.Printf("Failed to add event_count metadata: %v", err)
		}
	}

	// シグナルハンドリング
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// バッチ処理の実行
	errChan := make(chan error, 1)
	go func() {
		errChan <- utils.RunWithTimeout(ctx, *timeout, service.Run)
	}()

	// シグナルを待機
	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Printf("Batch process failed: %v\nStack trace:\n%s", err, utils.StackTrace(err))
			service.Close()
			os.Exit(1)
		}
		log.Println("Batch process completed successfully")
	}
}
