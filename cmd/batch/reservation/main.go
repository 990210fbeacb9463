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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/spf13/afero"

	"github.com/Rosvend/university-reservations/internal/common/config"
	"github.com/Rosvend/university-reservations/internal/common/utils"
	"github.com/Rosvend/university-reservations/internal/service/batch"
)

const (
	projectName    = "reservations-batch"
	serviceVersion = "1.0.0"
)

func main() {
	// コマンドライン引数のパース
	timeout := flag.Duration("timeout", 5*time.Minute, "バッチ処理のタイムアウト時間")
	input := flag.String("input", "", "予約コマンドのファイル (JSON または YAML)")
	envFile := flag.String("env-file", ".env", "読み込む .env ファイル")
	flag.Parse()

	config.LoadDotEnv(*envFile)
	local := os.Getenv(config.KeyEnv) == "LOCAL"

	// 最後の引数として渡されたタスクトークンを取得
	// ENV=LOCALの場合はタスクトークンを取得しない
	taskToken := "DUMMY_TASK_TOKEN"
	if !local {
		if flag.NArg() == 0 || flag.Arg(flag.NArg()-1) == "" {
			log.Fatalf("Task token is required")
		}
		taskToken = flag.Arg(flag.NArg() - 1)
	}
	if *input == "" {
		log.Fatalf("Commands file is required (-input)")
	}

	// 設定の読み込み
	cfg, err := config.LoadConfig(taskToken)
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

	commands, err := batch.ReadCommands(afero.NewOsFs(), *input)
	if err != nil {
		log.Fatalf("Failed to read commands: %v", err)
	}

	// Step Functionsクライアントの初期化
	var sfnClient *sfn.Client
	var taskClient batch.SFNClient
	if !cfg.Local {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v\nStack trace:\n%s", err, debug.Stack())
		}
		sfnClient = sfn.NewFromConfig(awsCfg)
		taskClient = sfnClient
	}

	// コンテキストの作成
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// X-Rayセグメントの作成
	if cfg.EnableTracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, projectName)
		defer seg.Close(nil)

		// セグメントにメタデータを追加
		if err := seg.AddMetadata("timeout", timeout.String()); err != nil {
			log.Printf("Failed to add timeout metadata: %v", err)
		}
		if err := seg.AddMetadata("command_count", len(commands)); err != nil {
			log.Printf("Failed to add command_count metadata: %v", err)
		}
	}

	// サービスの初期化
	service, err := batch.NewReservationBatchService(ctx, cfg, taskClient)
	if err != nil {
		log.Fatalf("Failed to create service: %v\nStack trace:\n%s", err, debug.Stack())
	}
	defer service.Close()
	service.SetArgs(commands)

	// シグナルハンドリングの設定
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// バッチ処理の実行
	errChan := make(chan error, 1)
	go func() {
		errChan <- utils.RunWithTimeout(ctx, *timeout, service.Run)
	}()

	// シグナルまたはエラーの待機
	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Printf("Batch process failed: %v\nStack trace:\n%s", err, utils.StackTrace(err))

			// ローカル環境以外の場合のみStep Functionsのエラー通知を行う
			if sfnClient != nil {
				input := &sfn.SendTaskFailureInput{
					TaskToken: aws.String(taskToken),
					Error:     aws.String("Batch process failed"),
					Cause:     aws.String(err.Error()),
				}
				if _, err := sfnClient.SendTaskFailure(context.Background(), input); err != nil {
					log.Printf("Failed to send task failure: %v", err)
				}
			}

			service.Close()
			os.Exit(1)
		}
		log.Println("Batch process completed successfully")
	}
}
