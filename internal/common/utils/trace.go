package utils

import (
	"context"
	"os"

	"github.com/aws/aws-xray-sdk-go/xray"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("common/utils")

// Trace はX-Rayのサブセグメントを開始し、終了用の関数を返します
// 親セグメントがない場合 (トレース無効時やテスト時) は何もしない関数を返します
func Trace(ctx context.Context, name string) (context.Context, func(err error)) {
	if xray.GetSegment(ctx) == nil {
		return ctx, func(error) {}
	}
	ctx, seg := xray.BeginSubsegment(ctx, name)
	if seg == nil {
		return ctx, func(error) {}
	}
	return ctx, func(err error) { seg.Close(err) }
}

// AddMetadata は現在のセグメントにメタデータを追加します
// セグメントがない場合は何もしません
func AddMetadata(ctx context.Context, key string, value interface{}) {
	if xray.GetSegment(ctx) == nil {
		return
	}
	if err := xray.AddMetadata(ctx, key, value); err != nil {
		log.Debugf("Failed to add %s metadata: %v", key, err)
	}
}

// ConfigureTracing はX-Rayデーモンへの送信を設定します
// 設定に失敗した場合はデフォルトの設定で再試行します
func ConfigureTracing(serviceVersion string) error {
	if err := xray.Configure(xray.Config{
		DaemonAddr:     "127.0.0.1:2000", // X-Rayデーモンのアドレス
		ServiceVersion: serviceVersion,
	}); err != nil {
		log.Warnf("Failed to configure X-Ray: %v", err)
		if configErr := xray.Configure(xray.Config{}); configErr != nil {
			return configErr
		}
	}
	os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	return nil
}
