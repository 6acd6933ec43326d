package convert

import (
	"context"
	"time"
)

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)

// clampPercent は進捗を 0〜100 に丸めます。ラスタライザの自己申告値を
// そのままジョブ状態やストリームへ流さないための関門です。
func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// RasterRequest はラスタライザへの変換依頼です。
type RasterRequest struct {
	DocumentID string
	OwnerID    string
	Progress   ProgressReporter
}

// RasterResult はラスタライズの成果です。
type RasterResult struct {
	PageCount         int
	PageURLs          []string
	SourceFingerprint string
	ProcessingTime    time.Duration
}

// Rasterizer はPDFをページ画像へ変換する外部コラボレーターです。
// 呼び出しは遅く失敗しうるため、ワーカーのタイムアウト境界の内側で実行されます。
type Rasterizer interface {
	Convert(ctx context.Context, req RasterRequest) (*RasterResult, error)
}

// SourceInfo は変換対象ドキュメントの基本メタデータです。
type SourceInfo struct {
	Size        int64
	Pages       int
	ContentType string
	Fingerprint string
}

// SourceInspector は投入前バリデーション用にドキュメントを検査します。
// 存在しない場合は DOCUMENT_NOT_FOUND、PDFでない場合は
// UNSUPPORTED_SOURCE の *Error を返す実装が期待されます。
type SourceInspector interface {
	Inspect(ctx context.Context, documentID string) (*SourceInfo, error)
}
