// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// スケジューラ設定
	WorkerCount           int // 同時に変換を実行するワーカー数
	ConvertTimeoutSeconds int // 1ジョブあたりの変換タイムアウト（秒）
	JobRetentionMinutes   int // 終了したジョブを参照可能に保つ期間（分）
	MaxBatchSize          int // バッチに含められるドキュメント数の上限
	MaxBatchConcurrent    int // バッチ単位の同時実行数上限

	// 進捗ストリーム設定
	PingIntervalSeconds int // WebSocket の ping 送信間隔（秒）
	StaleTimeoutSeconds int // pong 未応答で切断するまでの時間（秒）

	// Redis設定
	RedisURL string // ジョブ保持ストアと変換キャッシュに使うRedis接続URL

	// ストレージ設定
	StorageDir    string // ローカルオブジェクトストアのルートディレクトリ
	FileBaseURL   string // ページ画像URL生成用のベースURL
	MaxSourceSize int64  // 変換対象ドキュメントの最大サイズ（バイト）
	MaxPages      int    // 変換対象ドキュメントの最大ページ数

	// 画像出力設定
	ImageQuality int // ページ画像のJPEG品質 (1-100)
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// スケジューラ設定
		WorkerCount:           getEnvAsInt("WORKER_COUNT", 3),
		ConvertTimeoutSeconds: getEnvAsInt("CONVERT_TIMEOUT_SECONDS", 300),
		JobRetentionMinutes:   getEnvAsInt("JOB_RETENTION_MINUTES", 60),
		MaxBatchSize:          getEnvAsInt("MAX_BATCH_SIZE", 50),
		MaxBatchConcurrent:    getEnvAsInt("MAX_BATCH_CONCURRENT", 10),

		// 進捗ストリーム設定
		PingIntervalSeconds: getEnvAsInt("PING_INTERVAL_SECONDS", 30),
		StaleTimeoutSeconds: getEnvAsInt("STALE_TIMEOUT_SECONDS", 60),

		// Redis設定
		RedisURL: getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),

		// ストレージ設定
		StorageDir:    getEnv("STORAGE_DIR", filepath.Join(os.TempDir(), "page-forge")),
		FileBaseURL:   getEnv("FILE_BASE_URL", "/files"),
		MaxSourceSize: getEnvAsInt64("MAX_SOURCE_SIZE", 104857600), // 100MB
		MaxPages:      getEnvAsInt("MAX_PAGES", 500),

		// 画像出力設定
		ImageQuality: getEnvAsInt("IMAGE_QUALITY", 85),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1 (got %d)", c.WorkerCount)
	}
	if c.ConvertTimeoutSeconds < 1 {
		return fmt.Errorf("CONVERT_TIMEOUT_SECONDS must be at least 1 (got %d)", c.ConvertTimeoutSeconds)
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("MAX_BATCH_SIZE must be at least 1 (got %d)", c.MaxBatchSize)
	}
	if c.ImageQuality < 1 || c.ImageQuality > 100 {
		return fmt.Errorf("IMAGE_QUALITY must be between 1 and 100 (got %d)", c.ImageQuality)
	}

	// 本番環境では外部依存の設定を厳格にチェックする想定
	if c.GinMode == "release" {
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in release mode")
		}
		if c.StorageDir == "" {
			return fmt.Errorf("STORAGE_DIR is required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
