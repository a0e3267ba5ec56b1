// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// 認証設定（未設定の場合は認証なしで動作）
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵
	APIToken        string // X-API-Token ヘッダーで受け付けるトークン

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ワーカー設定
	WorkDir          string // ワーカーを実行する作業ディレクトリ
	OutputDir        string // 成果物の保存先ディレクトリ
	TemplateDir      string // テンプレートの上書きディレクトリ（空なら組み込みのみ）
	WorkerPython     string // Python ワーカーの実行ファイル
	ReplayWorkerPath string // replayworker の実行ファイル
	ReplayFeedPath   string // replayworker が再生するフィード（相対パスは WorkDir 基準）
	JobTimeoutSec    int    // ワーカー1回あたりの最大実行時間（秒）

	// 成果物の保持設定
	ArtifactRetentionHours int // 成果物を保持する時間
	SweepIntervalMinutes   int // 削除処理の実行間隔（分）

	// ジョブイベント通知
	EventsRedisURL string // Redis Pub/Sub の接続URL（空なら通知しない）
	EventsChannel  string // 通知先チャンネル名

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // json または text
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),
		APIToken:        getEnv("API_TOKEN", ""),

		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		WorkDir:          getEnv("WORK_DIR", "."),
		OutputDir:        getEnv("OUTPUT_DIR", "scraper_outputs"),
		TemplateDir:      getEnv("TEMPLATE_DIR", ""),
		WorkerPython:     getEnv("WORKER_PYTHON", "python3"),
		ReplayWorkerPath: getEnv("REPLAY_WORKER_PATH", "replayworker"),
		ReplayFeedPath:   getEnv("REPLAY_FEED_PATH", "replay_feed.csv"),
		JobTimeoutSec:    getEnvAsInt("JOB_TIMEOUT_SECONDS", 900), // 15分

		ArtifactRetentionHours: getEnvAsInt("ARTIFACT_RETENTION_HOURS", 72), // 3日
		SweepIntervalMinutes:   getEnvAsInt("SWEEP_INTERVAL_MINUTES", 60),

		EventsRedisURL: getEnv("EVENTS_REDIS_URL", ""),
		EventsChannel:  getEnv("EVENTS_CHANNEL", "scrape-forge:jobs"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
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
	if c.JobTimeoutSec <= 0 {
		return fmt.Errorf("JOB_TIMEOUT_SECONDS must be positive")
	}
	if c.ArtifactRetentionHours <= 0 {
		return fmt.Errorf("ARTIFACT_RETENTION_HOURS must be positive")
	}
	if c.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be positive")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}

	// ユーザー名を設定した場合はパスワードとセッション鍵も必須
	if c.AppUsername != "" {
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required when APP_USERNAME is set")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required when APP_USERNAME is set")
		}
	}

	// 本番環境では何らかの認証を必須にする
	if c.GinMode == "release" && !c.AuthEnabled() {
		return fmt.Errorf("APP_USERNAME or API_TOKEN is required in release mode")
	}

	return nil
}

// AuthEnabled はログインまたはAPIトークンによる認証が有効かを返します。
func (c *Config) AuthEnabled() bool {
	return c.AppUsername != "" || c.APIToken != ""
}

// JobTimeout はワーカーの締め切り時間を返します。
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

// ArtifactRetention は成果物の保持期間を返します。
func (c *Config) ArtifactRetention() time.Duration {
	return time.Duration(c.ArtifactRetentionHours) * time.Hour
}

// SweepInterval は削除処理の実行間隔を返します。
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
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
