package internal

import (
	"os"
	"strconv"
	"time"
)

// Config carries everything the daemon and CLI verbs need, loaded from the
// environment (with .env support in cmd).
type Config struct {
	DBPath          string
	CredentialsPath string

	// Orchestration limits. MaxConcurrent caps in-flight platform tasks
	// across the whole process; 0 means unlimited. LaunchInterval paces job
	// launches during an upload-all pass.
	MaxConcurrent  int
	LaunchInterval time.Duration
	UploadTimeout  time.Duration

	// Cron expression for the periodic queue flush; empty disables it.
	FlushCron string

	TelegramToken string
	PostsChatID   int64

	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	CredentialsS3Key string

	YouTubeClientSecrets string
	YouTubeTokenPath     string
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	cfg := Config{
		DBPath:          firstNonEmpty(os.Getenv("QUEUE_DB_PATH"), "socialqueue.db"),
		CredentialsPath: firstNonEmpty(os.Getenv("CREDENTIALS_PATH"), "socialqueue.json"),

		MaxConcurrent:  4,
		LaunchInterval: time.Second,
		UploadTimeout:  10 * time.Minute,

		FlushCron: os.Getenv("FLUSH_CRON"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3Region:         os.Getenv("S3_REGION"),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3AccessKey:      firstNonEmpty(os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_ACCESS_KEY_ID")),
		S3SecretKey:      firstNonEmpty(os.Getenv("S3_SECRET_ACCESS_KEY"), os.Getenv("S3_SECRET_ACCESS_KEY_ID")),
		CredentialsS3Key: firstNonEmpty(os.Getenv("CREDENTIALS_S3_KEY"), "credentials.json"),

		YouTubeClientSecrets: firstNonEmpty(os.Getenv("YOUTUBE_CLIENT_SECRETS"), "client_secrets.json"),
		YouTubeTokenPath:     firstNonEmpty(os.Getenv("YOUTUBE_TOKEN"), "youtube_token.json"),
	}

	if v := os.Getenv("UPLOAD_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxConcurrent = n
		}
	}

	if v := os.Getenv("UPLOAD_LAUNCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.LaunchInterval = d
		}
	}

	if v := os.Getenv("UPLOAD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.UploadTimeout = d
		}
	}

	if v := os.Getenv("POSTS_CHATID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.PostsChatID = n
		}
	}

	return cfg, nil
}

// S3Configured reports whether the credentials mirror can be enabled.
func (c Config) S3Configured() bool {
	return c.S3Endpoint != "" && c.S3Region != "" && c.S3Bucket != "" &&
		c.S3AccessKey != "" && c.S3SecretKey != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
