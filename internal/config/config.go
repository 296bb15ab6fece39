package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required=true"`
	TelegramAPIURL   string `env:"TELEGRAM_API_URL,default=https://api.telegram.org"`
	ArchiveChatID    string `env:"ARCHIVE_CHAT_ID,required=true"`

	DefaultAPIBase     string        `env:"DEFAULT_API_BASE"`
	CatalogConcurrency int           `env:"CATALOG_CONCURRENCY,default=36"`
	CatalogMaxRetries  int           `env:"CATALOG_MAX_RETRIES,default=3"`
	CatalogTimeout     time.Duration `env:"CATALOG_TIMEOUT,default=30s"`

	RunConcurrency       int           `env:"RUN_CONCURRENCY,default=4"`
	SendRatePerSec       int           `env:"SEND_RATE_PER_SEC,default=1"`
	SendGlobalRatePerSec int           `env:"SEND_GLOBAL_RATE_PER_SEC,default=25"`
	Timezone             string        `env:"TIMEZONE,default=Asia/Kolkata"`
	RecoveryDelay        time.Duration `env:"RECOVERY_DELAY,default=5s"`

	WorkDir       string `env:"WORK_DIR,default=/tmp/course-relay"`
	WatermarkText string `env:"WATERMARK_TEXT"`
	FFmpegBinary  string `env:"FFMPEG_BINARY,default=ffmpeg"`
	FFprobeBinary string `env:"FFPROBE_BINARY,default=ffprobe"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Location resolves the timezone used for schedules and captions.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
