package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var Version = "dev"

var (
	Port     string
	EnvMode  string
	LogLevel string

	UploadDir      string
	LogDir         string
	FFmpegPath     string
	MaxUploadBytes int64

	StorageBackend string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioSecure    bool

	AMQPURL      string
	AMQPExchange string

	DiscordWebhookURL string
	DiscordPingUserID string
	DiscordAlerts     bool

	InstagramIngestHost string

	MarketBaseURL   string
	ProxyHost       string
	ProxyPort       string
	ProxyUserPrefix string
	ProxyPassword   string
	ProxyCount      int
)

const (
	RetentionWindow  = 15 * time.Minute
	SessionGrace     = 5 * time.Minute
	LiveSettleDelay  = 5 * time.Second
	TerminateWait    = 5 * time.Second
	CleanupSettle    = 2 * time.Second
	CleanupAttempts  = 5
	CleanupInterval  = 2 * time.Second
	WriteChunkSize   = 64 * 1024
	DiskSpaceMinGB   = 2
	MarketCacheTTL   = 30 * time.Second
	MarketCookieTTL  = 5 * time.Minute
	MarketTimeout    = 10 * time.Second
	RateLimitWindow  = 60 * time.Second
	RateLimitMax     = 120
	ShutdownTimeout  = 15 * time.Second
	ReportedDuration = 120
)

var AllowedExtensions = []string{"mp4", "mov", "avi", "mkv", "webm"}

var ContainerMIMEs = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "5000")
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("max_upload_bytes", int64(2*1024*1024*1024))
	v.SetDefault("storage_backend", "disk")
	v.SetDefault("minio_bucket", "relay-uploads")
	v.SetDefault("minio_secure", false)
	v.SetDefault("amqp_exchange", "relay_events")
	v.SetDefault("instagram_ingest_host", "edgetee-upload-del2-1.xx.fbcdn.net:443")
	v.SetDefault("market_base_url", "https://www.nseindia.com")
	v.SetDefault("proxy_port", "80")
	v.SetDefault("proxy_count", 0)
}

// Load populates the package settings from the environment and an optional
// relayd.yaml in the working directory. Environment variables win.
func Load() {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("relayd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn().Err(err).Msg("relayd.yaml could not be read, using environment only")
		}
	}

	Port = v.GetString("port")
	EnvMode = v.GetString("env")
	LogLevel = v.GetString("log_level")

	UploadDir = v.GetString("upload_dir")
	LogDir = v.GetString("log_dir")
	FFmpegPath = v.GetString("ffmpeg_path")
	MaxUploadBytes = v.GetInt64("max_upload_bytes")

	StorageBackend = strings.ToLower(v.GetString("storage_backend"))
	MinioEndpoint = v.GetString("minio_endpoint")
	MinioAccessKey = v.GetString("minio_access_key")
	MinioSecretKey = v.GetString("minio_secret_key")
	MinioBucket = v.GetString("minio_bucket")
	MinioSecure = v.GetBool("minio_secure")

	AMQPURL = v.GetString("amqp_url")
	AMQPExchange = v.GetString("amqp_exchange")

	DiscordWebhookURL = v.GetString("discord_webhook_url")
	DiscordPingUserID = v.GetString("discord_ping_user_id")
	DiscordAlerts = DiscordWebhookURL != ""

	InstagramIngestHost = v.GetString("instagram_ingest_host")

	MarketBaseURL = strings.TrimRight(v.GetString("market_base_url"), "/")
	ProxyHost = v.GetString("proxy_host")
	ProxyPort = v.GetString("proxy_port")
	ProxyUserPrefix = v.GetString("proxy_user_prefix")
	ProxyPassword = v.GetString("proxy_password")
	ProxyCount = v.GetInt("proxy_count")

	if MaxUploadBytes <= 0 {
		MaxUploadBytes = 2 * 1024 * 1024 * 1024
	}
}

func IsProduction() bool {
	return EnvMode == "production"
}

func Contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
