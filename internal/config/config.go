package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/luzzy/message-sync/pkg/logger"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config holds every tunable of the sync daemon. Only this struct may be
// used to read configuration values; no direct access to env or any other
// config source should be made elsewhere.
type Config struct {
	AppEnv              string `env:"APP_ENV" default:"dev"`
	AppName             string `env:"APP_NAME" default:"message_sync"`
	AppDebug            bool   `env:"APP_DEBUG" default:"1"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI"`

	HttpListenAddr         string `env:"HTTP_LISTEN_ADDR" default:"127.0.0.1:9380"`
	HttpServerReadTimeout  int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`

	// Local store. Driver is "sqlite" on-device; "postgres" is kept for
	// hosted deployments that mirror the same schema.
	StoreDriver     string `env:"STORE_DRIVER" default:"sqlite"`
	StoreSqlitePath string `env:"STORE_SQLITE_PATH" default:"messages.db"`

	PostgresHost     string `env:"POSTGRES_HOST"`
	PostgresPort     string `env:"POSTGRES_PORT"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDatabase string `env:"POSTGRES_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE" default:"message_sync"`

	LogLevel []string `env:"LOG_LEVEL"`

	// Push command channel (redis stream).
	PushQueueName              string        `env:"PUSH_QUEUE_NAME" default:"push:commands"`
	PushQueueConsumerGroup     string        `env:"PUSH_QUEUE_CONSUMER_GROUP" default:"syncd"`
	PushQueueConsumerName      string        `env:"PUSH_QUEUE_CONSUMER_NAME" default:"syncd-consumer"`
	PushQueueMaxRetries        int           `env:"PUSH_QUEUE_MAX_RETRIES" default:"3"`
	PushQueueVisibilityTimeout time.Duration `env:"PUSH_QUEUE_VISIBILITY_TIMEOUT" default:"30s"`
	PushQueuePollInterval      time.Duration `env:"PUSH_QUEUE_POLL_INTERVAL" default:"1s"`
	PushQueueBatchSize         int64         `env:"PUSH_QUEUE_BATCH_SIZE" default:"10"`
	PushQueueMaxLen            int64         `env:"PUSH_QUEUE_MAX_LEN" default:"10000"`
	PushQueueEnableDLQ         bool          `env:"PUSH_QUEUE_ENABLE_DLQ" default:"1"`

	// Duplicate suppression for push commands.
	DedupWindow   time.Duration `env:"DEDUP_WINDOW" default:"60s"`
	DedupCapacity int           `env:"DEDUP_CAPACITY" default:"100"`

	// Outbound delivery.
	DeliveryReports     bool          `env:"DELIVERY_REPORTS" default:"1"`
	SendLongAsMMS       bool          `env:"SEND_LONG_AS_MMS" default:"1"`
	SendLongAsMMSAfter  int           `env:"SEND_LONG_AS_MMS_AFTER" default:"1"`
	SendGroupAsMMS      bool          `env:"SEND_GROUP_AS_MMS" default:"1"`
	ScheduledSweepEvery time.Duration `env:"SCHEDULED_SWEEP_EVERY" default:"30s"`
	// LoopbackEcho feeds every loopback send back through the inbound
	// receiver, exercising the capture/upload path without a radio.
	LoopbackEcho bool `env:"LOOPBACK_ECHO" default:"0"`

	// Backend mirror.
	BackendBaseURL        string        `env:"BACKEND_BASE_URL" default:"http://127.0.0.1:8090"`
	BackendTimeout        time.Duration `env:"BACKEND_TIMEOUT" default:"30s"`
	UploadMaxAttempts     int           `env:"UPLOAD_MAX_ATTEMPTS" default:"5"`
	UploadBackoffBase     time.Duration `env:"UPLOAD_BACKOFF_BASE" default:"10s"`
	UploadBackoffCeiling  time.Duration `env:"UPLOAD_BACKOFF_CEILING" default:"10m"`
	UploadHistoryLookback time.Duration `env:"UPLOAD_HISTORY_LOOKBACK" default:"36h"`
	UploadWorkers         int           `env:"UPLOAD_WORKERS" default:"4"`

	// Conversation window.
	WindowCap            int           `env:"WINDOW_CAP" default:"500"`
	WindowSeparatorGap   time.Duration `env:"WINDOW_SEPARATOR_GAP" default:"300s"`
	WindowJumpMaxLoops   int           `env:"WINDOW_JUMP_MAX_LOOPS" default:"1000"`
	WindowOlderPageLimit int           `env:"WINDOW_OLDER_PAGE_LIMIT" default:"100"`

	DevicePhone string `env:"DEVICE_PHONE"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// Set installs a configuration directly. Test helper.
func Set(c *Config) {
	config = c
}
