package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/orbitpay/payment-gateway/pkg/logger"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config holds every env-driven setting of the orchestrator. Only this
// struct must be used to read configuration, no direct access to env,
// ini or any other config source should be made.
type Config struct {
	AppEnv              string `env:"APP_ENV" default:"dev"`
	AppName             string `env:"APP_NAME" default:"payment_gateway"`
	AppDebug            bool   `env:"APP_DEBUG" default:"1"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI"`
	AppBaseUrl          string `env:"APP_BASE_URL"`

	HttpListenAddr            string `env:"HTTP_LISTEN_ADDR" validation:"mustExists"`
	HttpBaseRequestUrl        string `env:"HTTP_BASE_REQUEST_URI" validation:"mustExists"`
	HttpServerReadTimeout     int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout    int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`
	HttpServerReadBufferSize  int    `env:"HTTP_SERVER_READ_BUFFER_SIZE"`
	HttpServerWriteBufferSize int    `env:"HTTP_SERVER_WRITE_BUFFER_SIZE"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	PostgresSSLMode string `env:"POSTGRES_SSLMODE" default:"disable"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	ProfilerEnable bool `env:"PROFILER_ENABLE"`
	ProfilerPort   int  `env:"PROFILER_PORT"`

	LogLevel []string `env:"LOG_LEVEL"`

	EventStreamName       string        `env:"EVENT_STREAM_NAME" default:"payments:events"`
	EventConsumerGroup    string        `env:"EVENT_CONSUMER_GROUP" default:"relay"`
	EventConsumerName     string        `env:"EVENT_CONSUMER_NAME"`
	EventMaxRetries       int           `env:"EVENT_MAX_RETRIES"`
	EventClaimMinIdle     time.Duration `env:"EVENT_CLAIM_MIN_IDLE"`
	EventPollInterval     time.Duration `env:"EVENT_POLL_INTERVAL"`
	EventBatchSize        int64         `env:"EVENT_BATCH_SIZE"`
	EventStreamMaxLen     int64         `env:"EVENT_STREAM_MAX_LEN"`
	EventEnableDeadLetter bool          `env:"EVENT_ENABLE_DLQ"`

	GatewayBaseUrl    string        `env:"GATEWAY_BASE_URL"`
	GatewayTimeout    time.Duration `env:"GATEWAY_TIMEOUT" default:"10s"`
	GatewayMaxRetries int           `env:"GATEWAY_MAX_RETRIES"`
	GatewayRetryDelay time.Duration `env:"GATEWAY_RETRY_DELAY"`

	FraudTimeout             time.Duration `env:"FRAUD_TIMEOUT" default:"3s"`
	FraudBlockScore          int           `env:"FRAUD_BLOCK_SCORE"`
	FraudLargeAmount         int64         `env:"FRAUD_LARGE_AMOUNT"`
	FraudVeryLargeAmount     int64         `env:"FRAUD_VERY_LARGE_AMOUNT"`
	FraudRequireCustomerOver int64         `env:"FRAUD_REQUIRE_CUSTOMER_OVER"`

	RelayWebhookUrl    string        `env:"RELAY_WEBHOOK_URL"`
	RelayWebhookSecret string        `env:"RELAY_WEBHOOK_SECRET"`
	RelayTimeout       time.Duration `env:"RELAY_TIMEOUT" default:"15s"`
	RelayWorkers       int           `env:"RELAY_WORKERS"`
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
