package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"

	PushLog   = "log"
	PushFCM   = "fcm"
	PushKafka = "kafka"
)

// Config 网关配置，全部来自环境变量（可选 .env）
type Config struct {
	NodeID      string `env:"NODE_ID,default=gateway_01"`
	HTTPAddr    string `env:"HTTP_ADDR,default=:8080"`
	GRPCAddr    string `env:"GRPC_ADDR,default=:50052"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogEncoding string `env:"LOG_ENCODING,default=console"`

	StoreDriver   string `env:"STORE_DRIVER,default=memory"`
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE,default=chat"`
	MongoMaxPool  int    `env:"MONGO_MAX_POOL,default=20"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB,default=0"`
	PresenceTTL   time.Duration `env:"PRESENCE_TTL,default=90s"`

	NatsURL           string `env:"NATS_URL"`
	NatsSubjectPrefix string `env:"NATS_SUBJECT_PREFIX,default=chat.events"`

	PushDriver         string `env:"PUSH_DRIVER,default=log"`
	FCMCredentialsFile string `env:"FCM_CREDENTIALS_FILE"`
	KafkaBrokers       string `env:"KAFKA_BROKERS"`
	KafkaPushTopic     string `env:"KAFKA_PUSH_TOPIC,default=push_notification"`

	JournalDSN string `env:"JOURNAL_DSN"`
	JWTSecret  string `env:"JWT_SECRET"`

	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	SendQueue       int           `env:"SEND_QUEUE,default=256"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT,default=5s"`
	PingInterval    time.Duration `env:"PING_INTERVAL,default=30s"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT,default=60s"`
	MaxMessageBytes int64         `env:"MAX_MESSAGE_BYTES,default=1048576"`
	ExternalTimeout time.Duration `env:"EXTERNAL_TIMEOUT,default=5s"`
	SyncStatusLimit int           `env:"SYNC_STATUS_LIMIT,default=50"`
}

// Global 启动后可读的全局配置快照
var Global Config

// Load reads an optional .env file then decodes the environment.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	Global = cfg
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required when STORE_DRIVER=mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.PushDriver {
	case PushLog:
	case PushFCM:
		if c.FCMCredentialsFile == "" {
			errs = append(errs, errors.New("FCM_CREDENTIALS_FILE is required when PUSH_DRIVER=fcm"))
		}
	case PushKafka:
		if len(c.Brokers()) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required when PUSH_DRIVER=kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PUSH_DRIVER %q", c.PushDriver))
	}
	if c.SendQueue <= 0 {
		errs = append(errs, errors.New("SEND_QUEUE must be positive"))
	}
	if c.PingInterval >= c.ReadTimeout {
		errs = append(errs, errors.New("PING_INTERVAL must be shorter than READ_TIMEOUT"))
	}
	return errors.Join(errs...)
}

// Brokers splits KAFKA_BROKERS ("h1:9092,h2:9092").
func (c Config) Brokers() []string { return splitList(c.KafkaBrokers) }

// Origins splits ALLOWED_ORIGINS; empty allows any origin.
func (c Config) Origins() []string { return splitList(c.AllowedOrigins) }

func splitList(v string) []string {
	var out []string
	for _, b := range strings.Split(v, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
