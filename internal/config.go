package internal

import (
	"fmt"
	"strings"
	"time"
)

// FeedDriver selects the ChangeFeed implementation wired by syncd.
type FeedDriver string

const (
	FeedMemory   FeedDriver = "memory"
	FeedPostgres FeedDriver = "postgres"
	FeedKafka    FeedDriver = "kafka"
)

type Config struct {
	LogLevel          string        `env:"LOG_LEVEL,default=INFO"`
	FeedDriver        FeedDriver    `env:"FEED_DRIVER,default=memory"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	PostgresDSN       string        `env:"POSTGRES_DSN"`
	KafkaBrokers      string        `env:"KAFKA_BROKERS"`
	KafkaGroupID      string        `env:"KAFKA_GROUP_ID,default=campus-sync"`
	AccountID         string        `env:"ACCOUNT_ID"`
	Host              string        `env:"HOST,default=0.0.0.0"`
	Port              int           `env:"PORT,required=true"`
	DebugPort         int           `env:"DEBUG_PORT"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=5s"`
	HealthInterval    time.Duration `env:"HEALTH_INTERVAL,default=1s"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	MetricInterval    time.Duration `env:"METRIC_INTERVAL,default=1s"`
	FeedBufferSize    int           `env:"FEED_BUFFER_SIZE,default=256"`
	DeliveryTimeout   time.Duration `env:"DELIVERY_TIMEOUT,default=2s"`
	TypingTTL         time.Duration `env:"TYPING_TTL,default=10s"`
	TypingIdle        time.Duration `env:"TYPING_IDLE,default=3s"`
	AuthSecret        string        `env:"AUTH_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=1h"`
	LimitTransactions *int          `env:"LIMIT_TRANSACTIONS"`
	BlockedWords      string        `env:"BLOCKED_WORDS"`
	MaskChar          string        `env:"MASK_CHAR,default=*"`
}

// Validate checks the settings go-env cannot express.
func (c Config) Validate() error {
	switch c.FeedDriver {
	case FeedMemory:
	case FeedPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required with FEED_DRIVER=%s", c.FeedDriver)
		}
	case FeedKafka:
		if len(c.Brokers()) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required with FEED_DRIVER=%s", c.FeedDriver)
		}
	default:
		return fmt.Errorf("unknown FEED_DRIVER %q", c.FeedDriver)
	}
	if len([]rune(c.MaskChar)) != 1 {
		return fmt.Errorf("MASK_CHAR must be a single character, got %q", c.MaskChar)
	}
	if c.FeedBufferSize <= 0 {
		return fmt.Errorf("FEED_BUFFER_SIZE must be positive, got %d", c.FeedBufferSize)
	}
	return nil
}

// Brokers splits KAFKA_BROKERS on commas.
func (c Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// Words splits BLOCKED_WORDS on commas.
func (c Config) Words() []string {
	return splitList(c.BlockedWords)
}

func (c Config) Mask() rune {
	return []rune(c.MaskChar)[0]
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
