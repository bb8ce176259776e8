package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/corebus/platform/pkg/env"
)

// TestConfig holds the external endpoints the integration suite talks
// to, overridable through .env.test or the environment.
type TestConfig struct {
	ShortTimeout  time.Duration
	MediumTimeout time.Duration
	LongTimeout   time.Duration

	KafkaBrokers []string
	RedisAddress string
	DatabaseDSN  string
}

var (
	loadOnce sync.Once
	loaded   TestConfig
)

// LoadTestConfig reads the test endpoints once per process, after loading
// .env.test if one exists anywhere up the tree.
func LoadTestConfig() TestConfig {
	loadOnce.Do(func() {
		_ = env.LoadTest()
		loaded = TestConfig{
			ShortTimeout:  100 * time.Millisecond,
			MediumTimeout: 500 * time.Millisecond,
			LongTimeout:   2 * time.Second,

			KafkaBrokers: env.GetList("CB_KAFKA_BROKERS", []string{"localhost:9092"}),
			RedisAddress: env.GetString("CB_REDIS_ADDR", "localhost:6379"),
			DatabaseDSN:  env.GetString("CB_DATABASE_URL", "postgres://localhost:5432/corebus_test?sslmode=disable"),
		}
	})
	return loaded
}

// MockKafkaConfig returns a Sarama config tuned for fast test runs.
func MockKafkaConfig() *sarama.Config {
	cfg := LoadTestConfig()
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Net.DialTimeout = cfg.ShortTimeout
	config.Net.ReadTimeout = cfg.ShortTimeout
	config.Net.WriteTimeout = cfg.ShortTimeout
	return config
}

// IsIntegrationTest reports whether integration tests should run.
func IsIntegrationTest() bool {
	return env.GetBool("INTEGRATION_TEST")
}

// SkipIfShort skips the test under -short.
func SkipIfShort(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
}

// SkipIfNotIntegration skips the test unless INTEGRATION_TEST is set.
func SkipIfNotIntegration(t *testing.T) {
	if !IsIntegrationTest() {
		t.Skip("skipping integration test")
	}
}
