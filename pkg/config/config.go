package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree, one struct per concern, following
// the teacher's convention of a single YAML/env-sourced Config unmarshaled
// once at startup and passed down by value to each binary's wiring.
type Config struct {
	CommandService ServerConfig `mapstructure:"command_service"`
	Worker         ServerConfig `mapstructure:"worker"`
	ProcessManager ServerConfig `mapstructure:"process_manager"`
	Projector      ServerConfig `mapstructure:"projector"`
	Redis          RedisConfig
	Kafka          KafkaConfig
	Database       DatabaseConfig
	Observability  ObservabilityConfig
	Command        CommandConfig
	Outbox         OutboxConfig
	QueueNaming    QueueNamingConfig `mapstructure:"queue_naming"`
	TopicNaming    TopicNamingConfig `mapstructure:"topic_naming"`
	Process        ProcessConfig
	SyncWait       SyncWaitConfig `mapstructure:"sync_wait"`
}

// CommandConfig bounds the Worker Runtime's lease and retry policy (spec §6).
type CommandConfig struct {
	CommandLease        time.Duration `mapstructure:"command_lease"`
	MaxTransientRetries int           `mapstructure:"max_transient_retries"`
}

// OutboxConfig tunes the Relay's sweep cadence, batch size, claim lease,
// and backoff cap (spec §4.2).
type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	ClaimTimeout  time.Duration `mapstructure:"claim_timeout"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
}

// QueueNamingConfig derives command/reply queue names (internal/naming).
type QueueNamingConfig struct {
	CommandPrefix string `mapstructure:"command_prefix"`
	QueueSuffix   string `mapstructure:"queue_suffix"`
	ReplyQueue    string `mapstructure:"reply_queue"`
}

// TopicNamingConfig derives domain event topic names (internal/naming).
type TopicNamingConfig struct {
	EventPrefix string `mapstructure:"event_prefix"`
}

// ProcessConfig bounds the Process Manager's parallel fan-out.
type ProcessConfig struct {
	MaxParallelBranches int `mapstructure:"max_parallel_branches"`
}

// SyncWaitConfig bounds the Command Bus's optional synchronous-wait mode
// (spec §9 Open Questions), a convenience polling wrapper over Accept.
type SyncWaitConfig struct {
	MaxWait      time.Duration `mapstructure:"max_wait"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

type RedisConfig struct {
	Addresses       []string      `mapstructure:"addresses"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type KafkaConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Brokers     []string       `mapstructure:"brokers"`
	GroupID     string         `mapstructure:"group_id"`
	Version     string         `mapstructure:"version"`
	SASLEnabled bool           `mapstructure:"sasl_enabled"`
	Consumer    ConsumerConfig `mapstructure:"consumer"`
	Producer    ProducerConfig `mapstructure:"producer"`
}

type ConsumerConfig struct {
	MinBytes     int           `mapstructure:"min_bytes"`
	MaxBytes     int           `mapstructure:"max_bytes"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
	FetchMin     int           `mapstructure:"fetch_min"`
	FetchDefault int           `mapstructure:"fetch_default"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	MaxRetries   int           `mapstructure:"max_retries"`
	Topics       []string      `mapstructure:"topics"`
}

type ProducerConfig struct {
	Compression     string        `mapstructure:"compression"`
	MaxMessageBytes int           `mapstructure:"max_message_bytes"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

type DatabaseConfig struct {
	Primary ConnectionConfig `mapstructure:"primary"`
	Replica ConnectionConfig `mapstructure:"replica"`
	URL     string           `mapstructure:"url"`
}

// DSN returns the primary database's connection string for database/sql
// consumers (the migration manager). An explicit URL wins over the
// structured fields.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	p := d.Primary
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		p.Username, p.Password, p.Host, p.Port, p.Database)
}

type ConnectionConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type ObservabilityConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MetricsPort int           `mapstructure:"metrics_port"`
	MetricsPath string        `mapstructure:"metrics_path"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	SchemaURL   string `mapstructure:"schema_url"`
	Disable     bool   `mapstructure:"disable"`
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// Load reads config.yaml (if present) and environment overrides prefixed
// CB_, unmarshaling into a Config with the repository's documented defaults
// applied first.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/corebus/")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CB")

	viper.SetDefault("command_service.host", "0.0.0.0")
	viper.SetDefault("command_service.port", 8080)
	viper.SetDefault("worker.host", "0.0.0.0")
	viper.SetDefault("worker.port", 8081)
	viper.SetDefault("process_manager.host", "0.0.0.0")
	viper.SetDefault("process_manager.port", 8082)
	viper.SetDefault("projector.host", "0.0.0.0")
	viper.SetDefault("projector.port", 8083)
	viper.SetDefault("command_service.read_timeout", "30s")
	viper.SetDefault("command_service.write_timeout", "30s")
	viper.SetDefault("redis.pool_size", 100)
	viper.SetDefault("database.primary.max_open_conns", 50)

	viper.SetDefault("command.command_lease", "5m")
	viper.SetDefault("command.max_transient_retries", 10)

	viper.SetDefault("outbox.batch_size", 2000)
	viper.SetDefault("outbox.sweep_interval", "1s")
	viper.SetDefault("outbox.claim_timeout", "1s")
	viper.SetDefault("outbox.max_backoff", "5m")

	viper.SetDefault("queue_naming.command_prefix", "APP.CMD.")
	viper.SetDefault("queue_naming.queue_suffix", ".Q")
	viper.SetDefault("queue_naming.reply_queue", "APP.CMD.REPLY.Q")
	viper.SetDefault("topic_naming.event_prefix", "events.")

	viper.SetDefault("process.max_parallel_branches", 8)

	viper.SetDefault("sync_wait.max_wait", "0s")
	viper.SetDefault("sync_wait.poll_interval", "50ms")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
