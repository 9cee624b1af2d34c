package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Store     StoreConfig     `mapstructure:"store"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Dialer    DialerConfig    `mapstructure:"dialer"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Results   ResultsConfig   `mapstructure:"results"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// BackendConfig points at the calling backend. Provider "mock" runs the
// in-process simulated backend instead of the REST client.
type BackendConfig struct {
	Provider       string        `mapstructure:"provider"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StoreConfig selects the persistence backend for orchestrator state.
// Driver is one of "badger", "redis" or "memory".
type StoreConfig struct {
	Driver    string        `mapstructure:"driver"`
	Path      string        `mapstructure:"path"`
	InMemory  bool          `mapstructure:"in_memory"`
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthQuery     string        `mapstructure:"health_query"`
	ApplicationName string        `mapstructure:"application_name"`
}

type ScyllaConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
}

type KafkaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	RunEventsTopic  string        `mapstructure:"run_events_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
	Partitions      int           `mapstructure:"partitions"`
	Replication     int           `mapstructure:"replication_factor"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Addresses    []string      `mapstructure:"addresses"`
	MasterName   string        `mapstructure:"master_name"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	ServiceName       string        `mapstructure:"service_name"`
	SampleRatio       float64       `mapstructure:"sample_ratio"`
	TracingEnabled    bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CollectorProtocol string        `mapstructure:"collector_protocol"`
}

// DialerConfig tunes the sequential dialer.
type DialerConfig struct {
	InterCallDelay time.Duration `mapstructure:"inter_call_delay"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	RecencyWindow  time.Duration `mapstructure:"recency_window"`
}

// PollerConfig tunes the status poller and the live call trackers.
type PollerConfig struct {
	StatusInterval  time.Duration `mapstructure:"status_interval"`
	LiveInterval    time.Duration `mapstructure:"live_interval"`
	LiveTimeout     time.Duration `mapstructure:"live_timeout"`
	MaxLiveTrackers int           `mapstructure:"max_live_trackers"`
}

type ResultsConfig struct {
	PageSize int `mapstructure:"page_size"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("OUTBOUND")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset timings with the dashboard's stock values.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "campaign-dialer"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Backend.Provider == "" {
		c.Backend.Provider = "rest"
	}
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = 15 * time.Second
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "badger"
	}
	if c.Store.TTL <= 0 {
		c.Store.TTL = 24 * time.Hour
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "dialer"
	}
	if c.Postgres.ApplicationName == "" {
		c.Postgres.ApplicationName = c.App.Name
	}
	if c.Scylla.Timeout <= 0 {
		c.Scylla.Timeout = 5 * time.Second
	}
	if c.Scylla.ConnectTimeout <= 0 {
		c.Scylla.ConnectTimeout = c.Scylla.Timeout
	}
	if c.Scylla.ReplicationFactor <= 0 {
		c.Scylla.ReplicationFactor = 1
	}
	if c.Kafka.Partitions <= 0 {
		c.Kafka.Partitions = 12
	}
	if c.Kafka.Replication <= 0 {
		c.Kafka.Replication = 1
	}
	if c.Kafka.RunEventsTopic == "" {
		c.Kafka.RunEventsTopic = "campaign-run-events"
	}
	if c.Dialer.InterCallDelay <= 0 {
		c.Dialer.InterCallDelay = 2 * time.Second
	}
	if c.Dialer.SettleDelay <= 0 {
		c.Dialer.SettleDelay = time.Second
	}
	if c.Dialer.RecencyWindow <= 0 {
		c.Dialer.RecencyWindow = 30 * time.Second
	}
	if c.Poller.StatusInterval <= 0 {
		c.Poller.StatusInterval = 3 * time.Second
	}
	if c.Poller.LiveInterval <= 0 {
		c.Poller.LiveInterval = 2 * time.Second
	}
	if c.Poller.LiveTimeout <= 0 {
		c.Poller.LiveTimeout = 40 * time.Second
	}
	if c.Poller.MaxLiveTrackers <= 0 {
		c.Poller.MaxLiveTrackers = 25
	}
	if c.Results.PageSize <= 0 {
		c.Results.PageSize = 20
	}
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
