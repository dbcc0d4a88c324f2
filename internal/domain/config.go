package domain

import "time"

// Config holds the complete SpendGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" koanf:"server"`

	// Tier determines which backing services are used
	Tier Tier `json:"tier" koanf:"tier"`

	// Model serving and training
	Model     ModelConfig     `json:"model" koanf:"model"`
	Training  TrainingConfig  `json:"training" koanf:"training"`
	Generator GeneratorConfig `json:"generator" koanf:"generator"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" koanf:"repository"`
	Cache      CacheConfig      `json:"cache" koanf:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" koanf:"event_bus"`
	Notifier   NotifierConfig   `json:"notifier" koanf:"notifier"`
	Alerting   AlertingConfig   `json:"alerting" koanf:"alerting"`

	// Observability
	Logging LoggingConfig `json:"logging" koanf:"logging"`
	Tracing TracingConfig `json:"tracing" koanf:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" koanf:"host"`
	Port         int    `json:"port" koanf:"port"`
	ReadTimeout  int    `json:"readTimeout" koanf:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" koanf:"write_timeout"` // seconds
}

// ModelConfig controls how the serving side locates its trained bundle.
type ModelConfig struct {
	// ArtifactDir is the local directory bundles are materialized into.
	ArtifactDir string `json:"artifactDir" koanf:"artifact_dir"`

	// Version pins a bundle version; empty means latest in the repository.
	Version string `json:"version" koanf:"version"`

	// Timezone is the IANA zone used to derive day-of-week and hour.
	Timezone string `json:"timezone" koanf:"timezone"`

	// FetchRetries bounds remote download attempts.
	FetchRetries int `json:"fetchRetries" koanf:"fetch_retries"`
}

// TrainingConfig holds forest hyperparameters.
type TrainingConfig struct {
	NumTrees      int     `json:"numTrees" koanf:"num_trees"`
	SampleSize    int     `json:"sampleSize" koanf:"sample_size"`
	Contamination float64 `json:"contamination" koanf:"contamination"`
	Bootstrap     bool    `json:"bootstrap" koanf:"bootstrap"`
	Seed          int64   `json:"seed" koanf:"seed"`
	Workers       int     `json:"workers" koanf:"workers"`
}

// GeneratorConfig holds synthetic data settings.
type GeneratorConfig struct {
	Count int   `json:"count" koanf:"count"`
	Seed  int64 `json:"seed" koanf:"seed"`
}

// NotifierConfig holds alert delivery settings.
type NotifierConfig struct {
	// Type is "noop" or "kafka"
	Type         string        `json:"type" koanf:"type"`
	KafkaBrokers []string      `json:"kafkaBrokers" koanf:"kafka_brokers"`
	KafkaTopic   string        `json:"kafkaTopic" koanf:"kafka_topic"`
	Timeout      time.Duration `json:"timeout" koanf:"timeout"`
}

// AlertingConfig holds the alert policy expression.
type AlertingConfig struct {
	Expression string `json:"expression" koanf:"expression"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" koanf:"level"`   // debug, info, warn, error
	Format string `json:"format" koanf:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" koanf:"enabled"`
	ServiceName  string `json:"serviceName" koanf:"service_name"`
	ExporterType string `json:"exporterType" koanf:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint" koanf:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis + Kafka
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Model: ModelConfig{
			ArtifactDir:  "./artifacts",
			Timezone:     "America/Chicago",
			FetchRetries: 5,
		},
		Training: TrainingConfig{
			NumTrees:      200,
			SampleSize:    256,
			Contamination: 0.015,
			Bootstrap:     true,
			Seed:          42,
		},
		Generator: GeneratorConfig{
			Count: 100000,
			Seed:  42,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./spendguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ResultTTL:    24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Notifier: NotifierConfig{
			Type:    "noop",
			Timeout: 5 * time.Second,
		},
		Alerting: AlertingConfig{
			Expression: "is_anomalous",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "spendguard",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "spendguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		ResultTTL:      24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "spendguard-workers",
	}
	cfg.Notifier = NotifierConfig{
		Type:         "kafka",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "spendguard-alerts",
		Timeout:      5 * time.Second,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
