package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Collab   CollabConfig   `mapstructure:"collab"`
	Import   ImportConfig   `mapstructure:"import"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port" validate:"gt=0,lte=65535"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // s3, local
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	PublicURL string `mapstructure:"public_url"`
}

type LLMConfig struct {
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// Shared resilience limits, enforced across all workers.
	DailyBudgetUSD   float64 `mapstructure:"daily_budget_usd" validate:"gte=0"`
	QPM              int     `mapstructure:"qpm" validate:"gte=0"`
	TPM              int     `mapstructure:"tpm" validate:"gte=0"`
	CircuitThreshold int     `mapstructure:"circuit_threshold" validate:"gte=1"`
	CircuitWindow    time.Duration `mapstructure:"circuit_window"`
	CircuitOpenFor   time.Duration `mapstructure:"circuit_open_for"`
}

type PipelineConfig struct {
	PageConcurrency  int    `mapstructure:"page_concurrency" validate:"gte=1"`
	ChunkThreshold   int    `mapstructure:"chunk_threshold" validate:"gte=1"`
	ChunkSize        int    `mapstructure:"chunk_size" validate:"gte=1"`
	ChunkSlack       int    `mapstructure:"chunk_slack" validate:"gte=0"`
	PageLLMBudget    int    `mapstructure:"page_llm_budget" validate:"gte=0"`
	ProfileName      string `mapstructure:"profile_name"`
	ParseWorkers     int    `mapstructure:"parse_workers" validate:"gte=1"`
}

type GatewayConfig struct {
	MaxPages          int           `mapstructure:"max_pages" validate:"gte=1"`
	MaxFileSize       int64         `mapstructure:"max_file_size" validate:"gte=1"`
	SecurityTimeout   time.Duration `mapstructure:"security_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTTL      time.Duration `mapstructure:"heartbeat_ttl"`
	OrphanMaxRequeue  int           `mapstructure:"orphan_max_requeue" validate:"gte=0"`
	OrphanCooldown    time.Duration `mapstructure:"orphan_cooldown"`
}

type CollabConfig struct {
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	MaxActivePerUser  int           `mapstructure:"max_active_per_user" validate:"gte=1"`
	AutoAcceptMinConf float64       `mapstructure:"auto_accept_min_conf" validate:"gte=0,lte=1"`
	AuditSampleRate   float64       `mapstructure:"audit_sample_rate" validate:"gte=0,lte=1"`
	// SupervisorWebhook receives critical SLA alerts; empty disables them.
	SupervisorWebhook string `mapstructure:"supervisor_webhook"`
}

type ImportConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0"`
	WindowSize     int           `mapstructure:"window_size" validate:"gte=1"`
	WindowMin      int           `mapstructure:"window_min" validate:"gte=1"`
	FailRateLimit  float64       `mapstructure:"fail_rate_limit" validate:"gte=0,lte=1"`
	ThrottlePause  time.Duration `mapstructure:"throttle_pause"`
	AssumedMaxAge  time.Duration `mapstructure:"assumed_max_age"`
	ReconcileEvery time.Duration `mapstructure:"reconcile_every"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/skuflow.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "skuflow")
	v.SetDefault("storage.local_dir", "./data/objects")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.daily_budget_usd", 50.0)
	v.SetDefault("llm.qpm", 60)
	v.SetDefault("llm.tpm", 100000)
	v.SetDefault("llm.circuit_threshold", 5)
	v.SetDefault("llm.circuit_window", 60*time.Second)
	v.SetDefault("llm.circuit_open_for", 60*time.Second)
	v.SetDefault("pipeline.page_concurrency", 5)
	v.SetDefault("pipeline.chunk_threshold", 100)
	v.SetDefault("pipeline.chunk_size", 50)
	v.SetDefault("pipeline.chunk_slack", 10)
	v.SetDefault("pipeline.page_llm_budget", 6)
	v.SetDefault("pipeline.profile_name", "default")
	v.SetDefault("pipeline.parse_workers", 4)
	v.SetDefault("gateway.max_pages", 1000)
	v.SetDefault("gateway.max_file_size", int64(200*1024*1024))
	v.SetDefault("gateway.security_timeout", 30*time.Second)
	v.SetDefault("gateway.heartbeat_interval", 30*time.Second)
	v.SetDefault("gateway.heartbeat_ttl", 90*time.Second)
	v.SetDefault("gateway.orphan_max_requeue", 3)
	v.SetDefault("gateway.orphan_cooldown", 5*time.Minute)
	v.SetDefault("collab.lock_timeout", 300*time.Second)
	v.SetDefault("collab.heartbeat_interval", 30*time.Second)
	v.SetDefault("collab.sweep_interval", 60*time.Second)
	v.SetDefault("collab.max_active_per_user", 10)
	v.SetDefault("collab.auto_accept_min_conf", 0.6)
	v.SetDefault("collab.audit_sample_rate", 0.05)
	v.SetDefault("collab.supervisor_webhook", "")
	v.SetDefault("import.endpoint", "http://localhost:9090")
	v.SetDefault("import.timeout", 30*time.Second)
	v.SetDefault("import.max_retries", 3)
	v.SetDefault("import.window_size", 50)
	v.SetDefault("import.window_min", 10)
	v.SetDefault("import.fail_rate_limit", 0.2)
	v.SetDefault("import.throttle_pause", 5*time.Second)
	v.SetDefault("import.assumed_max_age", 24*time.Hour)
	v.SetDefault("import.reconcile_every", 5*time.Minute)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("llm.api_key", "OPENAI_API_KEY")
	v.BindEnv("llm.base_url", "OPENAI_BASE_URL")
	v.BindEnv("llm.model", "LLM_MODEL")
	v.BindEnv("import.endpoint", "IMPORT_ENDPOINT")
	v.BindEnv("import.api_key", "IMPORT_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
