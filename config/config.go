// Package config carrega a configuração do gateway: defaults, config.yaml opcional,
// arquivo .env e variáveis CALLERID_* (nessa ordem de precedência crescente).
package config

import (
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "CALLERID"

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
	LogDevelopment  bool          `mapstructure:"log_development"`

	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	RedisPrefix    string `mapstructure:"redis_prefix"`
	// COUNT por página do SCAN usado no snapshot de reservas.
	RedisScanCount int64 `mapstructure:"redis_scan_count"`

	CatalogDriver    string `mapstructure:"catalog_driver"`
	PostgresDSN      string `mapstructure:"postgres_dsn"`
	PostgresMaxConns int32  `mapstructure:"postgres_max_conns"`
	SQLitePath       string `mapstructure:"sqlite_path"`

	ReservationTTL       time.Duration `mapstructure:"reservation_ttl"`
	DefaultDailyLimit    int           `mapstructure:"default_daily_limit"`
	DefaultHourlyLimit   int           `mapstructure:"default_hourly_limit"`
	DefaultCooldown      time.Duration `mapstructure:"default_cooldown"`
	AgentRateLimitPerMin int           `mapstructure:"agent_rate_limit_per_min"`
	CandidatePageSize    int           `mapstructure:"candidate_page_size"`
	StoreOpTimeout       time.Duration `mapstructure:"store_op_timeout"`
	PreloadRotation      bool          `mapstructure:"preload_rotation"`
	SeedFile             string        `mapstructure:"seed_file"`

	RequestLogLimit int           `mapstructure:"request_log_limit"`
	StatsTTL        time.Duration `mapstructure:"stats_ttl"`

	// Proteção por cliente HTTP (IP ou header).
	IPRatePerMin       float64       `mapstructure:"ip_rate_per_min"`
	IPRateBurst        int           `mapstructure:"ip_rate_burst"`
	ClientKeyHeader    string        `mapstructure:"client_key_header"`
	TrustXFF           bool          `mapstructure:"trust_xff"`
	ConcurrencyMax     int           `mapstructure:"concurrency_max"`
	ConcurrencyTimeout time.Duration `mapstructure:"concurrency_timeout"`

	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_development", false)

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_prefix", "cid")
	v.SetDefault("redis_scan_count", 200)

	v.SetDefault("catalog_driver", DriverPostgres)
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("postgres_max_conns", 10)
	v.SetDefault("sqlite_path", "callerid.db")

	v.SetDefault("reservation_ttl", 300*time.Second)
	v.SetDefault("default_daily_limit", 1000)
	v.SetDefault("default_hourly_limit", 100)
	v.SetDefault("default_cooldown", time.Duration(0))
	v.SetDefault("agent_rate_limit_per_min", 100)
	v.SetDefault("candidate_page_size", 100)
	v.SetDefault("store_op_timeout", 250*time.Millisecond)
	v.SetDefault("preload_rotation", true)
	v.SetDefault("seed_file", "")

	v.SetDefault("request_log_limit", 50)
	v.SetDefault("stats_ttl", 24*time.Hour)

	v.SetDefault("ip_rate_per_min", 200.0)
	v.SetDefault("ip_rate_burst", 20)
	v.SetDefault("client_key_header", "")
	v.SetDefault("trust_xff", false)
	v.SetDefault("concurrency_max", 100)
	v.SetDefault("concurrency_timeout", time.Duration(0))

	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject", "callerid.allocations")
}

// Load monta a Config. configFile vazio procura config.yaml no diretório atual
// (ausência não é erro); envFile vazio usa ".env".
func Load(configFile, envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Wrapf(err, "failed to load env file %s", envFile)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, errors.Wrap(err, "failed to read config.yaml")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode config")
	}
	cfg.CatalogDriver = strings.ToLower(strings.TrimSpace(cfg.CatalogDriver))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejeita combinações que o binário não consegue servir.
func (c Config) Validate() error {
	switch c.CatalogDriver {
	case DriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("POSTGRES_DSN is required when CATALOG_DRIVER=postgres")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("SQLITE_PATH is required when CATALOG_DRIVER=sqlite")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown CATALOG_DRIVER %q", c.CatalogDriver)
	}

	if strings.TrimSpace(c.RedisAddr) == "" {
		return errors.New("REDIS_ADDR is required")
	}
	if c.RedisScanCount <= 0 {
		return errors.New("REDIS_SCAN_COUNT must be > 0")
	}
	if c.ReservationTTL <= 0 {
		return errors.New("RESERVATION_TTL must be > 0")
	}
	if c.CandidatePageSize <= 0 {
		return errors.New("CANDIDATE_PAGE_SIZE must be > 0")
	}
	if c.DefaultDailyLimit < 0 || c.DefaultHourlyLimit < 0 {
		return errors.New("default limits must be >= 0")
	}
	if c.DefaultCooldown < 0 {
		return errors.New("DEFAULT_COOLDOWN must be >= 0")
	}
	if c.AgentRateLimitPerMin < 0 {
		return errors.New("AGENT_RATE_LIMIT_PER_MIN must be >= 0")
	}
	if c.IPRatePerMin < 0 || c.IPRateBurst < 0 {
		return errors.New("IP_RATE_PER_MIN and IP_RATE_BURST must be >= 0")
	}
	if c.ConcurrencyMax < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if c.RequestLogLimit <= 0 {
		return errors.New("REQUEST_LOG_LIMIT must be > 0")
	}
	return nil
}
