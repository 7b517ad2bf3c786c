package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Price     PriceConfig     `mapstructure:"price"`
	Swap      SwapConfig      `mapstructure:"swap"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Batch     BatchConfig     `mapstructure:"batch"`
}

type AppConfig struct {
	Name            string `mapstructure:"name"`
	Environment     string `mapstructure:"environment"`
	APIPort         int    `mapstructure:"api_port"`
	APIKey          string `mapstructure:"api_key"`
	CORSAllowOrigin string `mapstructure:"cors_allow_origin"`
	WebhookURL      string `mapstructure:"webhook_url"`
}

// DBConfig selects the order store. Driver is one of postgres, sqlite or memory.
type DBConfig struct {
	Driver     string `mapstructure:"driver"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Name       string `mapstructure:"name"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxConns   int32  `mapstructure:"max_conns"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

type PriceConfig struct {
	CoinGeckoBaseURL string            `mapstructure:"coingecko_base_url"`
	APIKey           string            `mapstructure:"api_key"`
	CacheTTL         time.Duration     `mapstructure:"cache_ttl"`
	MaxAge           time.Duration     `mapstructure:"max_age"`
	AssetIDs         map[string]string `mapstructure:"asset_ids"`
}

type SwapConfig struct {
	Provider             string        `mapstructure:"provider"`
	BaseURL              string        `mapstructure:"base_url"`
	Secret               string        `mapstructure:"secret"`
	AffiliateID          string        `mapstructure:"affiliate_id"`
	Timeout              time.Duration `mapstructure:"timeout"`
	PaperSlippagePercent float64       `mapstructure:"paper_slippage_percent"`
}

type SchedulerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
	OrderMaxAge time.Duration `mapstructure:"order_max_age"`
}

type RiskConfig struct {
	MaxActiveOrdersPerOwner int `mapstructure:"max_active_orders_per_owner"`
	MaxBatchLegs            int `mapstructure:"max_batch_legs"`
}

type BatchConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

// Load reads .env, an optional YAML file and the environment, in increasing
// precedence. Keys map to env vars by upper-casing and replacing dots, so
// db.host is DB_HOST and scheduler.interval is SCHEDULER_INTERVAL.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config_file")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file %q not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Price.AssetIDs = normalizeAssetIDs(cfg.Price.AssetIDs)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_file", "")

	v.SetDefault("app.name", "SwapSmithOrders")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.api_port", 3001)
	v.SetDefault("app.api_key", "")
	v.SetDefault("app.cors_allow_origin", "*")
	v.SetDefault("app.webhook_url", "")

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "swapsmith_orders")
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sqlite_path", "data/orders.db")
	v.SetDefault("db.max_conns", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)

	v.SetDefault("price.coingecko_base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("price.api_key", "")
	v.SetDefault("price.cache_ttl", "10s")
	v.SetDefault("price.max_age", "5m")
	v.SetDefault("price.asset_ids", map[string]string{})

	v.SetDefault("swap.provider", "paper")
	v.SetDefault("swap.base_url", "https://sideshift.ai/api/v2")
	v.SetDefault("swap.secret", "")
	v.SetDefault("swap.affiliate_id", "")
	v.SetDefault("swap.timeout", "20s")
	v.SetDefault("swap.paper_slippage_percent", 0.5)

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.concurrency", 8)
	v.SetDefault("scheduler.order_max_age", "720h")

	v.SetDefault("risk.max_active_orders_per_owner", 25)
	v.SetDefault("risk.max_batch_legs", 10)

	v.SetDefault("batch.retention", "24h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func normalizeAssetIDs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}

func (c *Config) Validate() error {
	var err error

	if c.App.APIPort <= 0 || c.App.APIPort > 65535 {
		err = multierr.Append(err, fmt.Errorf("app.api_port must be in [1,65535], got %d", c.App.APIPort))
	}

	switch c.DB.Driver {
	case "postgres":
		if c.DB.Host == "" || c.DB.Name == "" {
			err = multierr.Append(err, errors.New("db.host and db.name are required for the postgres driver"))
		}
		if c.DB.User == "" {
			err = multierr.Append(err, errors.New("DB_USER is required for the postgres driver"))
		}
		if c.DB.MaxConns <= 0 {
			err = multierr.Append(err, errors.New("db.max_conns must be greater than 0"))
		}
	case "sqlite":
		if c.DB.SQLitePath == "" {
			err = multierr.Append(err, errors.New("db.sqlite_path is required for the sqlite driver"))
		}
	case "memory":
	default:
		err = multierr.Append(err, fmt.Errorf("db.driver %q is not one of postgres|sqlite|memory", c.DB.Driver))
	}

	switch c.Logging.Encoding {
	case "console", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("logging.encoding %q is not one of console|json", c.Logging.Encoding))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level is required"))
	}

	if c.Price.CoinGeckoBaseURL == "" {
		err = multierr.Append(err, errors.New("price.coingecko_base_url is required"))
	}
	if c.Price.MaxAge <= 0 {
		err = multierr.Append(err, errors.New("price.max_age must be greater than 0"))
	}
	if c.Price.CacheTTL < 0 || c.Price.CacheTTL >= c.Price.MaxAge {
		err = multierr.Append(err, errors.New("price.cache_ttl must be in [0, price.max_age)"))
	}

	switch c.Swap.Provider {
	case "paper":
		if c.Swap.PaperSlippagePercent < 0 || c.Swap.PaperSlippagePercent > 10 {
			err = multierr.Append(err, errors.New("swap.paper_slippage_percent must be in [0,10]"))
		}
	case "sideshift":
		if c.Swap.BaseURL == "" {
			err = multierr.Append(err, errors.New("swap.base_url is required for the sideshift provider"))
		}
		if c.Swap.Secret == "" {
			err = multierr.Append(err, errors.New("SWAP_SECRET is required for the sideshift provider"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("swap.provider %q is not one of paper|sideshift", c.Swap.Provider))
	}
	if c.Swap.Timeout <= 0 {
		err = multierr.Append(err, errors.New("swap.timeout must be greater than 0"))
	}

	if c.Scheduler.Interval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.interval must be greater than 0"))
	}
	if c.Scheduler.Concurrency <= 0 {
		err = multierr.Append(err, errors.New("scheduler.concurrency must be greater than 0"))
	}
	if c.Scheduler.OrderMaxAge < 0 {
		err = multierr.Append(err, errors.New("scheduler.order_max_age must not be negative"))
	}

	if c.Risk.MaxActiveOrdersPerOwner < 0 || c.Risk.MaxBatchLegs < 0 {
		err = multierr.Append(err, errors.New("risk limits must not be negative"))
	}
	if c.Batch.Retention <= 0 {
		err = multierr.Append(err, errors.New("batch.retention must be greater than 0"))
	}

	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Warnings lists non-fatal configuration concerns.
func (c *Config) Warnings() []string {
	var out []string
	if c.App.APIKey == "" {
		out = append(out, "API_KEY not set - REST API has no authentication")
	}
	if c.Swap.Provider == "paper" {
		out = append(out, "SWAP_PROVIDER=paper - triggered orders and batch legs are simulated")
	}
	if c.Scheduler.OrderMaxAge == 0 {
		out = append(out, "SCHEDULER_ORDER_MAX_AGE=0 - pending orders never expire")
	}
	if c.Risk.MaxActiveOrdersPerOwner == 0 {
		out = append(out, "RISK_MAX_ACTIVE_ORDERS_PER_OWNER=0 - no per-owner order limit")
	}
	return out
}

// Print logs a redacted summary of the effective configuration.
func (c *Config) Print(logger *zap.Logger) {
	logger.Info("configuration loaded",
		zap.String("app", c.App.Name),
		zap.String("environment", c.App.Environment),
		zap.Int("api_port", c.App.APIPort),
		zap.String("db_driver", c.DB.Driver),
		zap.String("db_target", c.dbTarget()),
		zap.String("swap_provider", c.Swap.Provider),
		zap.String("price_source", c.Price.CoinGeckoBaseURL),
		zap.Duration("scheduler_interval", c.Scheduler.Interval),
		zap.Int("scheduler_concurrency", c.Scheduler.Concurrency),
		zap.Duration("order_max_age", c.Scheduler.OrderMaxAge),
		zap.Int("max_active_orders_per_owner", c.Risk.MaxActiveOrdersPerOwner),
		zap.Int("max_batch_legs", c.Risk.MaxBatchLegs),
		zap.String("webhook", boolLabel(c.App.WebhookURL != "", "configured", "not set")),
		zap.String("auth", boolLabel(c.App.APIKey != "", "bearer", "disabled")),
	)
	for _, w := range c.Warnings() {
		logger.Warn(w)
	}
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

func (c *Config) dbTarget() string {
	switch c.DB.Driver {
	case "postgres":
		return fmt.Sprintf("%s:%d/%s", c.DB.Host, c.DB.Port, c.DB.Name)
	case "sqlite":
		return c.DB.SQLitePath
	default:
		return "in-memory"
	}
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
