package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fx-price-feeder/internal/logging"
	"fx-price-feeder/internal/pricing"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	CrossCheck CrossCheckConfig `mapstructure:"crosscheck"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Reports    ReportsConfig    `mapstructure:"reports"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	API        APIConfig        `mapstructure:"api"`
	Export     ExportConfig     `mapstructure:"export"`
	Assets     []AssetConfig    `mapstructure:"assets"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. A blank DSN disables
// persistence entirely.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// MonitorConfig governs the daemon loop.
type MonitorConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Jitter          time.Duration `mapstructure:"jitter"`
	SkipThreshold   int           `mapstructure:"skip_threshold"`
	PauseCooldown   time.Duration `mapstructure:"pause_cooldown"`
	AlertCeiling    int           `mapstructure:"alert_ceiling"`
	BackoffCeiling  time.Duration `mapstructure:"backoff_ceiling"`
	Commit          bool          `mapstructure:"commit"`
	SafeMode        bool          `mapstructure:"safe_mode"`
	VerifyCommand   []string      `mapstructure:"verify_command"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ProvidersConfig groups the upstream price sources.
type ProvidersConfig struct {
	Market MarketConfig `mapstructure:"market"`
	Backup BackupConfig `mapstructure:"backup"`
	Gold   GoldConfig   `mapstructure:"gold"`
	Cache  CacheConfig  `mapstructure:"cache"`
}

// MarketConfig covers the primary market data feed.
type MarketConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// BackupConfig covers the secondary quote service.
type BackupConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// GoldConfig covers the bullion-only source.
type GoldConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AccessToken    string        `mapstructure:"access_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CacheConfig tunes the last-known-good store.
type CacheConfig struct {
	TTL  time.Duration `mapstructure:"ttl"`
	Path string        `mapstructure:"path"`
}

// CrossCheckConfig tunes the independent reference checker.
type CrossCheckConfig struct {
	BaseURL             string            `mapstructure:"base_url"`
	RequestTimeout      time.Duration     `mapstructure:"request_timeout"`
	FXThresholdPct      float64           `mapstructure:"fx_threshold_pct"`
	BullionThresholdPct float64           `mapstructure:"bullion_threshold_pct"`
	Overrides           map[string]string `mapstructure:"overrides"`
}

// OracleConfig covers the on-chain commit target.
type OracleConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	PrivateKey      string        `mapstructure:"private_key"`
	ChainID         int64         `mapstructure:"chain_id"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	BatchEnabled    bool          `mapstructure:"batch_enabled"`
	GasLimit        uint64        `mapstructure:"gas_limit"`
}

// ReportsConfig sets report output behaviour.
type ReportsConfig struct {
	Dir       string `mapstructure:"dir"`
	Retention int    `mapstructure:"retention"`
}

// WebhookConfig routes cycle notifications.
type WebhookConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// APIConfig governs the status HTTP server.
type APIConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Listen         string   `mapstructure:"listen"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int    `mapstructure:"max_data_points"`
	OutputDir     string `mapstructure:"output_dir"`
}

// AssetConfig declares one asset of the polling universe.
type AssetConfig struct {
	Symbol    string   `mapstructure:"symbol"`
	Providers []string `mapstructure:"providers"`
	Watch     bool     `mapstructure:"watch"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FXFEEDD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Operational kill switch; deliberately short so it can be set in a
	// hurry: FXFEEDD_SAFE_MODE=1 fxfeedd run
	_ = v.BindEnv("monitor.safe_mode", "FXFEEDD_SAFE_MODE")

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fxfeedd")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("monitor.interval", "5m")
	v.SetDefault("monitor.jitter", "30s")
	v.SetDefault("monitor.skip_threshold", 3)
	v.SetDefault("monitor.pause_cooldown", "1h")
	v.SetDefault("monitor.alert_ceiling", 3)
	v.SetDefault("monitor.backoff_ceiling", "30m")
	v.SetDefault("monitor.commit", false)
	v.SetDefault("monitor.advisory_lock_key", int64(0x66786664))

	v.SetDefault("providers.market.request_timeout", "10s")
	v.SetDefault("providers.backup.request_timeout", "10s")
	v.SetDefault("providers.gold.request_timeout", "10s")
	v.SetDefault("providers.cache.ttl", "10m")
	v.SetDefault("providers.cache.path", "cache/prices.json")

	v.SetDefault("crosscheck.request_timeout", "10s")
	v.SetDefault("crosscheck.fx_threshold_pct", 0.5)
	v.SetDefault("crosscheck.bullion_threshold_pct", 1.5)

	v.SetDefault("oracle.request_timeout", "30s")
	v.SetDefault("oracle.batch_enabled", true)
	v.SetDefault("oracle.gas_limit", uint64(600_000))

	v.SetDefault("reports.dir", "reports")
	v.SetDefault("reports.retention", 50)

	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.request_timeout", "10s")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.allowed_origins", []string{"*"})

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.output_dir", "exports")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be greater than zero")
	}
	if c.Monitor.SkipThreshold <= 0 {
		return fmt.Errorf("monitor.skip_threshold must be greater than zero")
	}
	if c.Reports.Retention <= 0 {
		return fmt.Errorf("reports.retention must be greater than zero")
	}
	if c.CrossCheck.FXThresholdPct < 0 || c.CrossCheck.BullionThresholdPct < 0 {
		return fmt.Errorf("crosscheck thresholds cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	for _, asset := range c.Assets {
		if _, _, err := pricing.SplitPair(strings.ToUpper(asset.Symbol)); err != nil {
			return fmt.Errorf("assets: %w", err)
		}
		if len(asset.Providers) == 0 {
			return fmt.Errorf("assets: %s declares no providers", asset.Symbol)
		}
	}

	if c.Monitor.Commit {
		if c.Oracle.RPCURL == "" {
			return fmt.Errorf("oracle.rpc_url is required when monitor.commit is set")
		}
		if c.Oracle.ContractAddress == "" {
			return fmt.Errorf("oracle.contract_address is required when monitor.commit is set")
		}
		if c.Oracle.PrivateKey == "" {
			return fmt.Errorf("oracle.private_key is required when monitor.commit is set")
		}
		if c.Oracle.ChainID == 0 {
			return fmt.Errorf("oracle.chain_id is required when monitor.commit is set")
		}
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("webhook.url is required when webhook.enabled is set")
	}
	return nil
}

// AssetUniverse converts the configured asset list to the pricing model.
func (c *Config) AssetUniverse() []pricing.Asset {
	assets := make([]pricing.Asset, 0, len(c.Assets))
	for _, a := range c.Assets {
		symbol := strings.ToUpper(a.Symbol)
		assets = append(assets, pricing.Asset{
			Symbol:    symbol,
			Class:     pricing.ClassOf(symbol),
			Providers: a.Providers,
			Watch:     a.Watch,
		})
	}
	return assets
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
