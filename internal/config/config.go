package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig      `yaml:"store" mapstructure:"store"`
	Fetch     FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Scrape    ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Campaigns []CampaignConfig `yaml:"campaigns" mapstructure:"campaigns"`
	Log       LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// SQLitePath is used when Driver is "sqlite".
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns   int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns   int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FetchConfig configures how remote fact feeds are downloaded.
type FetchConfig struct {
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries   int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerHost  float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	Burst        int     `yaml:"burst" mapstructure:"burst"`
	CacheTTLMins int     `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
}

// ScrapeConfig configures the campaign engine.
type ScrapeConfig struct {
	MaxConcurrentCampaigns int `yaml:"max_concurrent_campaigns" mapstructure:"max_concurrent_campaigns"`
	// MinIntervalHours applies to campaigns without their own min_interval.
	// Zero means always due.
	MinIntervalHours float64 `yaml:"min_interval_hours" mapstructure:"min_interval_hours"`
	// Whitelist restricts a run to these campaigns and skips throttling.
	Whitelist []string `yaml:"whitelist" mapstructure:"whitelist"`
	// CommitAttempts bounds tries of a commit that fails on lock contention
	// or a dropped connection.
	CommitAttempts int `yaml:"commit_attempts" mapstructure:"commit_attempts"`
}

// CampaignConfig describes one campaign's fact feed.
type CampaignConfig struct {
	ID     string `yaml:"id" mapstructure:"id"`
	Format string `yaml:"format" mapstructure:"format"`
	Path   string `yaml:"path" mapstructure:"path"`
	URL    string `yaml:"url" mapstructure:"url"`
	// MinInterval is a Go duration string such as "146h".
	MinInterval   string `yaml:"min_interval" mapstructure:"min_interval"`
	Sheet         string `yaml:"sheet" mapstructure:"sheet"`
	ListSeparator string `yaml:"list_separator" mapstructure:"list_separator"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. With an empty path it
// looks for an optional config.yaml in the working directory; a named file
// must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("RATINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "data.sqlite")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("fetch.user_agent", "brand-ratings/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_host", 2.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.cache_ttl_mins", 30)
	v.SetDefault("scrape.max_concurrent_campaigns", 4)
	v.SetDefault("scrape.min_interval_hours", 0)
	v.SetDefault("scrape.whitelist", []string{})
	v.SetDefault("scrape.commit_attempts", 3)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the settings a scrape run needs.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	case "memory":
	default:
		errs = append(errs, "store.driver must be one of sqlite, postgres, memory")
	}

	if c.Scrape.MaxConcurrentCampaigns < 1 || c.Scrape.MaxConcurrentCampaigns > 32 {
		errs = append(errs, "scrape.max_concurrent_campaigns must be between 1 and 32")
	}
	if c.Scrape.CommitAttempts < 1 {
		errs = append(errs, "scrape.commit_attempts must be >= 1")
	}
	if c.Scrape.MinIntervalHours < 0 {
		errs = append(errs, "scrape.min_interval_hours must be >= 0")
	}

	seen := make(map[string]bool, len(c.Campaigns))
	for i, camp := range c.Campaigns {
		if camp.ID == "" {
			errs = append(errs, fmt.Sprintf("campaigns[%d].id is required", i))
			continue
		}
		if seen[camp.ID] {
			errs = append(errs, "campaign "+camp.ID+" is defined twice")
		}
		seen[camp.ID] = true
		if (camp.Path == "") == (camp.URL == "") {
			errs = append(errs, "campaign "+camp.ID+" needs exactly one of path or url")
		}
		if _, err := camp.Interval(0); err != nil {
			errs = append(errs, "campaign "+camp.ID+" has an invalid min_interval")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Interval returns the campaign's minimum re-scrape interval, or def when
// none is set.
func (c CampaignConfig) Interval(def time.Duration) (time.Duration, error) {
	if c.MinInterval == "" {
		return def, nil
	}
	d, err := time.ParseDuration(c.MinInterval)
	if err != nil {
		return 0, eris.Wrapf(err, "config: campaign %s min_interval", c.ID)
	}
	if d < 0 {
		return 0, eris.Errorf("config: campaign %s min_interval is negative", c.ID)
	}
	return d, nil
}

// DefaultInterval returns scrape.min_interval_hours as a duration.
func (s ScrapeConfig) DefaultInterval() time.Duration {
	return time.Duration(s.MinIntervalHours * float64(time.Hour))
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}

	zap.ReplaceGlobals(logger)
	return nil
}
