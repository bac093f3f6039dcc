package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is read from, in increasing precedence: built-in defaults, an
// optional YAML file, then the environment (including .env).
type Config struct {
	DBDriver    string `yaml:"db_driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	RedisAddr   string `yaml:"redis_address"`

	Shopify Shopify `yaml:"shopify"`
	Market  Market  `yaml:"market"`

	MatchThreshold   float64         `yaml:"match_threshold"`
	MatchSuggestions int             `yaml:"match_suggestions"`
	SyncTimeout      time.Duration   `yaml:"sync_timeout"`
	BatchWorkers     int             `yaml:"batch_workers"`
	DuplicateWindow  time.Duration   `yaml:"duplicate_window"`
	USDToCAD         decimal.Decimal `yaml:"usd_to_cad"`
	Markup           decimal.Decimal `yaml:"markup"`

	ServerPort string `yaml:"server_port"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
}

type Shopify struct {
	ShopURL     string `yaml:"shop_url"`
	AccessToken string `yaml:"access_token"`
	APIVersion  string `yaml:"api_version"`
	LocationID  string `yaml:"location_id"`
}

// Enabled reports whether enough is configured to talk to the shop.
func (s Shopify) Enabled() bool {
	return s.ShopURL != "" && s.AccessToken != ""
}

type Market struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
}

func Default() *Config {
	return &Config{
		DBDriver:         "postgres",
		SQLitePath:       "cardops.db",
		Shopify:          Shopify{APIVersion: "2025-01"},
		Market:           Market{APIURL: "https://api.pokemontcg.io/v2"},
		MatchThreshold:   0.80,
		MatchSuggestions: 5,
		SyncTimeout:      10 * time.Second,
		BatchWorkers:     4,
		DuplicateWindow:  24 * time.Hour,
		USDToCAD:         decimal.RequireFromString("1.35"),
		Markup:           decimal.RequireFromString("1.10"),
		ServerPort:       "8080",
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load builds the configuration. path may be empty, in which case
// CARDOPS_CONFIG is consulted; no file at all is fine.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("CARDOPS_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.mergeYAML(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("DB_DRIVER", &c.DBDriver)
	str("DATABASE_URL", &c.DatabaseURL)
	str("SQLITE_PATH", &c.SQLitePath)
	str("REDIS_ADDRESS", &c.RedisAddr)
	str("SHOPIFY_SHOP_URL", &c.Shopify.ShopURL)
	str("SHOPIFY_ACCESS_TOKEN", &c.Shopify.AccessToken)
	str("SHOPIFY_API_VERSION", &c.Shopify.APIVersion)
	str("SHOPIFY_LOCATION_ID", &c.Shopify.LocationID)
	str("MARKET_API_URL", &c.Market.APIURL)
	str("MARKET_API_KEY", &c.Market.APIKey)
	str("SERVER_PORT", &c.ServerPort)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	var errs []error
	if v := getenv("MATCH_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MATCH_THRESHOLD: %w", err))
		}
		c.MatchThreshold = f
	}
	for key, dst := range map[string]*int{"MATCH_SUGGESTIONS": &c.MatchSuggestions, "BATCH_WORKERS": &c.BatchWorkers} {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
			*dst = n
		}
	}
	for key, dst := range map[string]*time.Duration{"SYNC_TIMEOUT": &c.SyncTimeout, "DUPLICATE_WINDOW": &c.DuplicateWindow} {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
			*dst = d
		}
	}
	for key, dst := range map[string]*decimal.Decimal{"USD_TO_CAD": &c.USDToCAD, "MARKUP": &c.Markup} {
		if v := getenv(key); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
			*dst = d
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}

	if c.Shopify.ShopURL != "" && !strings.HasPrefix(c.Shopify.ShopURL, "https://") && !strings.HasPrefix(c.Shopify.ShopURL, "http://") {
		c.Shopify.ShopURL = "https://" + c.Shopify.ShopURL
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER is postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER is sqlite")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q (want postgres or sqlite)", c.DBDriver)
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("MATCH_THRESHOLD must be in (0, 1], got %v", c.MatchThreshold)
	}
	if c.MatchSuggestions <= 0 {
		return fmt.Errorf("MATCH_SUGGESTIONS must be positive, got %d", c.MatchSuggestions)
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be positive, got %d", c.BatchWorkers)
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("SYNC_TIMEOUT must be positive, got %s", c.SyncTimeout)
	}
	if c.DuplicateWindow < 0 {
		return fmt.Errorf("DUPLICATE_WINDOW cannot be negative, got %s", c.DuplicateWindow)
	}
	if !c.USDToCAD.IsPositive() || !c.Markup.IsPositive() {
		return fmt.Errorf("USD_TO_CAD and MARKUP must be positive")
	}
	if c.Shopify.Enabled() && c.Shopify.LocationID == "" {
		return fmt.Errorf("SHOPIFY_LOCATION_ID is required when Shopify is configured")
	}
	return nil
}
