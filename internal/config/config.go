package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"farm-exporter/internal/logging"
)

// ErrInvalid marks configuration that cannot be used to start the exporter.
var ErrInvalid = errors.New("invalid configuration")

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Sources  SourcesConfig  `mapstructure:"sources"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig covers the metrics listener.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WatchdogConfig governs the shutdown decision.
type WatchdogConfig struct {
	Mode            string        `mapstructure:"mode"`
	CheckInterval   time.Duration `mapstructure:"check_interval"`
	ErrorThreshold  time.Duration `mapstructure:"error_threshold"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SourcesConfig lists every supported source.
type SourcesConfig struct {
	ChiaNode ChiaNodeConfig `mapstructure:"chia_node"`
	OpenChia PoolConfig     `mapstructure:"openchia"`
	TruePool PoolConfig     `mapstructure:"truepool"`
}

// ChiaNodeConfig covers the local node RPC services.
type ChiaNodeConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	Host            string        `mapstructure:"host"`
	SSLDir          string        `mapstructure:"ssl_dir"`
	FullNodePort    int           `mapstructure:"full_node_port"`
	WalletPort      int           `mapstructure:"wallet_port"`
	HarvesterPort   int           `mapstructure:"harvester_port"`
	WalletID        int           `mapstructure:"wallet_id"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	AddressFilter   []string      `mapstructure:"address_filter"`
	FeeTolerance    string        `mapstructure:"fee_tolerance"`
	HistoryPageSize int           `mapstructure:"history_page_size"`
	HistoryLimit    int           `mapstructure:"history_limit"`
	MinVersion      string        `mapstructure:"min_version"`
}

// PoolConfig covers a pool REST API.
type PoolConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	BaseURL         string        `mapstructure:"base_url"`
	LauncherID      string        `mapstructure:"launcher_id"`
	Currency        string        `mapstructure:"currency"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	HistoryPageSize int           `mapstructure:"history_page_size"`
	HistoryLimit    int           `mapstructure:"history_limit"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FARMEXPORTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
		return nil, fmt.Errorf("%w: unmarshal config: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("%w: read config: %v", ErrInvalid, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "farm-exporter")
	v.SetDefault("app.environment", "production")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.listen_addr", ":9840")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("watchdog.mode", "passive")
	v.SetDefault("watchdog.check_interval", "60s")
	v.SetDefault("watchdog.error_threshold", "600s")
	v.SetDefault("watchdog.startup_delay", "0s")
	v.SetDefault("watchdog.shutdown_timeout", "30s")

	v.SetDefault("sources.chia_node.enabled", false)
	v.SetDefault("sources.chia_node.interval", "60s")
	v.SetDefault("sources.chia_node.host", "localhost")
	v.SetDefault("sources.chia_node.ssl_dir", "")
	v.SetDefault("sources.chia_node.full_node_port", 8555)
	v.SetDefault("sources.chia_node.wallet_port", 9256)
	v.SetDefault("sources.chia_node.harvester_port", 8560)
	v.SetDefault("sources.chia_node.wallet_id", 1)
	v.SetDefault("sources.chia_node.request_timeout", "10s")
	v.SetDefault("sources.chia_node.address_filter", []string{})
	v.SetDefault("sources.chia_node.fee_tolerance", "0.001")
	v.SetDefault("sources.chia_node.history_page_size", 500)
	v.SetDefault("sources.chia_node.history_limit", 0)
	v.SetDefault("sources.chia_node.min_version", "2.1.0")

	v.SetDefault("sources.openchia.enabled", false)
	v.SetDefault("sources.openchia.interval", "300s")
	v.SetDefault("sources.openchia.base_url", "https://openchia.io/api/v1.0")
	v.SetDefault("sources.openchia.launcher_id", "")
	v.SetDefault("sources.openchia.currency", "usd")
	v.SetDefault("sources.openchia.request_timeout", "10s")
	v.SetDefault("sources.openchia.user_agent", "")
	v.SetDefault("sources.openchia.history_page_size", 500)
	v.SetDefault("sources.openchia.history_limit", 2000)

	v.SetDefault("sources.truepool.enabled", false)
	v.SetDefault("sources.truepool.interval", "300s")
	v.SetDefault("sources.truepool.base_url", "https://truepool.io/v1/pool")
	v.SetDefault("sources.truepool.launcher_id", "")
	v.SetDefault("sources.truepool.request_timeout", "10s")
	v.SetDefault("sources.truepool.user_agent", "")
	v.SetDefault("sources.truepool.history_page_size", 500)
	v.SetDefault("sources.truepool.history_limit", 2000)
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

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(strings.TrimSpace(c.Watchdog.Mode)) {
	case "passive", "threshold":
	default:
		fail("watchdog.mode must be passive or threshold, got %q", c.Watchdog.Mode)
	}
	if c.Watchdog.CheckInterval <= 0 {
		fail("watchdog.check_interval must be greater than zero")
	}
	if c.Watchdog.ErrorThreshold <= 0 {
		fail("watchdog.error_threshold must be greater than zero")
	}
	if c.Watchdog.StartupDelay < 0 {
		fail("watchdog.startup_delay cannot be negative")
	}
	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		fail("server.listen_addr must be set")
	}

	enabled := 0
	if n := c.Sources.ChiaNode; n.Enabled {
		enabled++
		if n.Interval <= 0 {
			fail("sources.chia_node.interval must be greater than zero")
		}
		if strings.TrimSpace(n.SSLDir) == "" {
			fail("sources.chia_node.ssl_dir must be set")
		}
		for name, port := range map[string]int{"full_node_port": n.FullNodePort, "wallet_port": n.WalletPort, "harvester_port": n.HarvesterPort} {
			if port <= 0 || port > 65535 {
				fail("sources.chia_node.%s must be a valid port", name)
			}
		}
		if tol, err := decimal.NewFromString(n.FeeTolerance); err != nil {
			fail("sources.chia_node.fee_tolerance is not a number: %q", n.FeeTolerance)
		} else if tol.IsNegative() {
			fail("sources.chia_node.fee_tolerance cannot be negative")
		}
		if n.HistoryLimit < 0 {
			fail("sources.chia_node.history_limit cannot be negative")
		}
	}
	for name, p := range map[string]PoolConfig{"openchia": c.Sources.OpenChia, "truepool": c.Sources.TruePool} {
		if !p.Enabled {
			continue
		}
		enabled++
		if p.Interval <= 0 {
			fail("sources.%s.interval must be greater than zero", name)
		}
		if strings.TrimSpace(p.LauncherID) == "" {
			fail("sources.%s.launcher_id must be set", name)
		}
		if p.HistoryLimit < 0 {
			fail("sources.%s.history_limit cannot be negative", name)
		}
	}
	if enabled == 0 {
		fail("at least one source must be enabled")
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

// Tolerance returns the parsed fee tolerance; Validate rejects bad values.
func (c ChiaNodeConfig) Tolerance() decimal.Decimal {
	tol, err := decimal.NewFromString(c.FeeTolerance)
	if err != nil {
		return decimal.Zero
	}
	return tol
}
