// Package config loads the service configuration from a YAML file and
// SPIDER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/John-Robertt/spider-clash/internal/discover"
	"github.com/John-Robertt/spider-clash/internal/fetch"
	"github.com/John-Robertt/spider-clash/internal/probe"
	"github.com/John-Robertt/spider-clash/internal/publish"
	"github.com/John-Robertt/spider-clash/internal/render"
	"github.com/John-Robertt/spider-clash/internal/rules"
)

const EnvPrefix = "SPIDER"

type Config struct {
	Sources   []string        `mapstructure:"sources"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Output    OutputConfig    `mapstructure:"output"`
	Clash     ClashConfig     `mapstructure:"clash"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type CrawlerConfig struct {
	MaxRequests    int           `mapstructure:"max_requests"`
	MaxDepth       int           `mapstructure:"max_depth"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Concurrency    int           `mapstructure:"concurrency"`
	MaxBytes       int64         `mapstructure:"max_bytes"`
	UserAgent      string        `mapstructure:"user_agent"`
}

type ValidatorConfig struct {
	TimeoutMs   int  `mapstructure:"timeout_ms"`
	Attempts    int  `mapstructure:"attempts"`
	Concurrent  int  `mapstructure:"concurrent"`
	ThresholdMs int  `mapstructure:"threshold_ms"`
	Skip        bool `mapstructure:"skip"`
}

type OutputConfig struct {
	Dir                      string `mapstructure:"dir"`
	ClashFile                string `mapstructure:"clash_file"`
	SubscribeFile            string `mapstructure:"subscribe_file"`
	UnvalidatedClashFile     string `mapstructure:"unvalidated_clash_file"`
	UnvalidatedSubscribeFile string `mapstructure:"unvalidated_subscribe_file"`
	LogDir                   string `mapstructure:"log_dir"`
}

type ClashConfig struct {
	Port               int      `mapstructure:"port"`
	SocksPort          int      `mapstructure:"socks_port"`
	AllowLan           bool     `mapstructure:"allow_lan"`
	Mode               string   `mapstructure:"mode"`
	LogLevel           string   `mapstructure:"log_level"`
	ExternalController string   `mapstructure:"external_controller"`
	TestURL            string   `mapstructure:"test_url"`
	Interval           int      `mapstructure:"interval"` // seconds
	Rules              []string `mapstructure:"rules"`
}

// ScheduleConfig replaces a cron expression with a fixed period.
type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug|info|warn|error
	Format string `mapstructure:"format"` // json|console
}

func DefaultConfig() *Config {
	return &Config{
		Crawler: CrawlerConfig{
			MaxRequests:    50,
			MaxDepth:       2,
			RequestTimeout: 30 * time.Second,
			Concurrency:    8,
			MaxBytes:       5 * 1024 * 1024,
		},
		Validator: ValidatorConfig{
			TimeoutMs:   int(probe.DefaultTimeout / time.Millisecond),
			Attempts:    probe.DefaultAttempts,
			Concurrent:  probe.DefaultConcurrency,
			ThresholdMs: probe.DefaultThresholdMs,
		},
		Output: OutputConfig{
			Dir:                      "./output",
			ClashFile:                "clash.yaml",
			SubscribeFile:            "subscribe.txt",
			UnvalidatedClashFile:     "clash_all.yaml",
			UnvalidatedSubscribeFile: "subscribe_all.txt",
			LogDir:                   "./output/logs",
		},
		Clash: ClashConfig{
			Port:               7890,
			SocksPort:          7891,
			AllowLan:           true,
			Mode:               "Rule",
			LogLevel:           "info",
			ExternalController: "127.0.0.1:9090",
			TestURL:            "http://www.gstatic.com/generate_204",
			Interval:           300,
		},
		Schedule: ScheduleConfig{Interval: 4 * time.Hour},
		Server:   ServerConfig{Enabled: true, Listen: ":8080"},
		Redis:    RedisConfig{Addr: "127.0.0.1:6379", Prefix: "spider"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

// setDefaults registers every key so SPIDER_* variables apply even when the
// file leaves a key out.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("sources", c.Sources)

	v.SetDefault("crawler.max_requests", c.Crawler.MaxRequests)
	v.SetDefault("crawler.max_depth", c.Crawler.MaxDepth)
	v.SetDefault("crawler.request_timeout", c.Crawler.RequestTimeout)
	v.SetDefault("crawler.concurrency", c.Crawler.Concurrency)
	v.SetDefault("crawler.max_bytes", c.Crawler.MaxBytes)
	v.SetDefault("crawler.user_agent", c.Crawler.UserAgent)

	v.SetDefault("validator.timeout_ms", c.Validator.TimeoutMs)
	v.SetDefault("validator.attempts", c.Validator.Attempts)
	v.SetDefault("validator.concurrent", c.Validator.Concurrent)
	v.SetDefault("validator.threshold_ms", c.Validator.ThresholdMs)
	v.SetDefault("validator.skip", c.Validator.Skip)

	v.SetDefault("output.dir", c.Output.Dir)
	v.SetDefault("output.clash_file", c.Output.ClashFile)
	v.SetDefault("output.subscribe_file", c.Output.SubscribeFile)
	v.SetDefault("output.unvalidated_clash_file", c.Output.UnvalidatedClashFile)
	v.SetDefault("output.unvalidated_subscribe_file", c.Output.UnvalidatedSubscribeFile)
	v.SetDefault("output.log_dir", c.Output.LogDir)

	v.SetDefault("clash.port", c.Clash.Port)
	v.SetDefault("clash.socks_port", c.Clash.SocksPort)
	v.SetDefault("clash.allow_lan", c.Clash.AllowLan)
	v.SetDefault("clash.mode", c.Clash.Mode)
	v.SetDefault("clash.log_level", c.Clash.LogLevel)
	v.SetDefault("clash.external_controller", c.Clash.ExternalController)
	v.SetDefault("clash.test_url", c.Clash.TestURL)
	v.SetDefault("clash.interval", c.Clash.Interval)
	v.SetDefault("clash.rules", c.Clash.Rules)

	v.SetDefault("schedule.interval", c.Schedule.Interval)

	v.SetDefault("server.enabled", c.Server.Enabled)
	v.SetDefault("server.listen", c.Server.Listen)

	v.SetDefault("redis.enabled", c.Redis.Enabled)
	v.SetDefault("redis.addr", c.Redis.Addr)
	v.SetDefault("redis.password", c.Redis.Password)
	v.SetDefault("redis.db", c.Redis.DB)
	v.SetDefault("redis.prefix", c.Redis.Prefix)
	v.SetDefault("redis.ttl", c.Redis.TTL)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)
}

// LoadConfig reads configPath, or config.yaml from the usual places when
// configPath is empty. A missing default file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/spider-clash")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("sources must not be empty")
	}
	if c.Crawler.MaxRequests <= 0 {
		return fmt.Errorf("crawler.max_requests must be greater than 0")
	}
	if c.Crawler.MaxDepth <= 0 {
		return fmt.Errorf("crawler.max_depth must be greater than 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be greater than 0")
	}
	if c.Validator.TimeoutMs <= 0 {
		return fmt.Errorf("validator.timeout_ms must be greater than 0")
	}
	if c.Validator.Attempts <= 0 {
		return fmt.Errorf("validator.attempts must be greater than 0")
	}
	if c.Validator.Concurrent <= 0 {
		return fmt.Errorf("validator.concurrent must be greater than 0")
	}
	if c.Validator.ThresholdMs <= 0 {
		return fmt.Errorf("validator.threshold_ms must be greater than 0")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must not be empty")
	}
	for _, p := range []struct {
		name string
		port int
	}{{"clash.port", c.Clash.Port}, {"clash.socks_port", c.Clash.SocksPort}} {
		if p.port <= 0 || p.port > 65535 {
			return fmt.Errorf("invalid %s: %d", p.name, p.port)
		}
	}
	if _, err := c.ClashOptions(); err != nil {
		return err
	}
	if c.Schedule.Interval < time.Minute {
		return fmt.Errorf("schedule.interval must be at least 1m, got %s", c.Schedule.Interval)
	}
	if c.Server.Enabled && c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty when the server is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must not be empty when redis is enabled")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}
	return nil
}

// ClashOptions parses the extra rules and returns the serializer options.
func (c *Config) ClashOptions() (render.ClashOptions, error) {
	extra, err := rules.ParseExtraRules(c.Clash.Rules, []string{"DIRECT", "REJECT", render.GroupProxy, render.GroupAutoSelect})
	if err != nil {
		return render.ClashOptions{}, fmt.Errorf("clash.rules: %w", err)
	}
	return render.ClashOptions{
		Port:               c.Clash.Port,
		SocksPort:          c.Clash.SocksPort,
		AllowLan:           c.Clash.AllowLan,
		Mode:               c.Clash.Mode,
		LogLevel:           c.Clash.LogLevel,
		ExternalController: c.Clash.ExternalController,
		TestURL:            c.Clash.TestURL,
		IntervalSec:        c.Clash.Interval,
		Rules:              extra,
	}, nil
}

func (c *Config) ProbeOptions() probe.Options {
	return probe.Options{
		Timeout:     time.Duration(c.Validator.TimeoutMs) * time.Millisecond,
		Attempts:    c.Validator.Attempts,
		Concurrency: c.Validator.Concurrent,
	}
}

func (c *Config) DiscoverOptions() discover.Options {
	return discover.Options{
		MaxRequests: c.Crawler.MaxRequests,
		MaxDepth:    c.Crawler.MaxDepth,
		Concurrency: c.Crawler.Concurrency,
	}
}

func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		Timeout:   c.Crawler.RequestTimeout,
		MaxBytes:  c.Crawler.MaxBytes,
		UserAgent: c.Crawler.UserAgent,
	}
}

func (c *Config) FileNames() publish.FileNames {
	return publish.FileNames{
		Clash:                c.Output.ClashFile,
		Subscribe:            c.Output.SubscribeFile,
		UnvalidatedClash:     c.Output.UnvalidatedClashFile,
		UnvalidatedSubscribe: c.Output.UnvalidatedSubscribeFile,
	}
}

func (c *Config) RedisOptions() publish.RedisConfig {
	return publish.RedisConfig{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		Prefix:   c.Redis.Prefix,
		TTL:      c.Redis.TTL,
	}
}
