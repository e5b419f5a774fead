package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "RAIDBOT"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "raidbot.db"
	defaultLogLevel        = "info"
	defaultMetricsBaseURL  = "https://api.twitter.com"
	defaultTelegramAPIBase = "https://api.telegram.org"
	defaultPollInterval    = 30 * time.Second
	defaultRaidDuration    = 6 * time.Minute
)

// AppConfig captures runtime configuration for the raid bot service.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	MetricsBaseURL     string
	MetricsBearerToken string
	TelegramAPIBase    string
	TelegramBotToken   string
	CallbackSigningKey string
	PollInterval       time.Duration
	RaidDuration       time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("metrics.base_url", defaultMetricsBaseURL)
	configViper.SetDefault("telegram.api_base", defaultTelegramAPIBase)
	configViper.SetDefault("raid.poll_interval", defaultPollInterval)
	configViper.SetDefault("raid.duration", defaultRaidDuration)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		MetricsBaseURL:     configViper.GetString("metrics.base_url"),
		MetricsBearerToken: configViper.GetString("metrics.bearer_token"),
		TelegramAPIBase:    configViper.GetString("telegram.api_base"),
		TelegramBotToken:   configViper.GetString("telegram.bot_token"),
		CallbackSigningKey: configViper.GetString("callback.signing_secret"),
		PollInterval:       configViper.GetDuration("raid.poll_interval"),
		RaidDuration:       configViper.GetDuration("raid.duration"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.MetricsBearerToken) == "" {
		return fmt.Errorf("metrics.bearer_token is required")
	}
	if strings.TrimSpace(c.TelegramBotToken) == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if strings.TrimSpace(c.CallbackSigningKey) == "" {
		return fmt.Errorf("callback.signing_secret is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("raid.poll_interval must be positive")
	}
	if c.RaidDuration <= 0 {
		return fmt.Errorf("raid.duration must be positive")
	}
	if c.RaidDuration <= c.PollInterval {
		return fmt.Errorf("raid.duration must exceed raid.poll_interval")
	}
	return nil
}
