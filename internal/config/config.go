package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Agents   AgentsConfig   `mapstructure:"agents" json:"agents"`
	Provider ProviderConfig `mapstructure:"provider" json:"provider"`
	Decision DecisionConfig `mapstructure:"decision" json:"decision"`
	Approval ApprovalConfig `mapstructure:"approval" json:"approval"`
	Channels ChannelsConfig `mapstructure:"channels" json:"channels"`
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

// AgentsConfig agent settings
type AgentsConfig struct {
	Defaults AgentDefaults `mapstructure:"defaults" json:"defaults"`
}

// AgentDefaults default agent parameters
type AgentDefaults struct {
	Model          string  `mapstructure:"model" json:"model"`
	MaxTokens      int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature" json:"temperature"`
	HistoryLimit   int     `mapstructure:"history_limit" json:"history_limit"`
	DailyTaskLimit int     `mapstructure:"daily_task_limit" json:"daily_task_limit"`
}

// ProviderConfig language-model provider settings (OpenAI-compatible endpoint).
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key" json:"api_key"`
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	Timeout int    `mapstructure:"timeout" json:"timeout"` // seconds
}

// DecisionConfig decision engine settings
type DecisionConfig struct {
	Thresholds ThresholdConfig `mapstructure:"thresholds" json:"thresholds"`
}

// ThresholdConfig per-risk confidence thresholds.
type ThresholdConfig struct {
	Low      float64 `mapstructure:"low" json:"low"`
	Medium   float64 `mapstructure:"medium" json:"medium"`
	High     float64 `mapstructure:"high" json:"high"`
	Critical float64 `mapstructure:"critical" json:"critical"`
}

// ApprovalConfig approval queue settings
type ApprovalConfig struct {
	TTLHours int `mapstructure:"ttl_hours" json:"ttl_hours"`
}

// ChannelsConfig notification channel settings
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram" json:"telegram"`
	Slack    SlackConfig    `mapstructure:"slack" json:"slack"`
	Webhook  WebhookConfig  `mapstructure:"webhook" json:"webhook"`
}

// TelegramConfig telegram bot settings
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Token   string `mapstructure:"token" json:"token"`
	ChatID  int64  `mapstructure:"chat_id" json:"chat_id"`
}

// SlackConfig slack incoming-webhook settings
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url"`
}

// WebhookConfig generic HTTP callback settings
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	URL     string `mapstructure:"url" json:"url"`
	Token   string `mapstructure:"token" json:"token"`
}

// DatabaseConfig persistence settings
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" json:"driver"` // sqlite | postgres
	Path   string `mapstructure:"path" json:"path"`     // sqlite file path
	DSN    string `mapstructure:"dsn" json:"dsn"`       // postgres connection string
}

// LogConfig logging settings
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// DefaultConfig returns baseline configuration
func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Model:          "gpt-4o-mini",
				MaxTokens:      4096,
				Temperature:    0.2,
				HistoryLimit:   10,
				DailyTaskLimit: 200,
			},
		},
		Provider: ProviderConfig{
			Timeout: 60,
		},
		Decision: DecisionConfig{
			Thresholds: ThresholdConfig{
				Low:      0.70,
				Medium:   0.80,
				High:     0.90,
				Critical: 1.00,
			},
		},
		Approval: ApprovalConfig{
			TTLHours: 24,
		},
		Channels: ChannelsConfig{},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigDir returns the aegis config directory
func ConfigDir() string {
	if dir := strings.TrimSpace(os.Getenv("AEGIS_WORKSPACE")); dir != "" {
		return dir
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".aegis")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DatabasePath returns the resolved sqlite database path.
func (c *Config) DatabasePath() string {
	if p := strings.TrimSpace(c.Database.Path); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "state", "aegis.db")
}

// Load loads config from file or returns defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := Save(cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("AEGIS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to file
func Save(cfg *Config) error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	d := &c.Agents.Defaults

	if d.MaxTokens <= 0 {
		return fmt.Errorf("agents.defaults.max_tokens must be > 0, got %d", d.MaxTokens)
	}
	if d.Temperature < 0 || d.Temperature > 2.0 {
		return fmt.Errorf("agents.defaults.temperature must be between 0 and 2.0, got %f", d.Temperature)
	}
	if d.HistoryLimit < 0 {
		return fmt.Errorf("agents.defaults.history_limit must not be negative, got %d", d.HistoryLimit)
	}
	if d.HistoryLimit == 0 {
		d.HistoryLimit = 10
	}
	if d.DailyTaskLimit < 0 {
		return fmt.Errorf("agents.defaults.daily_task_limit must not be negative, got %d", d.DailyTaskLimit)
	}

	for name, value := range map[string]float64{
		"decision.thresholds.low":      c.Decision.Thresholds.Low,
		"decision.thresholds.medium":   c.Decision.Thresholds.Medium,
		"decision.thresholds.high":     c.Decision.Thresholds.High,
		"decision.thresholds.critical": c.Decision.Thresholds.Critical,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, value)
		}
	}

	if c.Approval.TTLHours < 0 {
		return fmt.Errorf("approval.ttl_hours must not be negative, got %d", c.Approval.TTLHours)
	}
	if c.Approval.TTLHours == 0 {
		c.Approval.TTLHours = 24
	}

	driver := strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch driver {
	case "":
		c.Database.Driver = "sqlite"
	case "sqlite", "postgres":
		c.Database.Driver = driver
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required when database.driver is postgres")
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	return nil
}
