package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/parley/internal/provider"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Providers    []ProviderConfig   `json:"providers"`
	Routing      RoutingConfig      `json:"routing"`
	Negotiation  NegotiationConfig  `json:"negotiation"`
	Database     DatabaseConfig     `json:"database"`
	Notify       NotifyConfig       `json:"notify"`
	Temperatures TemperaturesConfig `json:"temperatures"`
}

type ServerConfig struct {
	Port        int      `json:"port"`
	LogLevel    string   `json:"log_level"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

type ProviderConfig struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Name           string            `json:"name"`
	Endpoint       string            `json:"endpoint"`
	APIKey         string            `json:"api_key"`
	Models         []string          `json:"models,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// Provider converts the entry to the provider package's configuration.
func (p ProviderConfig) Provider() provider.ProviderConfig {
	return provider.ProviderConfig{
		ID:       p.ID,
		Type:     p.Type,
		Name:     p.Name,
		Endpoint: p.Endpoint,
		APIKey:   p.APIKey,
		Models:   p.Models,
		Extra:    p.Extra,
		Timeout:  time.Duration(p.TimeoutSeconds) * time.Second,
	}
}

// RoutingConfig picks the provider used for unknown models and the order
// tried when a provider fails.
type RoutingConfig struct {
	Default   string   `json:"default"`
	Fallbacks []string `json:"fallbacks,omitempty"`
}

type NegotiationConfig struct {
	ScenariosDir  string `json:"scenarios_dir"`
	RulesPath     string `json:"rules_path"`
	MigrationsDir string `json:"migrations_dir"`
	ResultsCSV    string `json:"results_csv"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type NotifyConfig struct {
	Slack   SlackNotifyConfig   `json:"slack"`
	Discord DiscordNotifyConfig `json:"discord"`
}

type SlackNotifyConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// TemperaturesConfig holds sampling temperatures per model role. Nil means
// unset so that an explicit 0 survives defaulting.
type TemperaturesConfig struct {
	Agents     *float64 `json:"agents,omitempty"`
	RoundJudge *float64 `json:"round_judge,omitempty"`
	FinalJudge *float64 `json:"final_judge,omitempty"`
}

const (
	DefaultPort          = 8080
	DefaultScenariosDir  = "scenarios"
	DefaultRulesPath     = "config/negotiation_rules.json"
	DefaultMigrationsDir = "migrations"
	DefaultResultsCSV    = "output/global_results.csv"
	DefaultConfigPath    = "configs/parley.json"
)

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable references
// and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes JSON config data. See Load.
func Parse(data []byte) (*Config, error) {
	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	n := &c.Negotiation
	if n.ScenariosDir == "" {
		n.ScenariosDir = DefaultScenariosDir
	}
	if n.RulesPath == "" {
		n.RulesPath = DefaultRulesPath
	}
	if n.MigrationsDir == "" {
		n.MigrationsDir = DefaultMigrationsDir
	}
	if n.ResultsCSV == "" {
		n.ResultsCSV = DefaultResultsCSV
	}
	t := &c.Temperatures
	t.Agents = orFloat(t.Agents, 0.3)
	t.RoundJudge = orFloat(t.RoundJudge, 0.1)
	t.FinalJudge = orFloat(t.FinalJudge, 0.1)
}

func orFloat(v *float64, def float64) *float64 {
	if v != nil {
		return v
	}
	return &def
}
