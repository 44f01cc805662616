package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLMBaseURL string `yaml:"llm_base_url"`
	LLMApiKey  string `yaml:"llm_api_key"`
	Model      string `yaml:"model"`

	SearchURL        string `yaml:"search_url"`
	SearchApiKey     string `yaml:"search_api_key"`
	SearchDepth      string `yaml:"search_depth"`
	SearchMaxResults int    `yaml:"search_max_results"`
	SearchWorkers    int    `yaml:"search_workers"`

	SearchTimeout  time.Duration `yaml:"search_timeout"`
	SectionTimeout time.Duration `yaml:"section_timeout"`
	LLMTimeout     time.Duration `yaml:"llm_timeout"`
	StreamTimeout  time.Duration `yaml:"stream_timeout"`
	ChatTimeout    time.Duration `yaml:"chat_timeout"`

	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// Defaults returns the configuration used when neither a file nor the
// environment sets a value.
func Defaults() *Config {
	return &Config{
		LLMBaseURL:       "http://127.0.0.1:1234/v1",
		LLMApiKey:        "local",
		Model:            "qwen2.5-3b-instruct",
		SearchURL:        "https://api.tavily.com/search",
		SearchDepth:      "basic",
		SearchMaxResults: 3,
		SearchWorkers:    4,
		SearchTimeout:    10 * time.Second,
		SectionTimeout:   60 * time.Second,
		LLMTimeout:       120 * time.Second,
		StreamTimeout:    300 * time.Second,
		ChatTimeout:      30 * time.Second,
		Port:             "8081",
		LogLevel:         "info",
	}
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present, and CONFIG_FILE points
// at an optional YAML file that the environment then overrides. A
// CONFIG_FILE that cannot be read or parsed is an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		cfg, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("CONFIG_FILE: %w", err)
		}
		return cfg, nil
	}

	cfg := Defaults()
	cfg.applyEnv()
	return cfg, nil
}

// LoadFile reads a YAML configuration file on top of the defaults and
// applies environment overrides.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// SlogLevel maps LogLevel onto a slog level, falling back to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (c *Config) applyEnv() {
	c.LLMBaseURL = getEnv("LLM_BASE_URL", c.LLMBaseURL)
	c.LLMApiKey = getEnv("LLM_API_KEY", c.LLMApiKey)
	c.Model = getEnv("LLM_MODEL", c.Model)

	c.SearchURL = getEnv("SEARCH_URL", c.SearchURL)
	c.SearchApiKey = getEnv("TAVILY_API_KEY", c.SearchApiKey)
	c.SearchDepth = getEnv("SEARCH_DEPTH", c.SearchDepth)
	c.SearchMaxResults = getEnvAsInt("SEARCH_MAX_RESULTS", c.SearchMaxResults)
	c.SearchWorkers = getEnvAsInt("SEARCH_WORKERS", c.SearchWorkers)

	c.SearchTimeout = getEnvAsDuration("SEARCH_TIMEOUT", c.SearchTimeout)
	c.SectionTimeout = getEnvAsDuration("SECTION_TIMEOUT", c.SectionTimeout)
	c.LLMTimeout = getEnvAsDuration("LLM_TIMEOUT", c.LLMTimeout)
	c.StreamTimeout = getEnvAsDuration("STREAM_TIMEOUT", c.StreamTimeout)
	c.ChatTimeout = getEnvAsDuration("CHAT_TIMEOUT", c.ChatTimeout)

	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("90s") or plain seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
