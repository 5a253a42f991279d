package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Defaults  Defaults  `yaml:"defaults"`
	Sources   Sources   `yaml:"sources"`
	Synthesis Synthesis `yaml:"synthesis"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Voice     Voice     `yaml:"voice"`
	Output    Output    `yaml:"output"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
}

// Defaults are the tickers/topics used when a request supplies none.
type Defaults struct {
	Tickers []string `yaml:"tickers"`
	Topics  []string `yaml:"topics"`
}

type Sources struct {
	AlphaVantage AlphaVantageConfig `yaml:"alphavantage"`
	Feeds        []Feed             `yaml:"feeds"`
}

type AlphaVantageConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Synthesis struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	OllamaURL      string `yaml:"ollama_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	OpenAIModel    string `yaml:"openai_model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	MaxTokens      int    `yaml:"max_tokens"`
}

// Pipeline holds the orchestrator's recognized tuning options.
type Pipeline struct {
	UpstreamTimeoutSecs   int     `yaml:"upstream_timeout_secs"`
	GenerationTimeoutSecs int     `yaml:"generation_timeout_secs"`
	SimilarityThreshold   float64 `yaml:"similarity_threshold"`
	MaxPromptChars        int     `yaml:"max_prompt_chars"`
	ArticleChars          int     `yaml:"article_chars"`
	MaxArticles           int     `yaml:"max_articles"`
	GenerationRetries     int     `yaml:"generation_retries"`
	Workers               int     `yaml:"workers"`
}

type Voice struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for finbrief.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "finbrief")
}

// DataDir returns the XDG data directory for finbrief.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "finbrief")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/finbrief/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'finbrief init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Defaults: Defaults{
			Tickers: []string{"SPY", "QQQ", "AAPL", "MSFT", "NVDA", "GOOGL", "TSLA", "AMZN"},
			Topics:  []string{"earnings", "technology", "financial_markets", "economy_macro"},
		},
		Sources: Sources{
			AlphaVantage: AlphaVantageConfig{
				Enabled:   true,
				APIKeyEnv: "ALPHA_VANTAGE_API_KEY",
			},
		},
		Synthesis: Synthesis{
			Provider:       "ollama",
			Model:          "qwen2.5:7b",
			OllamaURL:      "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
			OpenAIModel:    "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			MaxTokens:      1024,
		},
		Pipeline: Pipeline{
			UpstreamTimeoutSecs:   10,
			GenerationTimeoutSecs: 60,
			SimilarityThreshold:   0.85,
			MaxPromptChars:        6000,
			ArticleChars:          280,
			MaxArticles:           12,
			GenerationRetries:     1,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
