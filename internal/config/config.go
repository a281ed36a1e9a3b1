package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode        string   `yaml:"mode"` // DRY_RUN or LIVE
	Instruments []string `yaml:"instruments"`

	Schedule struct {
		RunIntervalSeconds     int `yaml:"run_interval_seconds"`
		AnalysisTimeoutSeconds int `yaml:"analysis_timeout_seconds"`
	} `yaml:"schedule"`

	Budget struct {
		MaxActionsPerDay int `yaml:"max_actions_per_day"`
	} `yaml:"budget"`

	Order struct {
		DefaultQty int `yaml:"default_qty"`
		MaxQty     int `yaml:"max_qty"`
	} `yaml:"order"`

	Cache struct {
		PriceTTLSeconds     int `yaml:"price_ttl_seconds"`
		AccountTTLSeconds   int `yaml:"account_ttl_seconds"`
		PositionsTTLSeconds int `yaml:"positions_ttl_seconds"`
		CandlesTTLSeconds   int `yaml:"candles_ttl_seconds"`
	} `yaml:"cache"`

	RateLimit struct {
		WindowSeconds int            `yaml:"window_seconds"`
		PerProvider   map[string]int `yaml:"per_provider"`
	} `yaml:"rate_limit"`

	Semantic struct {
		BaseURL         string `yaml:"base_url"`
		NewsCollection  string `yaml:"news_collection"`
		ChartCollection string `yaml:"chart_collection"`
		TopK            int    `yaml:"top_k"`
	} `yaml:"semantic"`

	LLM struct {
		Provider          string  `yaml:"provider"` // OPENAI or NOOP
		Model             string  `yaml:"model"`
		MaxTokens         int     `yaml:"max_tokens"`
		Temperature       float32 `yaml:"temperature"`
		RequestsPerMinute int     `yaml:"requests_per_minute"`
	} `yaml:"llm"`

	Broker struct {
		BaseURL     string `yaml:"base_url"`
		DataBaseURL string `yaml:"data_base_url"`
	} `yaml:"broker"`

	Store struct {
		Path             string `yaml:"path"`
		HistoryRetention int    `yaml:"history_retention"`
	} `yaml:"store"`

	Admin struct {
		Addr string `yaml:"addr"`
	} `yaml:"admin"`

	// InstrumentsDefaulted reports that no instrument list came from the
	// file or the environment; callers may substitute a stored list.
	InstrumentsDefaulted bool `yaml:"-"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("instruments cannot be empty")
	}
	if c.Schedule.RunIntervalSeconds <= 0 {
		return fmt.Errorf("schedule.run_interval_seconds must be positive, got %d", c.Schedule.RunIntervalSeconds)
	}
	if c.Schedule.AnalysisTimeoutSeconds <= 0 {
		return fmt.Errorf("schedule.analysis_timeout_seconds must be positive, got %d", c.Schedule.AnalysisTimeoutSeconds)
	}
	if c.Budget.MaxActionsPerDay == 0 || c.Budget.MaxActionsPerDay < -1 {
		return fmt.Errorf("budget.max_actions_per_day must be positive or -1 for unlimited, got %d", c.Budget.MaxActionsPerDay)
	}
	if c.Order.DefaultQty <= 0 {
		return fmt.Errorf("order.default_qty must be positive, got %d", c.Order.DefaultQty)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	var c Config

	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyDefaults(&c)
	applyEnvOverrides(&c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	if len(c.Instruments) == 0 {
		c.Instruments = []string{"AAPL", "MSFT", "GOOGL"}
		c.InstrumentsDefaulted = true
	}
	if c.Schedule.RunIntervalSeconds == 0 {
		c.Schedule.RunIntervalSeconds = 300
	}
	if c.Schedule.AnalysisTimeoutSeconds == 0 {
		c.Schedule.AnalysisTimeoutSeconds = 30
	}
	if c.Budget.MaxActionsPerDay == 0 {
		c.Budget.MaxActionsPerDay = 5
	}
	if c.Order.DefaultQty == 0 {
		c.Order.DefaultQty = 1
	}
	if c.Order.MaxQty == 0 {
		c.Order.MaxQty = 100
	}
	if c.Cache.PriceTTLSeconds == 0 {
		c.Cache.PriceTTLSeconds = 30
	}
	if c.Cache.AccountTTLSeconds == 0 {
		c.Cache.AccountTTLSeconds = 30
	}
	if c.Cache.PositionsTTLSeconds == 0 {
		c.Cache.PositionsTTLSeconds = 60
	}
	if c.Cache.CandlesTTLSeconds == 0 {
		c.Cache.CandlesTTLSeconds = 300
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.RateLimit.PerProvider == nil {
		c.RateLimit.PerProvider = map[string]int{"alpaca": 180, "yahoo": 60}
	}
	if c.Semantic.NewsCollection == "" {
		c.Semantic.NewsCollection = "news"
	}
	if c.Semantic.ChartCollection == "" {
		c.Semantic.ChartCollection = "charts"
	}
	if c.Semantic.TopK == 0 {
		c.Semantic.TopK = 5
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "OPENAI"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 800
	}
	if c.LLM.RequestsPerMinute == 0 {
		c.LLM.RequestsPerMinute = 60
	}
	if c.Broker.BaseURL == "" {
		c.Broker.BaseURL = "https://paper-api.alpaca.markets"
	}
	if c.Broker.DataBaseURL == "" {
		c.Broker.DataBaseURL = "https://data.alpaca.markets"
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/agent.db"
	}
	if c.Store.HistoryRetention == 0 {
		c.Store.HistoryRetention = 1000
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":8090"
	}
}

// applyEnvOverrides maps the enumerated environment surface onto the config.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("TICKERS"); v != "" {
		var out []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, strings.ToUpper(t))
			}
		}
		if len(out) > 0 {
			c.Instruments = out
			c.InstrumentsDefaulted = false
		}
	}
	if n, ok := envInt("MAX_ACTIONS_PER_DAY"); ok {
		c.Budget.MaxActionsPerDay = n
	}
	if n, ok := envInt("RUN_INTERVAL_SECONDS"); ok {
		c.Schedule.RunIntervalSeconds = n
	}
	if n, ok := envInt("ANALYSIS_TIMEOUT_SECONDS"); ok {
		c.Schedule.AnalysisTimeoutSeconds = n
	}
	if v := os.Getenv("SEMANTIC_STORE_URL"); v != "" {
		c.Semantic.BaseURL = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		c.Broker.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Credentials come from the environment only, never from the yaml file.
type Credentials struct {
	OpenAIKey      string
	AlpacaKey      string
	AlpacaSecret   string
	DiscordWebhook string
}

func LoadCredentials() Credentials {
	return Credentials{
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		AlpacaKey:      os.Getenv("ALPACA_API_KEY"),
		AlpacaSecret:   os.Getenv("ALPACA_SECRET_KEY"),
		DiscordWebhook: os.Getenv("DISCORD_WEBHOOK_URL"),
	}
}
