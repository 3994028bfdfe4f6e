package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Warehouse    WarehouseConfig    `mapstructure:"warehouse"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	Search       SearchConfig       `mapstructure:"search"`
	Classifier   ClassifierConfig   `mapstructure:"classifier"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Capability   CapabilityConfig   `mapstructure:"capability"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig selects the conversation store.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"` // postgres or sqlite
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	Path        string `mapstructure:"path"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

// WarehouseConfig points at the data warehouse the analyst queries.
type WarehouseConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Database string `mapstructure:"database"`
	Schema   string `mapstructure:"schema"`
	MaxRows  int    `mapstructure:"max_rows"`
}

type OpenAIConfig struct {
	APIKey      string            `mapstructure:"api_key"`
	BaseURL     string            `mapstructure:"base_url"`
	Model       string            `mapstructure:"model"`
	Tiers       map[string]string `mapstructure:"tiers"`
	MaxTokens   int               `mapstructure:"max_tokens"`
	Temperature float64           `mapstructure:"temperature"`
	Timeout     time.Duration     `mapstructure:"timeout"`
}

type SearchConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// Enabled turns web search on for new sessions when APIKey is set.
	Enabled bool `mapstructure:"enabled"`
}

type ClassifierConfig struct {
	MinConfidence      float64 `mapstructure:"min_confidence"`
	FallbackConfidence float64 `mapstructure:"fallback_confidence"`
	Tier               string  `mapstructure:"tier"`
}

type ConversationConfig struct {
	WindowSize  int    `mapstructure:"window_size"`
	DefaultTier string `mapstructure:"default_tier"`
}

type CapabilityConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	ReadOnly bool          `mapstructure:"read_only"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Driver:   "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "analyst.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("warehouse.driver", "postgres")
	v.SetDefault("warehouse.schema", "public")
	v.SetDefault("warehouse.max_rows", 1000)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.tiers", map[string]string{
		"low":    "gpt-4o-mini",
		"medium": "gpt-4o",
		"high":   "gpt-4.1",
	})
	v.SetDefault("openai.max_tokens", 800)
	v.SetDefault("openai.temperature", 0.0)
	v.SetDefault("openai.timeout", 30*time.Second)
	v.SetDefault("search.base_url", "https://api.tavily.com")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.timeout", 15*time.Second)
	v.SetDefault("search.enabled", false)
	v.SetDefault("classifier.min_confidence", 0.5)
	v.SetDefault("classifier.fallback_confidence", 0.3)
	v.SetDefault("classifier.tier", "low")
	v.SetDefault("conversation.window_size", 10)
	v.SetDefault("conversation.default_tier", "medium")
	v.SetDefault("capability.timeout", 30*time.Second)
	v.SetDefault("capability.read_only", true)
}

// LoadConfig reads the YAML file at path. An empty path means defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	if dsn := v.GetString("WAREHOUSE_DSN"); dsn != "" {
		config.Warehouse.DSN = dsn
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if apiKey := v.GetString("TAVILY_API_KEY"); apiKey != "" {
		config.Search.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks ranges that would otherwise fail deep inside a turn.
func (c *Config) Validate() error {
	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		return fmt.Errorf("classifier.min_confidence must be within [0,1], got %v", c.Classifier.MinConfidence)
	}
	if c.Classifier.FallbackConfidence < 0 || c.Classifier.FallbackConfidence > 1 {
		return fmt.Errorf("classifier.fallback_confidence must be within [0,1], got %v", c.Classifier.FallbackConfidence)
	}
	if c.Conversation.WindowSize <= 0 {
		return fmt.Errorf("conversation.window_size must be positive, got %d", c.Conversation.WindowSize)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}
