package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
	Browser     BrowserConfig    `toml:"browser"`
	Extraction  ExtractionConfig `toml:"extraction"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
	Report      ReportConfig     `toml:"report"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
	Gemini      GeminiConfig     `toml:"gemini"`
	Claude      ClaudeConfig     `toml:"claude"`
	LLM         LLMConfig        `toml:"llm"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
	Redis  RedisConfig  `toml:"redis"`
	S3     S3Config     `toml:"s3"`
	// ActionCache selects the cached-action backend: "badger" (default) or "redis"
	ActionCache string `toml:"action_cache"`
	// Results selects the order artifact sink: "badger" (default) or "s3"
	Results string `toml:"results"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// RedisConfig configures the shared action cache
type RedisConfig struct {
	Address   string `toml:"address"` // host:port
	Password  string `toml:"password"`
	Database  int    `toml:"database"`
	KeyPrefix string `toml:"key_prefix"`
}

// S3Config configures the object store that receives extracted orders
type S3Config struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
	Prefix    string `toml:"prefix"` // Object key prefix (default: "orders")
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// BrowserConfig controls the chromedp session used by the action provider
type BrowserConfig struct {
	Headless        bool   `toml:"headless"`
	UserAgent       string `toml:"user_agent"`
	UserDataDir     string `toml:"user_data_dir"`      // Persisted profile so logins survive restarts
	RemoteURL       string `toml:"remote_url"`         // Attach to an existing Chrome DevTools endpoint instead of launching
	LiveViewBaseURL string `toml:"live_view_base_url"` // Public DevTools frontend base used to build live-view links
	NavigateTimeout string `toml:"navigate_timeout"`   // e.g. "60s"
	MaxHTMLBytes    int    `toml:"max_html_bytes"`     // Extraction fails on pages larger than this after markdown conversion
}

// ExtractionConfig contains the engine timing and retry knobs
type ExtractionConfig struct {
	RecipePath            string `toml:"recipe_path"`             // Optional recipe override (.toml or .yaml)
	LoginPollInterval     string `toml:"login_poll_interval"`     // default "30s"
	LoginTimeout          string `toml:"login_timeout"`           // default "10m", "0" waits forever
	PageSettleInterval    string `toml:"page_settle_interval"`    // default "10s"
	MaxPages              int    `toml:"max_pages"`               // 0 = unbounded
	MaxAttempts           int    `toml:"max_attempts"`            // default 3
	InitialBackoff        string `toml:"initial_backoff"`         // default "1s"
	CacheFailureThreshold int    `toml:"cache_failure_threshold"` // default 2
	JobTimeout            string `toml:"job_timeout"`             // default "30m"
}

// SchedulerConfig controls the stale job sweeper
type SchedulerConfig struct {
	Enabled    bool   `toml:"enabled"`
	Schedule   string `toml:"schedule"`    // cron spec, default "@every 1m"
	StaleAfter string `toml:"stale_after"` // default "45m"
}

// ReportConfig controls the spending report emailed after a completed extraction
type ReportConfig struct {
	Enabled     bool   `toml:"enabled"`
	AttachPDF   bool   `toml:"attach_pdf"`
	CurrentYear int    `toml:"current_year"` // 0 = use the current calendar year
	SMTPHost    string `toml:"smtp_host"`
	SMTPPort    int    `toml:"smtp_port"`
	Username    string `toml:"smtp_username"`
	Password    string `toml:"smtp_password"`
	From        string `toml:"smtp_from"`
	FromName    string `toml:"smtp_from_name"`
	UseTLS      bool   `toml:"smtp_use_tls"`
}

// WebSocketConfig contains configuration for the status event stream
type WebSocketConfig struct {
	// Throttle interval per job for status broadcasts (e.g. "250ms"). Empty disables throttling.
	ThrottleInterval string `toml:"throttle_interval"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"` // Minimum interval between calls (default: "4s" for 15 RPM)
	Temperature float32 `toml:"temperature"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"`
	Temperature float32 `toml:"temperature"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig selects the provider that resolves actions and extracts records
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "quarry:action:",
			},
			S3: S3Config{
				Bucket: "orders",
				Region: "us-east-1",
				UseSSL: true,
				Prefix: "orders",
			},
			ActionCache: "badger",
			Results:     "badger",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Browser: BrowserConfig{
			Headless:        true,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			UserDataDir:     "./data/browser",
			NavigateTimeout: "60s",
			MaxHTMLBytes:    400 * 1024,
		},
		Extraction: ExtractionConfig{
			LoginPollInterval:     "30s",
			LoginTimeout:          "10m",
			PageSettleInterval:    "10s",
			MaxPages:              0,
			MaxAttempts:           3,
			InitialBackoff:        "1s",
			CacheFailureThreshold: 2,
			JobTimeout:            "30m",
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			Schedule:   "@every 1m",
			StaleAfter: "45m",
		},
		Report: ReportConfig{
			Enabled:   false, // Requires SMTP credentials
			AttachPDF: true,
			SMTPPort:  587,
			FromName:  "Quarry",
			UseTLS:    true,
		},
		WebSocket: WebSocketConfig{
			ThrottleInterval: "250ms",
		},
		Gemini: GeminiConfig{
			Model:       "gemini-3-flash-preview",
			Timeout:     "2m",
			RateLimit:   "4s",
			Temperature: 0.1,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-4-5",
			MaxTokens:   8192,
			Timeout:     "2m",
			RateLimit:   "1s",
			Temperature: 0.1,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> .env -> env.
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// A .env next to the binary is optional; real environment variables still win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies QUARRY_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("QUARRY_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("QUARRY_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("QUARRY_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage
	if path := os.Getenv("QUARRY_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if backend := os.Getenv("QUARRY_ACTION_CACHE"); backend != "" {
		config.Storage.ActionCache = backend
	}
	if sink := os.Getenv("QUARRY_RESULTS"); sink != "" {
		config.Storage.Results = sink
	}
	if addr := os.Getenv("QUARRY_REDIS_ADDRESS"); addr != "" {
		config.Storage.Redis.Address = addr
	}
	if password := os.Getenv("QUARRY_REDIS_PASSWORD"); password != "" {
		config.Storage.Redis.Password = password
	}
	if endpoint := os.Getenv("QUARRY_S3_ENDPOINT"); endpoint != "" {
		config.Storage.S3.Endpoint = endpoint
	}
	if accessKey := os.Getenv("QUARRY_S3_ACCESS_KEY"); accessKey != "" {
		config.Storage.S3.AccessKey = accessKey
	}
	if secretKey := os.Getenv("QUARRY_S3_SECRET_KEY"); secretKey != "" {
		config.Storage.S3.SecretKey = secretKey
	}
	if bucket := os.Getenv("QUARRY_S3_BUCKET"); bucket != "" {
		config.Storage.S3.Bucket = bucket
	}

	// Logging
	if level := os.Getenv("QUARRY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("QUARRY_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Browser
	if headless := os.Getenv("QUARRY_BROWSER_HEADLESS"); headless != "" {
		config.Browser.Headless = headless == "true" || headless == "1"
	}
	if remote := os.Getenv("QUARRY_BROWSER_REMOTE_URL"); remote != "" {
		config.Browser.RemoteURL = remote
	}

	// Extraction
	if recipe := os.Getenv("QUARRY_RECIPE_PATH"); recipe != "" {
		config.Extraction.RecipePath = recipe
	}
	if timeout := os.Getenv("QUARRY_LOGIN_TIMEOUT"); timeout != "" {
		config.Extraction.LoginTimeout = timeout
	}
	if attempts := os.Getenv("QUARRY_MAX_ATTEMPTS"); attempts != "" {
		if a, err := strconv.Atoi(attempts); err == nil {
			config.Extraction.MaxAttempts = a
		}
	}

	// LLM
	if provider := os.Getenv("QUARRY_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(strings.ToLower(provider))
	}
	if model := os.Getenv("QUARRY_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if model := os.Getenv("QUARRY_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}

	// Report
	if enabled := os.Getenv("QUARRY_REPORT_ENABLED"); enabled != "" {
		config.Report.Enabled = enabled == "true" || enabled == "1"
	}
	if host := os.Getenv("QUARRY_SMTP_HOST"); host != "" {
		config.Report.SMTPHost = host
	}
	if username := os.Getenv("QUARRY_SMTP_USERNAME"); username != "" {
		config.Report.Username = username
	}
	if password := os.Getenv("QUARRY_SMTP_PASSWORD"); password != "" {
		config.Report.Password = password
	}
	if from := os.Getenv("QUARRY_SMTP_FROM"); from != "" {
		config.Report.From = from
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ResolveAPIKey resolves an API key by name.
// Resolution order: environment variables -> config fallback -> error
func ResolveAPIKey(name string, configFallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"gemini_api_key":    {"QUARRY_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"anthropic_api_key": {"QUARRY_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
	}

	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}

// Validate checks the values that would otherwise fail deep inside a running job
func (c *Config) Validate() error {
	durations := map[string]string{
		"extraction.login_poll_interval":  c.Extraction.LoginPollInterval,
		"extraction.login_timeout":        c.Extraction.LoginTimeout,
		"extraction.page_settle_interval": c.Extraction.PageSettleInterval,
		"extraction.initial_backoff":      c.Extraction.InitialBackoff,
		"extraction.job_timeout":          c.Extraction.JobTimeout,
		"scheduler.stale_after":           c.Scheduler.StaleAfter,
	}
	for name, value := range durations {
		if _, err := ParseDuration(value, 0); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}

	if c.Extraction.MaxAttempts < 1 {
		return fmt.Errorf("extraction.max_attempts must be at least 1, got %d", c.Extraction.MaxAttempts)
	}
	if c.Extraction.CacheFailureThreshold < 1 {
		return fmt.Errorf("extraction.cache_failure_threshold must be at least 1, got %d", c.Extraction.CacheFailureThreshold)
	}

	switch c.Storage.ActionCache {
	case "badger", "redis":
	default:
		return fmt.Errorf("unknown storage.action_cache %q (expected badger or redis)", c.Storage.ActionCache)
	}
	switch c.Storage.Results {
	case "badger", "s3":
	default:
		return fmt.Errorf("unknown storage.results %q (expected badger or s3)", c.Storage.Results)
	}

	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Schedule); err != nil {
			return fmt.Errorf("invalid scheduler.schedule: %w", err)
		}
	}

	return nil
}

// ParseDuration parses a config duration string. Empty returns fallback and "0" disables.
func ParseDuration(value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	if value == "0" {
		return 0, nil
	}
	return time.ParseDuration(value)
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
