// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, so that
// CHATPROBE_LOGGER_LEVEL=debug maps to logger.level.
const EnvPrefix = "CHATPROBE"

// newEnvKeyReplacer maps nested config keys onto env var segments.
func newEnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// BindEnv wires environment variable overrides into a viper instance.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(newEnvKeyReplacer())
	v.AutomaticEnv()
}

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Target() TargetConfig
	Readiness() ReadinessConfig
	Chat() ChatConfig
	Validation() ValidationConfig
	Runner() RunnerConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerC     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	BrowserC    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	NetworkC    NetworkConfig    `mapstructure:"network" yaml:"network"`
	TargetC     TargetConfig     `mapstructure:"target" yaml:"target"`
	ReadinessC  ReadinessConfig  `mapstructure:"readiness" yaml:"readiness"`
	ChatC       ChatConfig       `mapstructure:"chat" yaml:"chat"`
	ValidationC ValidationConfig `mapstructure:"validation" yaml:"validation"`
	RunnerC     RunnerConfig     `mapstructure:"runner" yaml:"runner"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerC }
func (c *Config) Browser() BrowserConfig       { return c.BrowserC }
func (c *Config) Network() NetworkConfig       { return c.NetworkC }
func (c *Config) Target() TargetConfig         { return c.TargetC }
func (c *Config) Readiness() ReadinessConfig   { return c.ReadinessC }
func (c *Config) Chat() ChatConfig             { return c.ChatC }
func (c *Config) Validation() ValidationConfig { return c.ValidationC }
func (c *Config) Runner() RunnerConfig         { return c.RunnerC }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Locale          string         `mapstructure:"locale" yaml:"locale"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	Stealth         bool           `mapstructure:"stealth" yaml:"stealth"`
}

// NetworkConfig tunes navigation and capture behaviour.
type NetworkConfig struct {
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration     `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
	CaptureConsole    bool              `mapstructure:"capture_console" yaml:"capture_console"`
	CaptureRequests   bool              `mapstructure:"capture_requests" yaml:"capture_requests"`
}

// TargetConfig identifies the chat application under test.
type TargetConfig struct {
	BaseURL   string   `mapstructure:"base_url" yaml:"base_url"`
	Languages []string `mapstructure:"languages" yaml:"languages"`
}

// URLFor returns the chat URL for a language code. The base URL is expected
// to carry the language as its final path segment.
func (t TargetConfig) URLFor(lang string) string {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return t.BaseURL
	}
	u.Path = "/" + lang + "/"
	return u.String()
}

// ReadinessConfig tunes the page readiness controller.
type ReadinessConfig struct {
	MaxRetries          int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoffBase    time.Duration `mapstructure:"retry_backoff_base" yaml:"retry_backoff_base"`
	ElementTimeout      time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	CaptchaPollInterval time.Duration `mapstructure:"captcha_poll_interval" yaml:"captcha_poll_interval"`
	CaptchaWaitCeiling  time.Duration `mapstructure:"captcha_wait_ceiling" yaml:"captcha_wait_ceiling"`
	ServicesWaitMax     time.Duration `mapstructure:"services_wait_max" yaml:"services_wait_max"`
}

// ChatConfig tunes interaction with the chat widget.
type ChatConfig struct {
	ResponseTimeout time.Duration `mapstructure:"response_timeout" yaml:"response_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StablePolls     int           `mapstructure:"stable_polls" yaml:"stable_polls"`
	EchoTimeout     time.Duration `mapstructure:"echo_timeout" yaml:"echo_timeout"`
}

// ValidationConfig tunes the response quality heuristics.
type ValidationConfig struct {
	MinResponseLength   int     `mapstructure:"min_response_length" yaml:"min_response_length"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
}

// RunnerConfig holds settings for suite execution and reporting.
type RunnerConfig struct {
	Parallelism         int      `mapstructure:"parallelism" yaml:"parallelism"`
	SendRatePerMinute   float64  `mapstructure:"send_rate_per_minute" yaml:"send_rate_per_minute"`
	Categories          []string `mapstructure:"categories" yaml:"categories"`
	ScreenshotOnFailure bool     `mapstructure:"screenshot_on_failure" yaml:"screenshot_on_failure"`
	OutputDir           string   `mapstructure:"output_dir" yaml:"output_dir"`
	ReportFile          string   `mapstructure:"report_file" yaml:"report_file"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "chatprobe")
	v.SetDefault("logger.log_file", "chatprobe.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})

	// -- Network --
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.post_load_wait", "2s")
	v.SetDefault("network.capture_console", true)
	v.SetDefault("network.capture_requests", false)

	// -- Target --
	v.SetDefault("target.base_url", "https://ask.u.ae/en/")
	v.SetDefault("target.languages", []string{"en"})

	// -- Readiness --
	v.SetDefault("readiness.max_retries", 3)
	v.SetDefault("readiness.retry_backoff_base", "2s")
	v.SetDefault("readiness.element_timeout", "10s")
	v.SetDefault("readiness.captcha_poll_interval", "5s")
	v.SetDefault("readiness.captcha_wait_ceiling", "30s")
	v.SetDefault("readiness.services_wait_max", "30s")

	// -- Chat --
	v.SetDefault("chat.response_timeout", "60s")
	v.SetDefault("chat.poll_interval", "2s")
	v.SetDefault("chat.stable_polls", 3)
	v.SetDefault("chat.echo_timeout", "5s")

	// -- Validation --
	v.SetDefault("validation.min_response_length", 20)
	v.SetDefault("validation.similarity_threshold", 0.5)

	// -- Runner --
	v.SetDefault("runner.parallelism", 1)
	v.SetDefault("runner.send_rate_per_minute", 6.0)
	v.SetDefault("runner.categories", []string{})
	v.SetDefault("runner.screenshot_on_failure", true)
	v.SetDefault("runner.output_dir", "reports")
	v.SetDefault("runner.report_file", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.TargetC.BaseURL == "" {
		return fmt.Errorf("target.base_url is a required configuration field")
	}
	if u, err := url.Parse(c.TargetC.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("target.base_url must be an absolute URL")
	}
	if len(c.TargetC.Languages) == 0 {
		return fmt.Errorf("target.languages must name at least one language")
	}
	if c.RunnerC.Parallelism <= 0 {
		return fmt.Errorf("runner.parallelism must be a positive integer")
	}
	if c.ReadinessC.MaxRetries <= 0 {
		return fmt.Errorf("readiness.max_retries must be a positive integer")
	}
	if c.ReadinessC.CaptchaPollInterval <= 0 {
		return fmt.Errorf("readiness.captcha_poll_interval must be a positive duration")
	}
	if c.ReadinessC.CaptchaWaitCeiling < c.ReadinessC.CaptchaPollInterval {
		return fmt.Errorf("readiness.captcha_wait_ceiling must be at least one poll interval")
	}
	if c.ChatC.StablePolls <= 0 {
		return fmt.Errorf("chat.stable_polls must be a positive integer")
	}
	if c.ValidationC.SimilarityThreshold < 0.0 || c.ValidationC.SimilarityThreshold > 1.0 {
		return fmt.Errorf("validation.similarity_threshold must be between 0.0 and 1.0")
	}
	return nil
}
