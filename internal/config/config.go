// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// ErrInvalidConfiguration is returned for any configuration value the crawler cannot run with.
// It is always raised before a browser session is launched.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Portal   PortalConfig   `mapstructure:"portal" yaml:"portal"`
	Captcha  CaptchaConfig  `mapstructure:"captcha" yaml:"captcha"`
	Crawl    CrawlConfig    `mapstructure:"crawl" yaml:"crawl"`
	Proxy    ProxyConfig    `mapstructure:"proxy" yaml:"proxy"`
	Operator OperatorConfig `mapstructure:"operator" yaml:"operator"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
}

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

// ColorConfig defines the color names for the console log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driven by the crawler.
type BrowserConfig struct {
	Headless           bool          `mapstructure:"headless" yaml:"headless"`
	NoSandbox          bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	ExecPath           string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args               []string      `mapstructure:"args" yaml:"args"`
	UserAgent          string        `mapstructure:"user_agent" yaml:"user_agent"`
	ActionTimeout      time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	WindowOpenTimeout  time.Duration `mapstructure:"window_open_timeout" yaml:"window_open_timeout"`
	WindowPollInterval time.Duration `mapstructure:"window_poll_interval" yaml:"window_poll_interval"`
}

// PortalConfig describes the target site. Selectors are the only markup knowledge
// the state machine relies on.
type PortalConfig struct {
	SearchURL               string `mapstructure:"search_url" yaml:"search_url"`
	IndexInputSelector      string `mapstructure:"index_input_selector" yaml:"index_input_selector"`
	SearchButtonSelector    string `mapstructure:"search_button_selector" yaml:"search_button_selector"`
	CaseRowSelector         string `mapstructure:"case_row_selector" yaml:"case_row_selector"`
	GeneralDataCellSelector string `mapstructure:"general_data_cell_selector" yaml:"general_data_cell_selector"`
	AttorneyTableSelector   string `mapstructure:"attorney_table_selector" yaml:"attorney_table_selector"`
	DocsButtonSelector      string `mapstructure:"docs_button_selector" yaml:"docs_button_selector"`
	DocLinkSelector         string `mapstructure:"doc_link_selector" yaml:"doc_link_selector"`
	CaptchaFormSelector     string `mapstructure:"captcha_form_selector" yaml:"captcha_form_selector"`
	CaptchaSubmitSelector   string `mapstructure:"captcha_submit_selector" yaml:"captcha_submit_selector"`
}

// CaptchaConfig configures detection and the external solving service.
type CaptchaConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	DetectTimeout   time.Duration `mapstructure:"detect_timeout" yaml:"detect_timeout"`
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint"`
	Username        string        `mapstructure:"username" yaml:"username"`
	Password        string        `mapstructure:"password" yaml:"-"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval" yaml:"max_poll_interval"`
	SolveTimeout    time.Duration `mapstructure:"solve_timeout" yaml:"solve_timeout"`
	SubmitsPerMin   float64       `mapstructure:"submits_per_minute" yaml:"submits_per_minute"`
}

// CrawlConfig holds the per-run knobs of the crawl state machine.
type CrawlConfig struct {
	IndexNumber        string        `mapstructure:"index_number" yaml:"index_number"`
	BatchSize          int           `mapstructure:"dw_batch_size" yaml:"dw_batch_size"`
	Debug              bool          `mapstructure:"debug" yaml:"debug"`
	DebugDocCap        int           `mapstructure:"debug_doc_cap" yaml:"debug_doc_cap"`
	SettleDelay        time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	DownloadDir        string        `mapstructure:"download_dir" yaml:"download_dir"`
	IncludeGeneralData bool          `mapstructure:"include_general_data" yaml:"include_general_data"`
	IncludeAttorneys   bool          `mapstructure:"include_attorneys" yaml:"include_attorneys"`
}

// ProxyConfig defines the optional outbound proxy pool.
type ProxyConfig struct {
	URIs     []string `mapstructure:"uris" yaml:"uris"`
	Hosts    []string `mapstructure:"hosts" yaml:"hosts"`
	Username string   `mapstructure:"username" yaml:"username"`
	Password string   `mapstructure:"password" yaml:"-"`
	Listen   string   `mapstructure:"listen" yaml:"listen"`
}

// OperatorConfig selects how a suspended crawl is resumed after manual captcha work.
type OperatorConfig struct {
	Mode   string `mapstructure:"mode" yaml:"mode"`
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// DatabaseConfig holds the database connection details. Persistence is skipped when URL is empty.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// OutputConfig controls where the crawl report is written.
type OutputConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Operator resume modes.
const (
	OperatorModeConsole = "console"
	OperatorModeHTTP    = "http"
)

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "docket")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.window_open_timeout", "15s")
	v.SetDefault("browser.window_poll_interval", "250ms")

	// -- Portal --
	v.SetDefault("portal.search_url", "https://iapps.courts.state.ny.us/webcivil/FCASSearch?param=I")
	v.SetDefault("portal.index_input_selector", "#txtIndex")
	v.SetDefault("portal.search_button_selector", "input.normal")
	v.SetDefault("portal.case_row_selector",
		"#showForm > tbody > tr:nth-child(5) > td > table:nth-child(3) > tbody > tr > td:nth-child(1) > span > a")
	v.SetDefault("portal.general_data_cell_selector", "body > table > tbody > tr > td > table > tbody > tr > td")
	v.SetDefault("portal.attorney_table_selector", "body > table > tbody > tr > td:nth-child(2) > table:nth-child(5)")
	v.SetDefault("portal.docs_button_selector", "[name='showEfiledButton']")
	v.SetDefault("portal.doc_link_selector",
		"body > table > tbody > tr > td:nth-child(2) > table > tbody > tr > td > table:nth-child(6) > "+
			"tbody > tr:nth-child(1) > td > table > tbody > tr > td > span > a")
	v.SetDefault("portal.captcha_form_selector", "form[name='captcha_form']")
	v.SetDefault("portal.captcha_submit_selector", "form[name='captcha_form'] input[type='submit']")

	// -- Captcha --
	v.SetDefault("captcha.enabled", true)
	v.SetDefault("captcha.detect_timeout", "10s")
	v.SetDefault("captcha.endpoint", "http://api.dbcapi.me/api")
	v.SetDefault("captcha.request_timeout", "30s")
	v.SetDefault("captcha.poll_interval", "5s")
	v.SetDefault("captcha.max_poll_interval", "20s")
	v.SetDefault("captcha.solve_timeout", "3m")
	v.SetDefault("captcha.submits_per_minute", 6.0)

	// -- Crawl --
	v.SetDefault("crawl.dw_batch_size", 5)
	v.SetDefault("crawl.debug", false)
	v.SetDefault("crawl.debug_doc_cap", 10)
	v.SetDefault("crawl.settle_delay", "5s")
	v.SetDefault("crawl.download_dir", "./docs")
	v.SetDefault("crawl.include_general_data", true)
	v.SetDefault("crawl.include_attorneys", false)

	// -- Proxy --
	v.SetDefault("proxy.listen", "127.0.0.1:0")

	// -- Operator --
	v.SetDefault("operator.mode", OperatorModeConsole)
	v.SetDefault("operator.listen", "127.0.0.1:8765")

	// -- Output --
	v.SetDefault("output.dir", ".")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are only ever read from the environment.
	_ = v.BindEnv("captcha.username", "DOCKET_DBC_USERNAME")
	_ = v.BindEnv("captcha.password", "DOCKET_DBC_PASSWORD")
	_ = v.BindEnv("proxy.password", "DOCKET_PROXY_PASSWORD")
	_ = v.BindEnv("database.url", "DOCKET_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading "~" in every filesystem path of the configuration.
func (c *Config) ExpandPaths() error {
	paths := []*string{&c.Crawl.DownloadDir, &c.Output.Dir, &c.Logger.LogFile, &c.Browser.ExecPath}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("%w: cannot expand path %q: %v", ErrInvalidConfiguration, *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Crawl.Validate(); err != nil {
		return err
	}
	if c.Captcha.DetectTimeout <= 0 {
		return fmt.Errorf("%w: captcha.detect_timeout must be a positive duration", ErrInvalidConfiguration)
	}
	if c.Browser.WindowOpenTimeout <= 0 || c.Browser.WindowPollInterval <= 0 {
		return fmt.Errorf("%w: browser.window_open_timeout and browser.window_poll_interval must be positive", ErrInvalidConfiguration)
	}
	if c.Portal.SearchURL == "" {
		return fmt.Errorf("%w: portal.search_url is required", ErrInvalidConfiguration)
	}
	switch strings.ToLower(c.Operator.Mode) {
	case OperatorModeConsole, OperatorModeHTTP:
	default:
		return fmt.Errorf("%w: operator.mode must be %q or %q, got %q",
			ErrInvalidConfiguration, OperatorModeConsole, OperatorModeHTTP, c.Operator.Mode)
	}
	return nil
}

// Validate checks the crawl parameters that come from the command line.
func (c *CrawlConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: dw-batch-size must be a positive integer, got %d", ErrInvalidConfiguration, c.BatchSize)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("%w: crawl.settle_delay must not be negative", ErrInvalidConfiguration)
	}
	if c.Debug && c.DebugDocCap <= 0 {
		return fmt.Errorf("%w: crawl.debug_doc_cap must be positive when debug is enabled", ErrInvalidConfiguration)
	}
	return nil
}

// DocLimit returns the per-case document cap, or 0 when no cap applies.
func (c *CrawlConfig) DocLimit() int {
	if c.Debug {
		return c.DebugDocCap
	}
	return 0
}
