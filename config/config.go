package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidConfig marks configuration problems detected before the loop starts.
var ErrInvalidConfig = errors.New("invalid configuration")

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds scraper configuration.
type Config struct {
	LoginURL string `yaml:"login_url"`
	DataURL  string `yaml:"data_url"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	// AuthMarkers are URL path fragments that identify a post-login page.
	// Empty means "dashboard" plus the data URL path.
	AuthMarkers []string `yaml:"auth_markers"`

	Driver     string `yaml:"driver"` // chrome or http
	ChromePath string `yaml:"chrome_path"`
	Headless   bool   `yaml:"headless"`
	UserAgent  string `yaml:"user_agent"`
	ViewWidth  int    `yaml:"view_width"`
	ViewHeight int    `yaml:"view_height"`

	EmailSelector    string `yaml:"email_selector"`
	PasswordSelector string `yaml:"password_selector"`
	SubmitSelector   string `yaml:"submit_selector"`
	RowSelector      string `yaml:"row_selector"`

	LaunchTimeout     time.Duration `yaml:"launch_timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	FormTimeout       time.Duration `yaml:"form_timeout"`
	TableTimeout      time.Duration `yaml:"table_timeout"`
	SettleDelay       time.Duration `yaml:"settle_delay"`

	DBDriver     string `yaml:"db_driver"` // sqlite or postgres
	DatabaseURL  string `yaml:"database_url"`
	DBMaxConns   int    `yaml:"db_max_conns"`
	Table        string `yaml:"table"`
	KeyCacheSize int    `yaml:"key_cache_size"`

	Interval         time.Duration `yaml:"interval"`
	FailureBackoff   time.Duration `yaml:"failure_backoff"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Once             bool          `yaml:"once"`

	MetricsAddr   string `yaml:"metrics_addr"`
	ArchiveFile   string `yaml:"archive_file"`
	ArchiveFormat string `yaml:"archive_format"` // csv, json, or dual
	Verbose       bool   `yaml:"verbose"`
}

// DefaultConfig returns the defaults of the production deployment. Target
// URLs, credentials and the database DSN have no default.
func DefaultConfig() *Config {
	return &Config{
		Driver:            "chrome",
		Headless:          true,
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewWidth:         1366,
		ViewHeight:        768,
		EmailSelector:     `input[name="email"]`,
		PasswordSelector:  `input[name="password"]`,
		SubmitSelector:    `button[type="submit"]`,
		RowSelector:       "tbody tr",
		LaunchTimeout:     30 * time.Second,
		NavigationTimeout: 60 * time.Second,
		FormTimeout:       30 * time.Second,
		TableTimeout:      30 * time.Second,
		SettleDelay:       2 * time.Second,
		DBDriver:          "sqlite",
		DBMaxConns:        5,
		Table:             "ivr_logs",
		KeyCacheSize:      10000,
		Interval:          20 * time.Second,
		FailureBackoff:    5 * time.Second,
		FailureThreshold:  5,
		ArchiveFormat:     "csv",
	}
}

// Markers returns the effective authenticated-destination markers.
func (c *Config) Markers() []string {
	if len(c.AuthMarkers) > 0 {
		return c.AuthMarkers
	}
	markers := []string{"dashboard"}
	if u, err := url.Parse(c.DataURL); err == nil {
		if p := strings.Trim(u.Path, "/"); p != "" {
			markers = append(markers, p)
		}
	}
	return markers
}

// Validate ensures all configuration values are present and coherent.
func (c *Config) Validate() error {
	if err := validateURL("login URL", c.LoginURL); err != nil {
		return err
	}
	if err := validateURL("data URL", c.DataURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.Email) == "" {
		return invalid("email cannot be empty")
	}
	if c.Password == "" {
		return invalid("password cannot be empty")
	}

	if c.Driver != "chrome" && c.Driver != "http" {
		return invalid("driver must be chrome or http")
	}
	if c.UserAgent == "" {
		return invalid("user agent cannot be empty")
	}
	if c.EmailSelector == "" || c.PasswordSelector == "" || c.SubmitSelector == "" || c.RowSelector == "" {
		return invalid("selectors cannot be empty")
	}
	if c.LaunchTimeout <= 0 || c.NavigationTimeout <= 0 || c.FormTimeout <= 0 || c.TableTimeout <= 0 {
		return invalid("timeouts must be positive")
	}
	if c.SettleDelay < 0 {
		return invalid("settle delay cannot be negative")
	}

	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return invalid("database driver must be sqlite or postgres")
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return invalid("database URL cannot be empty")
	}
	if c.DBMaxConns <= 0 {
		return invalid("database max connections must be positive")
	}
	if !identifier.MatchString(c.Table) {
		return invalid("table name %q is not a valid identifier", c.Table)
	}
	if c.KeyCacheSize < 0 {
		return invalid("key cache size cannot be negative")
	}

	if c.Interval <= 0 {
		return invalid("interval must be positive")
	}
	if c.FailureBackoff < 0 {
		return invalid("failure backoff cannot be negative")
	}
	if c.FailureThreshold <= 0 {
		return invalid("failure threshold must be positive")
	}
	if c.ArchiveFormat != "csv" && c.ArchiveFormat != "json" && c.ArchiveFormat != "dual" {
		return invalid("archive format must be csv, json, or dual")
	}

	return nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return invalid("%s cannot be empty", name)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
	}
	if parsed.Host == "" {
		return invalid("%s must include a host", name)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}
