package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment variable the scraper reads.
const EnvPrefix = "LEADS_"

// Load builds a Config from defaults, an optional YAML file, an optional
// .env file and the environment, in increasing order of precedence. The
// result is not validated so callers can apply flag overrides first.
func Load(yamlPath, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if yamlPath != "" {
		b, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read config file: %v", ErrInvalidConfig, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config file: %v", ErrInvalidConfig, err)
		}
	}

	if envFile != "" {
		// godotenv never overrides variables already present in the environment.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: load env file: %v", ErrInvalidConfig, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"LOGIN_URL":         &cfg.LoginURL,
		"DATA_URL":          &cfg.DataURL,
		"EMAIL":             &cfg.Email,
		"DRIVER":            &cfg.Driver,
		"CHROME_PATH":       &cfg.ChromePath,
		"USER_AGENT":        &cfg.UserAgent,
		"EMAIL_SELECTOR":    &cfg.EmailSelector,
		"PASSWORD_SELECTOR": &cfg.PasswordSelector,
		"SUBMIT_SELECTOR":   &cfg.SubmitSelector,
		"ROW_SELECTOR":      &cfg.RowSelector,
		"DB_DRIVER":         &cfg.DBDriver,
		"DATABASE_URL":      &cfg.DatabaseURL,
		"TABLE":             &cfg.Table,
		"METRICS_ADDR":      &cfg.MetricsAddr,
		"ARCHIVE_FILE":      &cfg.ArchiveFile,
		"ARCHIVE_FORMAT":    &cfg.ArchiveFormat,
	}
	for key, dst := range strs {
		if value, ok := EnvString(EnvPrefix + key); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"DB_MAX_CONNS":      &cfg.DBMaxConns,
		"KEY_CACHE_SIZE":    &cfg.KeyCacheSize,
		"FAILURE_THRESHOLD": &cfg.FailureThreshold,
	}
	for key, dst := range ints {
		value, ok, err := EnvInt(EnvPrefix + key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"LAUNCH_TIMEOUT":     &cfg.LaunchTimeout,
		"NAVIGATION_TIMEOUT": &cfg.NavigationTimeout,
		"FORM_TIMEOUT":       &cfg.FormTimeout,
		"TABLE_TIMEOUT":      &cfg.TableTimeout,
		"SETTLE_DELAY":       &cfg.SettleDelay,
		"INTERVAL":           &cfg.Interval,
		"FAILURE_BACKOFF":    &cfg.FailureBackoff,
	}
	for key, dst := range durations {
		value, ok, err := EnvDuration(EnvPrefix + key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	bools := map[string]*bool{
		"HEADLESS": &cfg.Headless,
		"ONCE":     &cfg.Once,
		"VERBOSE":  &cfg.Verbose,
	}
	for key, dst := range bools {
		value, ok, err := EnvBool(EnvPrefix + key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	// Passwords are taken verbatim; surrounding spaces may be part of them.
	if value := os.Getenv(EnvPrefix + "PASSWORD"); value != "" {
		cfg.Password = value
	}

	if value, ok := EnvString(EnvPrefix + "AUTH_MARKERS"); ok {
		cfg.AuthMarkers = splitCSV(value)
	}
	return nil
}

// EnvString returns a trimmed, non-empty environment value.
func EnvString(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses an integer environment value.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return n, true, nil
}

// EnvDuration parses a duration environment value such as "20s". Bare
// integers are read as seconds.
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second, true, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d, true, nil
}

// EnvBool parses a boolean environment value.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return b, true, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
