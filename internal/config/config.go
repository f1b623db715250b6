package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ESNCAL_"

// DAVConfig locates and authenticates against the calendar gateway.
type DAVConfig struct {
	BaseURL       string `yaml:"base_url"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Token         string `yaml:"token"`
	PrincipalPath string `yaml:"principal_path"`
}

// APIConfig locates the API server owning grace tasks. Its base URL
// defaults to the gateway's.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
}

// PushConfig locates the websocket push server. Empty disables remote
// notifications.
type PushConfig struct {
	URL string `yaml:"url"`
}

type CalendarConfig struct {
	HomeID      string        `yaml:"home_id"`
	CalendarID  string        `yaml:"calendar_id"`
	GraceDelay  time.Duration `yaml:"grace_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	Timezone    string        `yaml:"timezone"`
}

type Config struct {
	DAV      DAVConfig      `yaml:"dav"`
	API      APIConfig      `yaml:"api"`
	Push     PushConfig     `yaml:"push"`
	Calendar CalendarConfig `yaml:"calendar"`
	LogLevel string         `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		Calendar: CalendarConfig{
			CalendarID:  "events",
			GraceDelay:  10 * time.Second,
			MaxAttempts: 3,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = cfg.DAV.BaseURL
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return def
}

func (c *Config) applyEnv() error {
	c.DAV.BaseURL = getenv("DAV_URL", c.DAV.BaseURL)
	c.DAV.Username = getenv("DAV_USERNAME", c.DAV.Username)
	c.DAV.Password = getenv("DAV_PASSWORD", c.DAV.Password)
	c.DAV.Token = getenv("DAV_TOKEN", c.DAV.Token)
	c.DAV.PrincipalPath = getenv("PRINCIPAL_PATH", c.DAV.PrincipalPath)
	c.API.BaseURL = getenv("API_URL", c.API.BaseURL)
	c.Push.URL = getenv("PUSH_URL", c.Push.URL)
	c.Calendar.HomeID = getenv("HOME_ID", c.Calendar.HomeID)
	c.Calendar.CalendarID = getenv("CALENDAR_ID", c.Calendar.CalendarID)
	c.Calendar.Timezone = getenv("TIMEZONE", c.Calendar.Timezone)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)

	if v := getenv("GRACE_DELAY", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sGRACE_DELAY: %w", EnvPrefix, err)
		}
		c.Calendar.GraceDelay = d
	}
	if v := getenv("MAX_ATTEMPTS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Calendar.MaxAttempts = n
	}
	return nil
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	if err := checkURL("dav.base_url", c.DAV.BaseURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.API.BaseURL != "" {
		if err := checkURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Push.URL != "" {
		if err := checkURL("push.url", c.Push.URL, "ws", "wss"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.DAV.Token == "" && c.DAV.Username != "" && c.DAV.Password == "" {
		errs = append(errs, errors.New("dav.password is required with dav.username"))
	}
	if c.Calendar.GraceDelay < 0 {
		errs = append(errs, errors.New("calendar.grace_delay must not be negative"))
	}
	if c.Calendar.MaxAttempts < 1 {
		errs = append(errs, errors.New("calendar.max_attempts must be at least 1"))
	}
	if c.Calendar.Timezone != "" {
		if _, err := time.LoadLocation(c.Calendar.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("calendar.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}

func checkURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, scheme := range schemes {
		if strings.EqualFold(u.Scheme, scheme) && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %s URL", field, strings.Join(schemes, " or "))
}
