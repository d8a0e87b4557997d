package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models complyline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Database struct {
		// DSN selects Postgres when set to a postgres:// URL.
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret   string `yaml:"jwt_secret"`
		JWTIssuer   string `yaml:"jwt_issuer"`
		JWTAudience string `yaml:"jwt_audience"`
	} `yaml:"auth"`
	RateLimit struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Audit struct {
		// RetentionDays is kept as text: it is interpreted leniently and may
		// come from AUDIT_LOG_RETENTION_DAYS.
		RetentionDays string `yaml:"retention_days"`
	} `yaml:"audit"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Notifications NotificationConfig `yaml:"notifications"`
	Webhooks      []Webhook          `yaml:"webhooks"`
}

type SchedulerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Monthly     string `yaml:"monthly"`
	Reminders   string `yaml:"reminders"`
	Escalations string `yaml:"escalations"`
	Retention   string `yaml:"retention"`
}

type NotificationConfig struct {
	ReminderWindowHours int `yaml:"reminder_window_hours"`
	SendGrid            struct {
		APIKey    string `yaml:"api_key"`
		FromEmail string `yaml:"from_email"`
	} `yaml:"sendgrid"`
	Twilio struct {
		AccountSID string `yaml:"account_sid"`
		AuthToken  string `yaml:"auth_token"`
		FromNumber string `yaml:"from_number"`
	} `yaml:"twilio"`
}

// Webhook forwards audit entries whose action matches one of Actions (all when empty).
type Webhook struct {
	URL     string   `yaml:"url"`
	Secret  string   `yaml:"secret"`
	Actions []string `yaml:"actions"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with cl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config.rate_limit values must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("config.rate_limit.burst is required when requests_per_second is set")
	}
	specs := map[string]string{
		"monthly":     c.Scheduler.Monthly,
		"reminders":   c.Scheduler.Reminders,
		"escalations": c.Scheduler.Escalations,
		"retention":   c.Scheduler.Retention,
	}
	for name, spec := range specs {
		if spec == "" {
			if c.Scheduler.Enabled {
				return fmt.Errorf("config.scheduler.%s is required", name)
			}
			continue
		}
		if _, err := cronParser.Parse(spec); err != nil {
			return fmt.Errorf("config.scheduler.%s: %w", name, err)
		}
	}
	if c.Notifications.ReminderWindowHours < 0 {
		return fmt.Errorf("config.notifications.reminder_window_hours must not be negative")
	}
	if c.Notifications.SendGrid.APIKey != "" && c.Notifications.SendGrid.FromEmail == "" {
		return fmt.Errorf("config.notifications.sendgrid.from_email is required with an api key")
	}
	tw := c.Notifications.Twilio
	if tw.AccountSID != "" && (tw.AuthToken == "" || tw.FromNumber == "") {
		return fmt.Errorf("config.notifications.twilio needs auth_token and from_number")
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("webhook %d has invalid url %q", i, hook.URL)
		}
		for _, action := range hook.Actions {
			if action == "" {
				return fmt.Errorf("webhook %d has empty action", i)
			}
		}
	}
	return nil
}

// ApplyEnv overrides secrets and deployment settings from environment
// variables. getenv is os.Getenv outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Database.DSN, "DATABASE_URL")
	set(&c.Auth.JWTSecret, "JWT_SECRET")
	set(&c.Audit.RetentionDays, "AUDIT_LOG_RETENTION_DAYS")
	set(&c.Notifications.SendGrid.APIKey, "SENDGRID_API_KEY")
	set(&c.Notifications.SendGrid.FromEmail, "SENDGRID_FROM_EMAIL")
	set(&c.Notifications.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	set(&c.Notifications.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	set(&c.Notifications.Twilio.FromNumber, "TWILIO_FROM_NUMBER")
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "complyline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v1

database:
  dsn: ""

auth:
  jwt_secret: ""

rate_limit:
  requests_per_second: 20
  burst: 40

audit:
  retention_days: "365"

scheduler:
  enabled: true
  # seconds minutes hours day-of-month month day-of-week
  monthly: "0 5 0 1 * *"
  reminders: "0 0 9 * * *"
  escalations: "0 30 14 * * *"
  retention: "0 0 1 * * *"

notifications:
  reminder_window_hours: 48
  sendgrid:
    api_key: ""
    from_email: ""
  twilio:
    account_sid: ""
    auth_token: ""
    from_number: ""

webhooks: []
`
