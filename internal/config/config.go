package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no config path is provided.
const DefaultConfigPath = "config.yaml"

// ConfigPathEnv names the environment variable that overrides the config path.
const ConfigPathEnv = "CARDSTORE_CONFIG"

// AppConfig holds process-level options passed from the CLI.
type AppConfig struct {
	ConfigPath string // Path to the YAML config file.
}

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Redis    RedisConfig    `yaml:"redis"`
	Yoco     YocoConfig     `yaml:"yoco"`
	PayFast  PayFastConfig  `yaml:"payfast"`
	Payments PaymentsConfig `yaml:"payments"`
}

// ServerConfig configures the HTTP listener and public URLs.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`             // Listen address, e.g. ":5000".
	FrontendURL     string        `yaml:"frontend_url"`     // Base URL of the web client.
	BackendURL      string        `yaml:"backend_url"`      // Public base URL of this API.
	CORSOrigins     []string      `yaml:"cors_origins"`     // Allowed CORS origins; empty allows all.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Graceful shutdown budget.
}

// DatabaseConfig holds the database DSN.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// JWTConfig holds the signing secret and token lifetime.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// AuthConfig controls registration behaviour.
type AuthConfig struct {
	RequireEmailVerification bool          `yaml:"require_email_verification"`
	AdminEmails              []string      `yaml:"admin_emails"`
	MinPasswordLength        int           `yaml:"min_password_length"`
	ResetTokenTTL            time.Duration `yaml:"reset_token_ttl"`
	CookieSecure             bool          `yaml:"cookie_secure"`
}

// LoggingConfig configures logrus output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "text" or "json".
	File       string `yaml:"file"`   // Optional rotating log file.
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SMTPConfig configures outbound mail. An empty host logs mail instead of sending it.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// RedisConfig configures the distributed lock backend. An empty addr uses an in-process lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// YocoConfig holds Yoco checkout credentials.
type YocoConfig struct {
	SecretKey     string        `yaml:"secret_key"`
	WebhookSecret string        `yaml:"webhook_secret"`
	APIURL        string        `yaml:"api_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

// PayFastConfig holds PayFast merchant credentials.
type PayFastConfig struct {
	MerchantID  string `yaml:"merchant_id"`
	MerchantKey string `yaml:"merchant_key"`
	Passphrase  string `yaml:"passphrase"`
	ProcessURL  string `yaml:"process_url"`
	ItemName    string `yaml:"item_name"`
}

// PaymentsConfig holds provider-independent payment options.
type PaymentsConfig struct {
	DefaultProvider string        `yaml:"default_provider"`
	Currency        string        `yaml:"currency"`
	DedupeWindow    time.Duration `yaml:"dedupe_window"`
	PendingExpiry   time.Duration `yaml:"pending_expiry"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5000",
			FrontendURL:     "http://localhost:3000",
			BackendURL:      "http://localhost:5000",
			ShutdownTimeout: 10 * time.Second,
		},
		JWT: JWTConfig{Expiry: 24 * time.Hour},
		Auth: AuthConfig{
			RequireEmailVerification: true,
			MinPasswordLength:        6,
			ResetTokenTTL:            time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		SMTP: SMTPConfig{Port: 587},
		Yoco: YocoConfig{
			APIURL:  "https://payments.yoco.com/api/",
			Timeout: 15 * time.Second,
		},
		PayFast: PayFastConfig{
			ProcessURL: "https://www.payfast.co.za/eng/process",
			ItemName:   "Watchlist Pro Subscription",
		},
		Payments: PaymentsConfig{
			DefaultProvider: "payfast",
			Currency:        "ZAR",
			DedupeWindow:    5 * time.Minute,
			PendingExpiry:   24 * time.Hour,
			SweepInterval:   time.Hour,
		},
	}
}

// ResolveConfigPath returns the config path from the flag, environment, or default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if env := strings.TrimSpace(os.Getenv(ConfigPathEnv)); env != "" {
		return env
	}
	return DefaultConfigPath
}

// ConfigExists reports whether a config file exists at path.
func ConfigExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads the YAML file (when present), then .env, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" && ConfigExists(path) {
		data, errRead := os.ReadFile(path)
		if errRead != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, errRead)
		}
		if errDecode := yaml.Unmarshal(data, cfg); errDecode != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, errDecode)
		}
	}

	// Missing .env is normal outside local development.
	_ = godotenv.Load()
	applyEnv(cfg)

	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

// LoadDatabaseDSN loads only what is needed to open the database.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, err := Load(path)
	if err != nil {
		return "", err
	}
	return cfg.Database.DSN, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn is required (or DATABASE_URL)")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt.secret is required (or JWT_SECRET)")
	}
	if c.JWT.Expiry <= 0 {
		return errors.New("config: jwt.expiry must be positive")
	}
	switch c.Payments.DefaultProvider {
	case "yoco", "payfast":
	default:
		return fmt.Errorf("config: unsupported payments.default_provider %q", c.Payments.DefaultProvider)
	}
	return nil
}

// IsAdminEmail reports whether email is listed in auth.admin_emails.
func (c AuthConfig) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, candidate := range c.AdminEmails {
		if strings.ToLower(strings.TrimSpace(candidate)) == email {
			return true
		}
	}
	return false
}
