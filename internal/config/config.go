package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
)

// Config holds all configuration for the application.
type Config struct {
	Env         string `envconfig:"APP_ENV" default:"development"` // production|development
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	WebhookURL  string `envconfig:"WEBHOOK_URL"`

	Repay     RepayConfig     `envconfig:"REPAY"`
	Server    ServerConfig    `envconfig:"SERVER"`
	Database  DatabaseConfig  `envconfig:"DB"`
	Firestore FirestoreConfig `envconfig:"FIRESTORE"`
	Redis     RedisConfig     `envconfig:"REDIS"`
	NewRelic  NewRelicConfig  `envconfig:"NEW_RELIC"`
	Iamport   IamportConfig   `envconfig:"IAMPORT"`
	SMS       SMSConfig       `envconfig:"SMS"`
	Admin     AdminConfig     `envconfig:"ADMIN"`
}

// RepayConfig holds the batch and escalation settings.
type RepayConfig struct {
	MaxLevel      int           `split_words:"true" default:"4"`
	DailyQuota    int           `split_words:"true" default:"100"`
	PageSize      int           `split_words:"true" default:"100"`
	MaxPrice      int64         `split_words:"true" default:"33000"` // 0 disables the cap
	RetryDelay    time.Duration `split_words:"true" default:"3s"`
	CooldownDays  int           `split_words:"true" default:"7"`
	MinMinutes    int64         `split_words:"true" default:"1"`
	Cutoff        string        `default:"2021-01-01"`
	DefaultBranch string        `split_words:"true" default:"서울"`
	Timezone      string        `default:"Asia/Seoul"`
	LinkBase      string        `split_words:"true" default:"https://repay.hikick.kr"`
	TestOwnerID   string        `split_words:"true"` // Only this user's rides outside production
	LockTTL       time.Duration `split_words:"true" default:"2h"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        `default:"8080"`
	ReadTimeout  time.Duration `split_words:"true" default:"10s"`
	WriteTimeout time.Duration `split_words:"true" default:"30s"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string `default:"localhost"`
	Port     string `default:"5432"`
	User     string `default:"postgres"`
	Password string `default:"postgres"`
	Name     string `default:"repay"`
	SSLMode  string `default:"disable"`
}

// FirestoreConfig holds the Firebase project configuration.
type FirestoreConfig struct {
	ProjectID       string `split_words:"true"`
	CredentialsFile string `split_words:"true"`
}

// RedisConfig holds Redis configuration. An empty address keeps the run
// state in process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int `default:"0"`
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string `split_words:"true" default:"repay-batch"`
	LicenseKey string `split_words:"true"`
	Enabled    bool   `default:"false"`
}

// IamportConfig holds the payment gateway credentials.
type IamportConfig struct {
	BaseURL   string `split_words:"true" default:"https://api.iamport.kr"`
	APIKey    string `split_words:"true"`
	APISecret string `split_words:"true"`
}

// SMSConfig holds the messaging provider configuration.
type SMSConfig struct {
	BaseURL string `split_words:"true"`
	APIKey  string `split_words:"true"`
	Sender  string // Registered sender number
}

// AdminConfig holds the admin API settings.
type AdminConfig struct {
	JWTSecret      string        `split_words:"true"`
	CORSOrigins    []string      `split_words:"true" default:"*"`
	IdempotencyTTL time.Duration `split_words:"true" default:"24h"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction reports whether the batch may scan every user's rides.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location returns the zone calendar days are counted in.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Repay.Timezone)
}

// CutoffTime returns the start of the cutoff day in loc.
func (c *Config) CutoffTime(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", c.Repay.Cutoff, loc)
}

// OwnerFilter returns the user the backlog is restricted to, or "" in production.
func (c *Config) OwnerFilter() string {
	if c.IsProduction() {
		return ""
	}
	return c.Repay.TestOwnerID
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error

	if c.Repay.DailyQuota <= 0 {
		errs = append(errs, errors.New("REPAY_DAILY_QUOTA must be positive"))
	}
	if c.Repay.PageSize <= 0 {
		errs = append(errs, errors.New("REPAY_PAGE_SIZE must be positive"))
	}
	if c.Repay.MaxLevel < 2 {
		errs = append(errs, errors.New("REPAY_MAX_LEVEL must be at least 2"))
	}
	if c.Repay.CooldownDays < 0 {
		errs = append(errs, errors.New("REPAY_COOLDOWN_DAYS must not be negative"))
	}
	if c.Repay.MaxPrice < 0 {
		errs = append(errs, errors.New("REPAY_MAX_PRICE must not be negative"))
	}
	if !c.IsProduction() && c.Repay.TestOwnerID == "" {
		errs = append(errs, errors.New("REPAY_TEST_OWNER_ID is required outside production"))
	}
	if c.StoreDriver != StorePostgres && c.StoreDriver != StoreFirestore {
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.StoreDriver == StoreFirestore && c.Firestore.ProjectID == "" {
		errs = append(errs, errors.New("FIRESTORE_PROJECT_ID is required for the firestore driver"))
	}

	loc, err := c.Location()
	if err != nil {
		errs = append(errs, fmt.Errorf("REPAY_TIMEZONE: %w", err))
	} else if _, err := c.CutoffTime(loc); err != nil {
		errs = append(errs, fmt.Errorf("REPAY_CUTOFF: %w", err))
	}

	return errors.Join(errs...)
}

// ValidateServe checks the extra settings of the admin API.
func (c *Config) ValidateServe() error {
	if c.Admin.JWTSecret == "" {
		return errors.New("ADMIN_JWT_SECRET is required to serve the admin API")
	}
	return nil
}
