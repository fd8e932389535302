package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const defaultSMTPPort = 587

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	AdminToken  string `env:"ADMIN_TOKEN"`
	Port        int    `env:"PORT"                  envDefault:"10000"`
	LogLevel    string `env:"LOG_LEVEL"             envDefault:"info"`
	CatalogPath string `env:"CATALOG_PATH"`

	DefaultRetainDays   int           `env:"DEFAULT_RETAIN_DAYS"   envDefault:"90"`
	ResolveTimeout      time.Duration `env:"RESOLVE_TIMEOUT"       envDefault:"10s"`
	ResolveInterval     time.Duration `env:"RESOLVE_INTERVAL"      envDefault:"1s"`
	IngestSchedule      string        `env:"INGEST_SCHEDULE"       envDefault:"0 * * * *"`
	DigestSchedule      string        `env:"DIGEST_SCHEDULE"       envDefault:"0 12 * * *"`
	DigestWindowMinutes int           `env:"DIGEST_WINDOW_MINUTES" envDefault:"1440"`

	SMTP SMTP
}

// SMTP is resolved from provider-specific variables first (Mailgun), then
// the generic ones.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	StartTLS bool
	From     string
	DigestTo string
}

// Configured reports whether every field needed for one delivery is set.
func (s SMTP) Configured() bool {
	return s.Host != "" && s.Username != "" && s.Password != "" && s.From != "" && s.DigestTo != ""
}

type rawSMTP struct {
	MailgunServer   string `env:"MAILGUN_SMTP_SERVER"`
	Host            string `env:"SMTP_HOST"`
	MailgunPort     int    `env:"MAILGUN_SMTP_PORT"`
	Port            int    `env:"SMTP_PORT"`
	MailgunLogin    string `env:"MAILGUN_SMTP_LOGIN"`
	Username        string `env:"SMTP_USERNAME"`
	MailgunPassword string `env:"MAILGUN_SMTP_PASSWORD"`
	Password        string `env:"SMTP_PASSWORD"`
	StartTLS        bool   `env:"SMTP_STARTTLS"         envDefault:"true"`
	MailgunFrom     string `env:"MAILGUN_FROM"`
	From            string `env:"EMAIL_FROM"`
	AdminEmail      string `env:"ADMIN_EMAIL"`
	DigestTo        string `env:"DIGEST_TO"`
}

// LoadDotEnv loads the given .env files when present. A missing file is not
// an error.
func LoadDotEnv(log *slog.Logger, paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			log.Debug("No .env file is loaded",
				"path", path,
				"error", err)

			continue
		}

		log.Info(".env file is loaded",
			"path", path)
	}
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	var raw rawSMTP
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse SMTP env: %w", err)
	}

	cfg.SMTP = raw.resolve()
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.AdminToken = strings.TrimSpace(cfg.AdminToken)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535 (got %d)", c.Port))
	}
	if c.DefaultRetainDays < 1 {
		errs = append(errs, fmt.Errorf("DEFAULT_RETAIN_DAYS must be >= 1 (got %d)", c.DefaultRetainDays))
	}
	if c.ResolveTimeout <= 0 {
		errs = append(errs, errors.New("RESOLVE_TIMEOUT must be positive"))
	}
	if c.ResolveInterval < 0 {
		errs = append(errs, errors.New("RESOLVE_INTERVAL must not be negative"))
	}
	if c.DigestWindowMinutes < 1 {
		errs = append(errs, fmt.Errorf("DIGEST_WINDOW_MINUTES must be >= 1 (got %d)", c.DigestWindowMinutes))
	}

	return errors.Join(errs...)
}

func (r rawSMTP) resolve() SMTP {
	port := firstInt(r.MailgunPort, r.Port)
	if port == 0 {
		port = defaultSMTPPort
	}

	username := first(r.MailgunLogin, r.Username)

	return SMTP{
		Host:     first(r.MailgunServer, r.Host),
		Port:     port,
		Username: username,
		Password: first(r.MailgunPassword, r.Password),
		StartTLS: r.StartTLS,
		From:     first(r.MailgunFrom, r.From, username),
		DigestTo: first(r.DigestTo, r.AdminEmail),
	}
}

func first(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	return ""
}

func firstInt(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}

	return 0
}
