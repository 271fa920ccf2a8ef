// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Драйверы хранилища.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig    `yaml:"http"`
	Auth     AuthConfig    `yaml:"auth"`
	DB       DBConfig      `yaml:"db"`
	Mail     MailConfig    `yaml:"mail"`
	Janitor  JanitorConfig `yaml:"janitor"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
}

// HTTPConfig — сетевые настройки HTTP-сервера (API + /metrics, /livez, /healthz).
type HTTPConfig struct {
	Host     string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"HTTP_PORT" env-default:"50081"`
	BasePath string `yaml:"base_path" env:"HTTP_BASE_PATH" env-default:"/api"`
}

// Addr возвращает адрес в формате host:port.
func (g HTTPConfig) Addr() string {
	return net.JoinHostPort(g.Host, g.Port)
}

// AuthConfig содержит параметры выпуска и валидации токенов.
//
// Сроки жизни JWT задаются человекочитаемо ("15m", "7 days") и разбираются
// кодеком при старте; сроки одноразовых токенов — в секундах.
type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	AccessTokenExpiry  string        `yaml:"access_token_expiry" env:"ACCESS_TOKEN_EXPIRY" env-default:"15m"`
	RefreshTokenExpiry string        `yaml:"refresh_token_expiry" env:"REFRESH_TOKEN_EXPIRY" env-default:"7d"`
	Leeway             time.Duration `yaml:"leeway" env:"JWT_LEEWAY" env-default:"5s"`
	Issuer             string        `yaml:"issuer" env:"ISSUER" env-default:"session-service"`
	Audience           []string      `yaml:"audience" env:"AUDIENCE" env-default:"api-gateway"`

	EmailVerificationExpiry  int  `yaml:"email_verification_expiry" env:"EMAIL_VERIFICATION_EXPIRY" env-default:"86400"`
	PasswordResetExpiry      int  `yaml:"password_reset_expiry" env:"PASSWORD_RESET_EXPIRY" env-default:"3600"`
	EmailVerificationEnabled bool `yaml:"email_verification_enabled" env:"EMAIL_VERIFICATION_ENABLED" env-default:"true"`
	// RefreshReuseDetection включает отзыв всех сессий пользователя
	// при повторном предъявлении уже ротированного refresh-токена.
	RefreshReuseDetection bool `yaml:"refresh_reuse_detection" env:"REFRESH_REUSE_DETECTION" env-default:"false"`
	BcryptCost            int  `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
}

// DBConfig — настройки хранилища.
type DBConfig struct {
	Driver      string `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL"`
	// Migrate — применять миграции goose при старте.
	Migrate bool `yaml:"migrate" env:"DB_MIGRATE" env-default:"true"`
}

// MailConfig — SMTP-отправка уведомлений. При Enabled=false письма только логируются.
type MailConfig struct {
	Enabled     bool   `yaml:"enabled" env:"MAIL_ENABLED" env-default:"false"`
	Host        string `yaml:"host" env:"SMTP_HOST"`
	Port        int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username    string `yaml:"username" env:"SMTP_USER"`
	Password    string `yaml:"password" env:"SMTP_PASSWORD"`
	From        string `yaml:"from" env:"MAIL_FROM" env-default:"noreply@localhost"`
	FromName    string `yaml:"from_name" env:"MAIL_FROM_NAME" env-default:"News Aggregator"`
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL" env-default:"http://localhost:3000"`
}

// JanitorConfig — периодическая очистка просроченных токенов.
type JanitorConfig struct {
	Period time.Duration `yaml:"period" env:"JANITOR_PERIOD" env-default:"30m"`
}

// Validate проверяет межполевые ограничения, которые не выразить тегами.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.DatabaseURL == "" {
			return errors.New("db.db_url is required for postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown db driver %q", c.DB.Driver)
	}

	if c.Auth.EmailVerificationExpiry <= 0 || c.Auth.PasswordResetExpiry <= 0 {
		return errors.New("one-time token expiry must be positive")
	}

	if c.Mail.Enabled && c.Mail.Host == "" {
		return errors.New("mail.host is required when mail is enabled")
	}

	return nil
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла ENV-переменные накладываются поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	readFile := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return validated(&cfg)
	}

	if path != "" {
		return readFile(path)
	}

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return readFile(envPath)
	}

	if _, err := os.Stat("local.yaml"); err == nil {
		return readFile("local.yaml")
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return validated(&cfg)
}

func validated(cfg *Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
