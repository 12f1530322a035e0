package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends understood by Config.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds the client session options. Values resolve in order:
// DefaultConfig, YAML file, .env files, process environment.
type Config struct {
	APIBaseURL      string        `yaml:"api_base_url" env:"CHURCH_API_BASE_URL"`
	APITimeout      time.Duration `yaml:"api_timeout" env:"CHURCH_API_TIMEOUT"`
	Store           string        `yaml:"store" env:"CHURCH_AUTH_STORE"`
	StorePath       string        `yaml:"store_path" env:"CHURCH_AUTH_STORE_PATH"`
	RedisAddr       string        `yaml:"redis_addr" env:"CHURCH_REDIS_ADDR"`
	RedisPassword   string        `yaml:"redis_password" env:"CHURCH_REDIS_PASSWORD"`
	RedisDB         int           `yaml:"redis_db" env:"CHURCH_REDIS_DB"`
	RedisKey        string        `yaml:"redis_key" env:"CHURCH_REDIS_KEY"`
	LogLevel        string        `yaml:"log_level" env:"CHURCH_LOG_LEVEL"`
	StrictHydration bool          `yaml:"strict_hydration" env:"CHURCH_STRICT_HYDRATION"`
	ExpiryLeeway    time.Duration `yaml:"expiry_leeway" env:"CHURCH_EXPIRY_LEEWAY"`
	LoginPath       string        `yaml:"login_path" env:"CHURCH_LOGIN_PATH"`
	BreakerFailures uint32        `yaml:"breaker_failures" env:"CHURCH_BREAKER_FAILURES"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" env:"CHURCH_BREAKER_TIMEOUT"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:      "http://localhost:3000/api",
		APITimeout:      15 * time.Second,
		Store:           StoreFile,
		StorePath:       defaultStorePath(),
		RedisKey:        "church:admin:credentials",
		LogLevel:        "info",
		ExpiryLeeway:    30 * time.Second,
		LoginPath:       "/admin/login",
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "churchadmin", "credentials.json")
}

// LoadConfig resolves configuration from an optional YAML file, optional
// .env files and the environment, then validates it.
func LoadConfig(path string, envFiles ...string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.APIBaseURL, validation.Required, is.URL),
		validation.Field(&c.Store, validation.Required, validation.In(StoreFile, StoreSQLite, StoreRedis, StoreMemory)),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.LoginPath, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Store {
	case StoreFile, StoreSQLite:
		if c.StorePath == "" {
			return fmt.Errorf("invalid config: store_path is required for %s store", c.Store)
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("invalid config: redis_addr is required for redis store")
		}
	}

	if c.APITimeout <= 0 {
		return errors.New("invalid config: api_timeout must be positive")
	}

	return nil
}

func (c Config) GetAPIBaseURL() string {
	return c.APIBaseURL
}

func (c Config) GetAPITimeout() time.Duration {
	return c.APITimeout
}

func (c Config) GetLoginPath() string {
	return c.LoginPath
}

func (c Config) GetExpiryLeeway() time.Duration {
	return c.ExpiryLeeway
}

// ManagerOptions maps the config onto SessionManager options.
func (c Config) ManagerOptions() []ManagerOption {
	return []ManagerOption{
		WithExpiryLeeway(c.ExpiryLeeway),
		WithStrictHydration(c.StrictHydration),
	}
}
