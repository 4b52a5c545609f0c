package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	BlacklistPostgres = "postgres"
	BlacklistRedis    = "redis"
)

// Config is the resolved runtime configuration.
type Config struct {
	AppEnv  string
	Port    string
	Release string

	StoreDriver      string
	DatabaseURL      string
	RunMigrations    bool
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	DBConnMaxLife    time.Duration
	DBConnMaxIdle    time.Duration
	BlacklistBackend string
	RedisURL         string

	JWTSecret            string
	JWTIssuer            string
	JWTAudience          string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	PasswordResetTTL     time.Duration
	BcryptCost           int
	LoginMaxAttempts     int
	LoginLockDuration    time.Duration
	LockoutExtend        bool
	AllowMultipleDevices bool

	LoginRateLimitMax    int
	LoginRateLimitWindow time.Duration

	AMQPURL          string
	EmailQueue       string
	PasswordResetURL string

	AdminUsername string
	AdminEmail    string
	AdminPassword string

	CORSAllowedOrigins []string
	CronSecret         string
	CleanupInterval    time.Duration

	SentryDSN string
}

// configFile mirrors the optional YAML file named by CONFIG_FILE.
type configFile struct {
	App struct {
		Env  string `yaml:"env"`
		Port string `yaml:"port"`
	} `yaml:"app"`
	Storage struct {
		Driver      string `yaml:"driver"`
		DatabaseURL string `yaml:"database_url"`
		Blacklist   string `yaml:"blacklist_backend"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"storage"`
	Auth struct {
		Issuer               string `yaml:"issuer"`
		Audience             string `yaml:"audience"`
		AccessTTLMinutes     int    `yaml:"access_token_ttl_minutes"`
		RefreshTTLDays       int    `yaml:"refresh_token_ttl_days"`
		ResetTTLMinutes      int    `yaml:"password_reset_ttl_minutes"`
		BcryptCost           int    `yaml:"bcrypt_cost"`
		MaxAttempts          int    `yaml:"login_max_attempts"`
		LockMinutes          int    `yaml:"login_lock_minutes"`
		ExtendOnAttempt      *bool  `yaml:"lockout_extend_on_attempt"`
		AllowMultipleDevices *bool  `yaml:"allow_multiple_devices"`
	} `yaml:"auth"`
	Notifications struct {
		AMQPURL  string `yaml:"amqp_url"`
		Queue    string `yaml:"email_queue"`
		ResetURL string `yaml:"password_reset_url"`
	} `yaml:"notifications"`
	HTTP struct {
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"http"`
}

// Load resolves configuration in priority order: defaults -> file -> env.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"), os.LookupEnv)
}

func LoadFrom(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{
		AppEnv:               "development",
		Port:                 "8080",
		StoreDriver:          DriverPostgres,
		RunMigrations:        true,
		DBMaxOpenConns:       10,
		DBMaxIdleConns:       5,
		DBConnMaxLife:        30 * time.Minute,
		DBConnMaxIdle:        10 * time.Minute,
		BlacklistBackend:     BlacklistPostgres,
		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      7 * 24 * time.Hour,
		PasswordResetTTL:     time.Hour,
		BcryptCost:           12,
		LoginMaxAttempts:     5,
		LoginLockDuration:    15 * time.Minute,
		AllowMultipleDevices: true,
		LoginRateLimitMax:    10,
		LoginRateLimitWindow: time.Minute,
		CleanupInterval:      time.Hour,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		var f configFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		applyFile(&cfg, f)
	}

	env := envReader{lookup: lookup}
	cfg.AppEnv = env.str("APP_ENV", cfg.AppEnv)
	cfg.Port = env.str("PORT", cfg.Port)
	cfg.Release = env.str("RELEASE", cfg.Release)

	cfg.StoreDriver = strings.ToLower(env.str("STORE_DRIVER", cfg.StoreDriver))
	cfg.DatabaseURL = env.str("DATABASE_URL", cfg.DatabaseURL)
	cfg.RunMigrations = env.boolean("RUN_MIGRATIONS", cfg.RunMigrations)
	cfg.DBMaxOpenConns = env.integer("DB_MAX_OPEN_CONNS", cfg.DBMaxOpenConns)
	cfg.DBMaxIdleConns = env.integer("DB_MAX_IDLE_CONNS", cfg.DBMaxIdleConns)
	cfg.DBConnMaxLife = env.duration("DB_CONN_MAX_LIFETIME_MINUTES", time.Minute, cfg.DBConnMaxLife)
	cfg.DBConnMaxIdle = env.duration("DB_CONN_MAX_IDLE_TIME_MINUTES", time.Minute, cfg.DBConnMaxIdle)
	cfg.BlacklistBackend = strings.ToLower(env.str("BLACKLIST_BACKEND", cfg.BlacklistBackend))
	cfg.RedisURL = env.str("REDIS_URL", cfg.RedisURL)

	cfg.JWTSecret = env.str("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = env.str("JWT_ISSUER", cfg.JWTIssuer)
	cfg.JWTAudience = env.str("JWT_AUDIENCE", cfg.JWTAudience)
	cfg.AccessTokenTTL = env.duration("ACCESS_TOKEN_TTL_MINUTES", time.Minute, cfg.AccessTokenTTL)
	cfg.RefreshTokenTTL = env.duration("REFRESH_TOKEN_TTL_DAYS", 24*time.Hour, cfg.RefreshTokenTTL)
	cfg.PasswordResetTTL = env.duration("PASSWORD_RESET_TTL_MINUTES", time.Minute, cfg.PasswordResetTTL)
	cfg.BcryptCost = env.integer("BCRYPT_COST", cfg.BcryptCost)
	cfg.LoginMaxAttempts = env.integer("LOGIN_MAX_ATTEMPTS", cfg.LoginMaxAttempts)
	cfg.LoginLockDuration = env.duration("LOGIN_LOCK_MINUTES", time.Minute, cfg.LoginLockDuration)
	cfg.LockoutExtend = env.boolean("LOCKOUT_EXTEND_ON_ATTEMPT", cfg.LockoutExtend)
	cfg.AllowMultipleDevices = env.boolean("ALLOW_MULTIPLE_DEVICES", cfg.AllowMultipleDevices)

	cfg.LoginRateLimitMax = env.integer("LOGIN_RATE_LIMIT_MAX", cfg.LoginRateLimitMax)
	cfg.LoginRateLimitWindow = env.duration("LOGIN_RATE_LIMIT_WINDOW_SECONDS", time.Second, cfg.LoginRateLimitWindow)

	cfg.AMQPURL = env.str("AMQP_URL", cfg.AMQPURL)
	cfg.EmailQueue = env.str("EMAIL_QUEUE", cfg.EmailQueue)
	cfg.PasswordResetURL = env.str("PASSWORD_RESET_URL", cfg.PasswordResetURL)

	cfg.AdminUsername = env.str("ADMIN_USERNAME", cfg.AdminUsername)
	cfg.AdminEmail = env.str("ADMIN_EMAIL", cfg.AdminEmail)
	cfg.AdminPassword = env.str("ADMIN_PASSWORD", cfg.AdminPassword)

	if origins := env.str("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.CORSAllowedOrigins = splitList(origins)
	}
	cfg.CronSecret = env.str("CRON_SECRET", cfg.CronSecret)
	cfg.CleanupInterval = env.duration("CLEANUP_INTERVAL_MINUTES", time.Minute, cfg.CleanupInterval)

	cfg.SentryDSN = env.str("SENTRY_DSN", cfg.SentryDSN)

	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	if f.App.Env != "" {
		cfg.AppEnv = f.App.Env
	}
	if f.App.Port != "" {
		cfg.Port = f.App.Port
	}
	if f.Storage.Driver != "" {
		cfg.StoreDriver = f.Storage.Driver
	}
	if f.Storage.DatabaseURL != "" {
		cfg.DatabaseURL = f.Storage.DatabaseURL
	}
	if f.Storage.Blacklist != "" {
		cfg.BlacklistBackend = f.Storage.Blacklist
	}
	if f.Storage.RedisURL != "" {
		cfg.RedisURL = f.Storage.RedisURL
	}
	if f.Auth.Issuer != "" {
		cfg.JWTIssuer = f.Auth.Issuer
	}
	if f.Auth.Audience != "" {
		cfg.JWTAudience = f.Auth.Audience
	}
	if f.Auth.AccessTTLMinutes > 0 {
		cfg.AccessTokenTTL = time.Duration(f.Auth.AccessTTLMinutes) * time.Minute
	}
	if f.Auth.RefreshTTLDays > 0 {
		cfg.RefreshTokenTTL = time.Duration(f.Auth.RefreshTTLDays) * 24 * time.Hour
	}
	if f.Auth.ResetTTLMinutes > 0 {
		cfg.PasswordResetTTL = time.Duration(f.Auth.ResetTTLMinutes) * time.Minute
	}
	if f.Auth.BcryptCost > 0 {
		cfg.BcryptCost = f.Auth.BcryptCost
	}
	if f.Auth.MaxAttempts > 0 {
		cfg.LoginMaxAttempts = f.Auth.MaxAttempts
	}
	if f.Auth.LockMinutes > 0 {
		cfg.LoginLockDuration = time.Duration(f.Auth.LockMinutes) * time.Minute
	}
	if f.Auth.ExtendOnAttempt != nil {
		cfg.LockoutExtend = *f.Auth.ExtendOnAttempt
	}
	if f.Auth.AllowMultipleDevices != nil {
		cfg.AllowMultipleDevices = *f.Auth.AllowMultipleDevices
	}
	if f.Notifications.AMQPURL != "" {
		cfg.AMQPURL = f.Notifications.AMQPURL
	}
	if f.Notifications.Queue != "" {
		cfg.EmailQueue = f.Notifications.Queue
	}
	if f.Notifications.ResetURL != "" {
		cfg.PasswordResetURL = f.Notifications.ResetURL
	}
	if len(f.HTTP.CORSAllowedOrigins) > 0 {
		cfg.CORSAllowedOrigins = f.HTTP.CORSAllowedOrigins
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("missing required env: JWT_SECRET"))
	} else if len(c.JWTSecret) < 32 && c.AppEnv == "production" {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes in production"))
	}

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("missing required env: DATABASE_URL"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.BlacklistBackend {
	case BlacklistPostgres:
		// with STORE_DRIVER=memory this resolves to the in-memory blacklist
	case BlacklistRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("missing required env: REDIS_URL for redis blacklist"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BLACKLIST_BACKEND %q", c.BlacklistBackend))
	}

	return errors.Join(errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) str(name, fallback string) string {
	value, ok := e.lookup(name)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func (e envReader) integer(name string, fallback int) int {
	value := e.str(name, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func (e envReader) duration(name string, unit time.Duration, fallback time.Duration) time.Duration {
	n := e.integer(name, 0)
	if n == 0 {
		return fallback
	}
	return time.Duration(n) * unit
}

func (e envReader) boolean(name string, fallback bool) bool {
	switch strings.ToLower(e.str(name, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
