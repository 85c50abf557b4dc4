package service

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/mail2fa"
)

type ServerConfig struct {
	Addr       string `yaml:"addr"`
	RestartURL string `yaml:"restart_url"`
	// AdminToken guards /admin and /metrics. Empty allows loopback clients only.
	AdminToken string `yaml:"admin_token"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

type CodeConfig struct {
	Length       int           `yaml:"length"`
	Expiry       time.Duration `yaml:"expiry"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Salt         string        `yaml:"salt"`
	TemplateName string        `yaml:"template_name"`
}

type RetentionConfig struct {
	CodeGrace         time.Duration `yaml:"code_grace"`
	AuditLogRetention time.Duration `yaml:"audit_log_retention"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
}

type SMTPConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	From        string        `yaml:"from"`
	SSL         bool          `yaml:"ssl"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	MaxInFlight int           `yaml:"max_in_flight"`
}

type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BufferSize int    `yaml:"buffer_size"`
	JSONLPath  string `yaml:"jsonl_path"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Latency bool `yaml:"latency"`
}

type User struct {
	ID        string `yaml:"id"`
	Email     string `yaml:"email"`
	FirstName string `yaml:"first_name"`
}

// Config is the on-disk configuration of the mail2fa binaries.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Code      CodeConfig      `yaml:"code"`
	Retention RetentionConfig `yaml:"retention"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Users     []User          `yaml:"users"`
}

// DefaultConfig mirrors mail2fa.DefaultConfig plus local service defaults.
func DefaultConfig() Config {
	engine := mail2fa.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:       ":8080",
			RestartURL: "/login",
		},
		Store: StoreConfig{
			Backend:     string(engine.Store.Backend),
			RedisAddr:   "localhost:6379",
			RedisPrefix: engine.Store.RedisPrefix,
		},
		Code: CodeConfig{
			Length:       engine.Code.Length,
			Expiry:       engine.Code.Expiry,
			MaxAttempts:  engine.Code.MaxAttempts,
			Salt:         engine.Code.Salt,
			TemplateName: engine.Code.TemplateName,
		},
		Retention: RetentionConfig{
			CodeGrace:         engine.Retention.CodeGrace,
			AuditLogRetention: engine.Retention.AuditLogRetention,
			SweepInterval:     24 * time.Hour,
		},
		SMTP: SMTPConfig{
			Port:        587,
			SendTimeout: 15 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize: engine.Audit.BufferSize,
		},
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty),
// then MAIL2FA_* environment overrides.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("mail2fa: .env not loaded: %v", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("MAIL2FA_ADDR", &cfg.Server.Addr)
	setString("MAIL2FA_ADMIN_TOKEN", &cfg.Server.AdminToken)
	setString("MAIL2FA_STORE_BACKEND", &cfg.Store.Backend)
	setString("MAIL2FA_REDIS_ADDR", &cfg.Store.RedisAddr)
	setString("MAIL2FA_REDIS_PASSWORD", &cfg.Store.RedisPassword)
	setString("MAIL2FA_POSTGRES_DSN", &cfg.Store.PostgresDSN)
	setString("MAIL2FA_CODE_SALT", &cfg.Code.Salt)
	setString("MAIL2FA_SMTP_HOST", &cfg.SMTP.Host)
	setString("MAIL2FA_SMTP_USERNAME", &cfg.SMTP.Username)
	setString("MAIL2FA_SMTP_PASSWORD", &cfg.SMTP.Password)
	setString("MAIL2FA_SMTP_FROM", &cfg.SMTP.From)

	if v, ok := os.LookupEnv("MAIL2FA_SMTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAIL2FA_SMTP_PORT: %w", err)
		}
		cfg.SMTP.Port = port
	}
	if v, ok := os.LookupEnv("MAIL2FA_REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAIL2FA_REDIS_DB: %w", err)
		}
		cfg.Store.RedisDB = db
	}
	return nil
}

// EngineConfig converts the file configuration into a mail2fa.Config.
func (c Config) EngineConfig() mail2fa.Config {
	out := mail2fa.DefaultConfig()
	out.Code = mail2fa.CodeConfig{
		Length:       c.Code.Length,
		Expiry:       c.Code.Expiry,
		MaxAttempts:  c.Code.MaxAttempts,
		Salt:         c.Code.Salt,
		TemplateName: c.Code.TemplateName,
	}
	out.Retention = mail2fa.RetentionConfig{
		CodeGrace:         c.Retention.CodeGrace,
		AuditLogRetention: c.Retention.AuditLogRetention,
	}
	out.Store = mail2fa.StoreConfig{
		Backend:     mail2fa.StoreBackend(c.Store.Backend),
		RedisPrefix: c.Store.RedisPrefix,
	}
	out.Audit.Enabled = c.Audit.Enabled
	if c.Audit.BufferSize > 0 {
		out.Audit.BufferSize = c.Audit.BufferSize
	}
	out.Metrics = mail2fa.MetricsConfig{
		Enabled:                 c.Metrics.Enabled,
		EnableLatencyHistograms: c.Metrics.Enabled && c.Metrics.Latency,
	}
	return out
}
