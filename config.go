package mail2fa

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Config defines a public type used by mail2fa APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Code      CodeConfig
	Retention RetentionConfig
	Store     StoreConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
CODE CONFIG
====================================
*/

// CodeConfig holds the engine-wide code defaults. Per-call Settings override
// Length and Expiry.
type CodeConfig struct {
	Length       int
	Expiry       time.Duration
	MaxAttempts  int
	Salt         string // hashed as sha256(Salt + code); changing it invalidates live codes
	TemplateName string
}

// RetentionConfig controls what Sweep deletes.
type RetentionConfig struct {
	CodeGrace         time.Duration
	AuditLogRetention time.Duration
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreBackend selects where codes, audit rows and templates are kept.
type StoreBackend string

const (
	// StoreRedis is an exported constant or variable used by the verification engine.
	StoreRedis StoreBackend = "redis"
	// StorePostgres is an exported constant or variable used by the verification engine.
	StorePostgres StoreBackend = "postgres"
)

// StoreConfig defines a public type used by mail2fa APIs.
type StoreConfig struct {
	Backend     StoreBackend
	RedisPrefix string
}

// AuditConfig defines a public type used by mail2fa APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	SinkTimeout time.Duration
}

// MetricsConfig defines a public type used by mail2fa APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

const (
	defaultCodeLength    = 6
	defaultCodeExpiry    = 5 * time.Minute
	defaultMaxAttempts   = 3
	defaultCodeSalt      = "rice"
	defaultTemplateName  = "mail2fa: Email 2FA"
	defaultCodeGrace     = 24 * time.Hour
	defaultLogRetention  = 30 * 24 * time.Hour
	defaultRedisPrefix   = "m2f"
	maxCodeExpiry        = 24 * time.Hour
	maxConfiguredLength  = 32
	maxConfiguredAttempt = 10
)

// DefaultConfig returns the configuration used when the builder is given none.
func DefaultConfig() Config {
	return Config{
		Code: CodeConfig{
			Length:       defaultCodeLength,
			Expiry:       defaultCodeExpiry,
			MaxAttempts:  defaultMaxAttempts,
			Salt:         defaultCodeSalt,
			TemplateName: defaultTemplateName,
		},
		Retention: RetentionConfig{
			CodeGrace:         defaultCodeGrace,
			AuditLogRetention: defaultLogRetention,
		},
		Store: StoreConfig{
			Backend:     StoreRedis,
			RedisPrefix: defaultRedisPrefix,
		},
		Audit: AuditConfig{
			Enabled:     false,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation fails.
// Validate does not mutate shared global state and can be used concurrently.
func (c *Config) Validate() error {
	// Code
	if c.Code.Length <= 0 || c.Code.Length > maxConfiguredLength {
		return errors.New("Code Length must be between 1 and 32")
	}
	if c.Code.Expiry <= 0 {
		return errors.New("Code Expiry must be > 0")
	}
	if c.Code.Expiry > maxCodeExpiry {
		return errors.New("Code Expiry must be <= 24h")
	}
	if c.Code.MaxAttempts <= 0 || c.Code.MaxAttempts > maxConfiguredAttempt {
		return errors.New("Code MaxAttempts must be between 1 and 10")
	}
	if c.Code.Salt == "" {
		return errors.New("Code Salt must not be empty")
	}
	if strings.TrimSpace(c.Code.TemplateName) == "" {
		return errors.New("Code TemplateName must not be empty")
	}

	// Retention
	if c.Retention.CodeGrace < 0 {
		return errors.New("Retention CodeGrace must be >= 0")
	}
	if c.Retention.AuditLogRetention <= 0 {
		return errors.New("Retention AuditLogRetention must be > 0")
	}

	// Store
	switch c.Store.Backend {
	case StoreRedis, StorePostgres:
		// valid
	default:
		return errors.New("Store Backend must be 'redis' or 'postgres'")
	}
	if c.Store.Backend == StoreRedis && strings.ContainsAny(c.Store.RedisPrefix, "{}") {
		return errors.New("Store RedisPrefix must not contain braces")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

/*
====================================
PER-CALL SETTINGS
====================================
*/

// Settings are the host-configurable options passed with each challenge or
// activation call. A zero field falls back to the engine's Code config.
type Settings struct {
	CodeExpiry time.Duration
	CodeLength int
}

// ParseSettings reads the "CodeExpiry" (minutes) and "CodeLength" (digits)
// options. A value that is missing, not a positive integer or above the
// configurable maximum falls back to the default.
func ParseSettings(raw map[string]string) Settings {
	s := Settings{
		CodeExpiry: defaultCodeExpiry,
		CodeLength: defaultCodeLength,
	}
	if n, ok := positiveInt(raw["CodeExpiry"]); ok && n <= int(maxCodeExpiry/time.Minute) {
		s.CodeExpiry = time.Duration(n) * time.Minute
	}
	if n, ok := positiveInt(raw["CodeLength"]); ok && n <= maxConfiguredLength {
		s.CodeLength = n
	}
	return s
}

func positiveInt(v string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (e *Engine) resolveSettings(s Settings) Settings {
	if s.CodeExpiry <= 0 || s.CodeExpiry > maxCodeExpiry {
		s.CodeExpiry = e.config.Code.Expiry
	}
	if s.CodeLength <= 0 || s.CodeLength > maxConfiguredLength {
		s.CodeLength = e.config.Code.Length
	}
	return s
}
