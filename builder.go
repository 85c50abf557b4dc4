package mail2fa

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	internalaudit "github.com/MrEthical07/mail2fa/internal/audit"
	"github.com/MrEthical07/mail2fa/internal/stores"
	"github.com/MrEthical07/mail2fa/internal/stores/pgstore"
)

// Builder defines a public type used by mail2fa APIs.
//
// Builder instances are single-use: after Build succeeds, further Build calls fail.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	postgres *pgxpool.Pool

	directory Directory
	notifier  Notifier
	templates TemplateStore
	activity  ActivityLog
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New describes the new operation and its observable behavior.
//
// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// The client backs codes, audit entries and templates when Store.Backend is "redis".
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres describes the withpostgres operation and its observable behavior.
//
// The pool backs codes, audit entries and templates when Store.Backend is
// "postgres". Run pgstore.Migrate before the first request.
func (b *Builder) WithPostgres(pool *pgxpool.Pool) *Builder {
	b.postgres = pool
	return b
}

// WithDirectory describes the withdirectory operation and its observable behavior.
//
// Without a directory, subjects must carry an ID and codes go to the raw identity.
func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

// WithNotifier describes the withnotifier operation and its observable behavior.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithTemplateStore replaces the template store that comes with the selected backend.
func (b *Builder) WithTemplateStore(ts TemplateStore) *Builder {
	b.templates = ts
	return b
}

// WithActivityLog describes the withactivitylog operation and its observable behavior.
func (b *Builder) WithActivityLog(l ActivityLog) *Builder {
	b.activity = l
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for every expiry and retention decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when the configuration is invalid or a required
// collaborator is missing. Build performs no I/O.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.notifier == nil {
		return nil, errors.New("notifier required")
	}

	engine := &Engine{
		config:    cfg,
		directory: b.directory,
		notifier:  b.notifier,
		activity:  b.activity,
		now:       b.clock,
	}

	// -------- STORES --------
	var tplBackend templateBackend
	switch cfg.Store.Backend {
	case StoreRedis:
		if b.redis == nil {
			return nil, errors.New("redis client required")
		}
		engine.codes = stores.NewCodeStore(b.redis, cfg.Store.RedisPrefix)
		engine.logs = stores.NewAuditLogStore(b.redis, cfg.Store.RedisPrefix)
		tplBackend = stores.NewTemplateStore(b.redis, cfg.Store.RedisPrefix)
	case StorePostgres:
		if b.postgres == nil {
			return nil, errors.New("postgres pool required")
		}
		engine.codes = pgstore.NewCodeStore(b.postgres)
		engine.logs = pgstore.NewAuditLogStore(b.postgres)
		tplBackend = pgstore.NewTemplateStore(b.postgres)
	}

	engine.templates = b.templates
	if engine.templates == nil {
		engine.templates = backendTemplates{backend: tplBackend}
	}
	if engine.activity == nil {
		engine.activity = LoggerActivityLog{}
	}
	if engine.now == nil {
		engine.now = time.Now
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
