package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/mail2fa"
	"github.com/MrEthical07/mail2fa/internal/stores"
	"github.com/MrEthical07/mail2fa/internal/stores/pgstore"
	"github.com/MrEthical07/mail2fa/notify/smtp"
)

// Runtime owns the connections behind one Engine.
type Runtime struct {
	Engine    *mail2fa.Engine
	Directory *StaticDirectory

	postgres *pgxpool.Pool
	closers  []io.Closer
}

// Open connects to the configured store, migrates PostgreSQL when selected and
// builds the engine. notifier may be nil to use SMTP from cfg.
func Open(ctx context.Context, cfg Config, notifier mail2fa.Notifier) (*Runtime, error) {
	rt := &Runtime{Directory: NewStaticDirectory(cfg.Users)}
	engineCfg := cfg.EngineConfig()

	builder := mail2fa.New().
		WithConfig(engineCfg).
		WithDirectory(rt.Directory)

	var templates smtp.TemplateSource
	switch engineCfg.Store.Backend {
	case mail2fa.StoreRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Store.RedisAddr},
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Store.RedisAddr, err)
		}
		rt.closers = append(rt.closers, client)
		builder.WithRedis(client)
		templates = stores.NewTemplateStore(client, engineCfg.Store.RedisPrefix)
	case mail2fa.StorePostgres:
		pool, err := pgstore.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pgstore.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		rt.postgres = pool
		builder.WithPostgres(pool)
		templates = pgstore.NewTemplateStore(pool)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	if notifier == nil {
		notifier = smtp.New(smtp.Config{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.SMTP.Username,
			Password:    cfg.SMTP.Password,
			From:        cfg.SMTP.From,
			SSL:         cfg.SMTP.SSL,
			SendTimeout: cfg.SMTP.SendTimeout,
			MaxInFlight: cfg.SMTP.MaxInFlight,
		}, templates)
	}
	builder.WithNotifier(notifier)

	if cfg.Audit.Enabled && cfg.Audit.JSONLPath != "" {
		f, err := os.OpenFile(cfg.Audit.JSONLPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		rt.closers = append(rt.closers, f)
		sink := mail2fa.NewJSONWriterSink(f).OnError(func(err error) {
			log.Printf("mail2fa: %v", err)
		})
		builder.WithAuditSink(sink)
	}

	engine, err := builder.Build()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Engine = engine
	return rt, nil
}

// Close flushes the engine and releases connections in reverse order.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Engine != nil {
		rt.Engine.Close()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i].Close()
	}
	if rt.postgres != nil {
		rt.postgres.Close()
	}
}
