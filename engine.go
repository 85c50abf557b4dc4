package mail2fa

import (
	"context"
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/mail2fa/internal/audit"
	"github.com/MrEthical07/mail2fa/internal/stores"
)

// codeStore is satisfied by the Redis and PostgreSQL code stores. Every
// method is atomic in the backend; the engine holds no locks of its own.
type codeStore interface {
	Issue(ctx context.Context, identity, hash string, ttl time.Duration, now time.Time) (*stores.CodeRecord, error)
	FindLive(ctx context.Context, identity string, maxAttempts int, now time.Time) (*stores.CodeRecord, error)
	RecordAttempt(ctx context.Context, record *stores.CodeRecord, maxAttempts int, now time.Time) (int, error)
	Consume(ctx context.Context, record *stores.CodeRecord) (bool, error)
	PurgeExpired(ctx context.Context, identity string, grace time.Duration, now time.Time) (int64, error)
}

type auditLogStore interface {
	Append(ctx context.Context, entry stores.AuditEntry) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Entries(ctx context.Context, identity string, limit int) ([]stores.AuditEntry, error)
}

type templateBackend interface {
	EnsureTemplate(ctx context.Context, tpl stores.Template) (bool, error)
	Template(ctx context.Context, name string) (stores.Template, error)
}

// backendTemplates exposes a built-in template backend as a [TemplateStore].
type backendTemplates struct {
	backend templateBackend
}

func (t backendTemplates) EnsureTemplate(ctx context.Context, tpl Template) error {
	_, err := t.backend.EnsureTemplate(ctx, tpl)
	return err
}

func (t backendTemplates) Template(ctx context.Context, name string) (Template, error) {
	return t.backend.Template(ctx, name)
}

// Engine defines a public type used by mail2fa APIs.
//
// Engine instances are built once through [Builder.Build] and are safe for
// concurrent use.
type Engine struct {
	config    Config
	codes     codeStore
	logs      auditLogStore
	templates TemplateStore
	directory Directory
	notifier  Notifier
	activity  ActivityLog
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	now       func() time.Time
}

// Close describes the close operation and its observable behavior.
//
// Close flushes queued audit events. It does not close the Redis or
// PostgreSQL clients, which the caller owns.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// AuditEntries lists the newest persisted success entries for identity, for
// operators and diagnostics. Control flow never reads them.
func (e *Engine) AuditEntries(ctx context.Context, identity string, limit int) ([]AuditEntry, error) {
	if e == nil || e.logs == nil {
		return nil, ErrEngineNotReady
	}
	entries, err := e.logs.Entries(ctx, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeUnavailable, err)
	}
	return entries, nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.codes != nil && e.logs != nil && e.notifier != nil
}

func (e *Engine) record(ctx context.Context, format string, args ...any) {
	if e.activity == nil {
		return
	}
	e.activity.Record(ctx, fmt.Sprintf(format, args...))
}

// mapStoreError turns code store failures into engine errors. Not-found,
// expired and exhausted are deliberately indistinguishable.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrCodeNotFound),
		errors.Is(err, stores.ErrCodeExpired),
		errors.Is(err, stores.ErrCodeExhausted):
		return ErrCodeNoValid
	default:
		return fmt.Errorf("%w: %v", ErrCodeUnavailable, err)
	}
}
