package mail2fa

import (
	"context"
	"fmt"
	"log"
	"time"
)

// SweepResult reports one retention pass.
type SweepResult struct {
	CodesPurged        int64
	AuditEntriesPurged int64
	Duration           time.Duration
}

// Sweep describes the sweep operation and its observable behavior.
//
// Sweep deletes codes that expired more than Retention.CodeGrace ago and
// audit entries older than Retention.AuditLogRetention. It only touches rows
// no request can use, so it is safe to run alongside traffic and to repeat.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	if e == nil || e.codes == nil || e.logs == nil {
		return SweepResult{}, ErrEngineNotReady
	}

	start := time.Now()
	now := e.now()
	var result SweepResult

	codes, err := e.codes.PurgeExpired(ctx, "", e.config.Retention.CodeGrace, now)
	result.CodesPurged = codes
	if err != nil {
		return result, e.sweepFailed(ctx, result, fmt.Errorf("purge codes: %w", err))
	}

	entries, err := e.logs.PurgeOlderThan(ctx, now.Add(-e.config.Retention.AuditLogRetention))
	result.AuditEntriesPurged = entries
	if err != nil {
		return result, e.sweepFailed(ctx, result, fmt.Errorf("purge audit entries: %w", err))
	}

	result.Duration = time.Since(start)
	e.metricInc(MetricSweepRuns)
	if e.metrics != nil {
		e.metrics.Add(MetricSweepCodesPurged, uint64(result.CodesPurged))
		e.metrics.Add(MetricSweepAuditEntriesPurged, uint64(result.AuditEntriesPurged))
		e.metrics.MarkSweep(now)
	}
	log.Printf("mail2fa: retention sweep completed codes=%d audit_entries=%d duration=%s",
		result.CodesPurged, result.AuditEntriesPurged, result.Duration)
	e.emitAudit(ctx, auditEventRetentionSweep, true, "", "", nil, func() map[string]string {
		return sweepMetadata(result)
	})
	return result, nil
}

func (e *Engine) sweepFailed(ctx context.Context, result SweepResult, err error) error {
	log.Printf("mail2fa: retention sweep failed: %v", err)
	e.emitAudit(ctx, auditEventRetentionSweep, false, "", "", ErrCodeUnavailable, func() map[string]string {
		return sweepMetadata(result)
	})
	return fmt.Errorf("%w: %v", ErrCodeUnavailable, err)
}

func sweepMetadata(r SweepResult) map[string]string {
	return map[string]string{
		"codes_purged":         fmt.Sprint(r.CodesPurged),
		"audit_entries_purged": fmt.Sprint(r.AuditEntriesPurged),
	}
}

// RunSweeper calls Sweep every interval until ctx is done. Failures are logged
// and the next tick tries again.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = e.Sweep(ctx)
		}
	}
}
