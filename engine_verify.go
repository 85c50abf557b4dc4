package mail2fa

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/mail2fa/internal"
	"github.com/MrEthical07/mail2fa/internal/stores"
)

// VerifyChallenge describes the verifychallenge operation and its observable behavior.
//
// VerifyChallenge checks input against subject's live code on the login path.
// Any digit count is accepted; every failure, including backend errors,
// reports false, and a panicking collaborator is recovered into false.
func (e *Engine) VerifyChallenge(ctx context.Context, subject Subject, input string, meta RequestMeta) (ok bool) {
	if e == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("mail2fa: login verification panicked: %v", r)
			e.metricInc(MetricVerifyFailure)
			e.emitAudit(ctx, auditEventVerifyFailure, false, "", meta.SourceAddress, fmt.Errorf("panic: %v", r), nil)
			ok = false
		}
	}()
	identity, err := e.resolveIdentity(ctx, subject)
	if err != nil {
		e.emitAudit(ctx, auditEventVerifyFailure, false, "", meta.SourceAddress, err, nil)
		return false
	}
	return e.verify(ctx, identity, input, 0, FlowLogin, meta) == nil
}

// ConfirmActivation describes the confirmactivation operation and its observable behavior.
//
// ConfirmActivation checks input on the activation path, where the digit count
// must equal settings.CodeLength. The returned error text is meant for display:
// [ErrCodeEmpty], [*LengthError], [ErrCodeNoValid], [*AttemptError],
// [ErrCodeAttemptsExhausted] or [ErrCodeUnavailable].
func (e *Engine) ConfirmActivation(
	ctx context.Context,
	user UserContext,
	input string,
	settings Settings,
	meta RequestMeta,
) error {
	if e == nil {
		return ErrEngineNotReady
	}
	identity := strings.TrimSpace(user.ID)
	if identity == "" {
		return ErrIdentityUnresolved
	}
	settings = e.resolveSettings(settings)
	return e.verify(ctx, identity, input, settings.CodeLength, FlowActivation, meta)
}

// verify is shared by both paths. expectedLength > 0 enforces the exact digit count.
func (e *Engine) verify(
	ctx context.Context,
	identity string,
	input string,
	expectedLength int,
	flow Flow,
	meta RequestMeta,
) (err error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricVerifyLatency, time.Since(start))
		}
		e.observeVerify(ctx, identity, flow, meta, err)
	}()
	// Runs before the observer so a panic is reported as a failure.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("mail2fa: verification for identity %q panicked: %v", identity, r)
			e.metricInc(MetricVerifyFailure)
			err = fmt.Errorf("%w: panic: %v", ErrCodeUnavailable, r)
		}
	}()

	if !e.ready() {
		return ErrEngineNotReady
	}

	code := internal.DigitsOnly(input)
	if code == "" {
		return ErrCodeEmpty
	}
	if expectedLength > 0 && len(code) != expectedLength {
		return &LengthError{Expected: expectedLength}
	}

	now := e.now()
	maxAttempts := e.config.Code.MaxAttempts

	if _, err := e.codes.PurgeExpired(ctx, identity, 0, now); err != nil {
		return mapStoreError(err)
	}
	record, err := e.codes.FindLive(ctx, identity, maxAttempts, now)
	if err != nil {
		return mapStoreError(err)
	}

	// Counted before comparing, so a correct guess also spends budget.
	attempts, err := e.codes.RecordAttempt(ctx, record, maxAttempts, now)
	if err != nil {
		return mapStoreError(err)
	}

	if internal.CodeHashEqual(record.Hash, internal.HashCode(e.config.Code.Salt, code)) {
		consumed, err := e.codes.Consume(ctx, record)
		if err != nil {
			return mapStoreError(err)
		}
		if !consumed {
			// Replaced or consumed by a concurrent request.
			return ErrCodeNoValid
		}
		e.appendAuditEntry(ctx, identity, flow, meta, now)
		return nil
	}

	if attempts < maxAttempts {
		return &AttemptError{Remaining: maxAttempts - attempts}
	}
	if _, err := e.codes.Consume(ctx, record); err != nil {
		log.Printf("mail2fa: consume exhausted code for identity %q: %v", identity, err)
	}
	return ErrCodeAttemptsExhausted
}

func (e *Engine) appendAuditEntry(ctx context.Context, identity string, flow Flow, meta RequestMeta, now time.Time) {
	action := AuditActionLoginSuccess
	if flow == FlowActivation {
		action = AuditActionActivationSuccess
	}
	err := e.logs.Append(ctx, stores.AuditEntry{
		Identity:      identity,
		Action:        action,
		SourceAddress: meta.SourceAddress,
		Timestamp:     now,
	})
	if err != nil {
		// The code is already consumed; the trail is best-effort.
		log.Printf("mail2fa: append audit entry for identity %q: %v", identity, err)
	}
}

func (e *Engine) observeVerify(ctx context.Context, identity string, flow Flow, meta RequestMeta, err error) {
	switch {
	case err == nil && flow == FlowActivation:
		e.metricInc(MetricActivationSuccess)
		e.emitAudit(ctx, auditEventActivationSuccess, true, identity, meta.SourceAddress, nil, nil)
		return
	case err == nil:
		e.metricInc(MetricVerifySuccess)
		e.emitAudit(ctx, auditEventVerifySuccess, true, identity, meta.SourceAddress, nil, nil)
		return
	}

	var attemptErr *AttemptError
	switch {
	case errors.As(err, &attemptErr):
		e.metricInc(MetricVerifyFailure)
	case errors.Is(err, ErrCodeAttemptsExhausted):
		e.metricInc(MetricVerifyAttemptsExhausted)
		e.emitAudit(ctx, auditEventVerifyAttemptsExhausted, false, identity, meta.SourceAddress, err, nil)
	case errors.Is(err, ErrCodeNoValid):
		e.metricInc(MetricVerifyNoValidCode)
	case errors.Is(err, ErrCodeUnavailable), errors.Is(err, ErrEngineNotReady):
		log.Printf("mail2fa: verification for identity %q failed: %v", identity, err)
	}

	if flow == FlowActivation {
		e.metricInc(MetricActivationFailure)
		e.emitAudit(ctx, auditEventActivationFailure, false, identity, meta.SourceAddress, err, nil)
		return
	}
	e.emitAudit(ctx, auditEventVerifyFailure, false, identity, meta.SourceAddress, err, func() map[string]string {
		if attemptErr == nil {
			return nil
		}
		return map[string]string{"remaining": strconv.Itoa(attemptErr.Remaining)}
	})
}
