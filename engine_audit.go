package mail2fa

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventChallengeIssued             = "challenge_issued"
	auditEventChallengeReused             = "challenge_reused"
	auditEventChallengeIdentityUnresolved = "challenge_identity_unresolved"
	auditEventChallengeFailed             = "challenge_failed"
	auditEventDeliveryFailed              = "delivery_failed"
	auditEventVerifySuccess               = "verify_success"
	auditEventVerifyFailure               = "verify_failure"
	auditEventVerifyAttemptsExhausted     = "verify_attempts_exhausted"
	auditEventActivationSuccess           = "activation_success"
	auditEventActivationFailure           = "activation_failure"
	auditEventRetentionSweep              = "retention_sweep"
)

// AuditErrorCode defines a public type used by mail2fa APIs.
//
// AuditErrorCode values are stable strings placed in [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrIdentityUnresolved AuditErrorCode = "identity_unresolved"
	auditErrDeliveryFailed     AuditErrorCode = "delivery_failed"
	auditErrCodeEmpty          AuditErrorCode = "code_empty"
	auditErrCodeLength         AuditErrorCode = "code_length"
	auditErrNoValidCode        AuditErrorCode = "no_valid_code"
	auditErrCodeIncorrect      AuditErrorCode = "code_incorrect"
	auditErrAttemptsExhausted  AuditErrorCode = "attempts_exhausted"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identity string,
	sourceAddress string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     eventType,
		Identity:      identity,
		SourceAddress: sourceAddress,
		Success:       success,
		Metadata:      metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrIdentityUnresolved):
		return auditErrIdentityUnresolved
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrCodeEmpty):
		return auditErrCodeEmpty
	case errors.Is(err, ErrCodeLength):
		return auditErrCodeLength
	case errors.Is(err, ErrCodeNoValid):
		return auditErrNoValidCode
	case errors.Is(err, ErrCodeIncorrect):
		return auditErrCodeIncorrect
	case errors.Is(err, ErrCodeAttemptsExhausted):
		return auditErrAttemptsExhausted
	case errors.Is(err, ErrCodeUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
