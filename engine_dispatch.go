package mail2fa

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// dispatch hands code to the notifier. The returned error is for logging and
// tests only; challenge callers never see it.
func (e *Engine) dispatch(
	ctx context.Context,
	identity string,
	fallbackAddress string,
	firstName string,
	code string,
	ttl time.Duration,
	meta RequestMeta,
) error {
	target := e.resolveTarget(ctx, identity, fallbackAddress, firstName)
	name := e.config.Code.TemplateName

	if err := e.templates.EnsureTemplate(ctx, DefaultTemplate(name)); err != nil {
		return e.deliveryFailed(ctx, identity, meta, fmt.Errorf("ensure template %q: %w", name, err))
	}

	sourceAddress := meta.SourceAddress
	if sourceAddress == "" {
		sourceAddress = "N/A"
	}
	vars := map[string]string{
		VarVerificationCode: code,
		VarExpiryMinutes:    strconv.Itoa(int(ttl / time.Minute)),
		VarIPAddress:        sourceAddress,
		VarTimestamp:        e.now().Format(timestampLayout),
		VarClientFirstName:  target.FirstName,
	}

	if err := e.notifier.Send(ctx, name, target, vars); err != nil {
		return e.deliveryFailed(ctx, identity, meta, err)
	}

	e.metricInc(MetricDeliverySuccess)
	e.record(ctx, "mail2fa: verification code sent to identity %s", identity)
	return nil
}

func (e *Engine) deliveryFailed(ctx context.Context, identity string, meta RequestMeta, cause error) error {
	err := fmt.Errorf("%w: %v", ErrDeliveryFailed, cause)
	e.metricInc(MetricDeliveryFailure)
	e.record(ctx, "mail2fa: verification code delivery to identity %s failed: %v", identity, cause)
	e.emitAudit(ctx, auditEventDeliveryFailed, false, identity, meta.SourceAddress, err, nil)
	return err
}

// resolveTarget asks the directory for a contact record and falls back to the
// known address, then to the raw identity.
func (e *Engine) resolveTarget(ctx context.Context, identity, fallbackAddress, firstName string) DeliveryTarget {
	var target DeliveryTarget
	if e.directory != nil {
		resolved, err := e.directory.ResolveDeliveryTarget(ctx, identity)
		if err != nil {
			e.record(ctx, "mail2fa: delivery target lookup for identity %s failed: %v", identity, err)
		} else {
			target = resolved
		}
	}

	target.Identity = identity
	if target.Address == "" {
		target.Address = fallbackAddress
	}
	if target.Address == "" {
		target.Address = identity
	}
	if target.FirstName == "" {
		target.FirstName = firstName
	}
	return target
}
