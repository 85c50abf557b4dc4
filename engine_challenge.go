package mail2fa

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MrEthical07/mail2fa/internal"
	"github.com/MrEthical07/mail2fa/internal/stores"
)

// PresentChallenge describes the presentchallenge operation and its observable behavior.
//
// PresentChallenge resolves subject, reuses a live code when one exists and
// otherwise issues and sends a new one. Failures never escape: they become
// [PromptIdentificationFailed] or [PromptSendFailed], and a delivery failure
// still reports [PromptCodeSent].
func (e *Engine) PresentChallenge(ctx context.Context, subject Subject, settings Settings, meta RequestMeta) (prompt Prompt) {
	if e == nil {
		return Prompt{State: PromptSendFailed, RestartURL: meta.RestartURL}
	}
	settings = e.resolveSettings(settings)
	prompt = newPrompt(FlowLogin, settings, meta)

	defer e.recoverChallenge(ctx, &prompt, "challenge")

	identity, err := e.resolveIdentity(ctx, subject)
	if err != nil {
		e.metricInc(MetricChallengeIdentityUnresolved)
		e.emitAudit(ctx, auditEventChallengeIdentityUnresolved, false, "", meta.SourceAddress, err, nil)
		prompt.State = PromptIdentificationFailed
		return prompt
	}

	prompt.State = e.issueChallenge(ctx, identity, subject.Email, "", settings, meta)
	return prompt
}

// PresentActivation describes the presentactivation operation and its observable behavior.
//
// PresentActivation issues a code for a signed-in user enabling the second
// factor. verifyErr is the previous [Engine.ConfirmActivation] result, shown
// above the form when non-nil.
func (e *Engine) PresentActivation(
	ctx context.Context,
	user UserContext,
	settings Settings,
	meta RequestMeta,
	verifyErr error,
) (prompt Prompt) {
	if e == nil {
		return Prompt{State: PromptSendFailed, Flow: FlowActivation, RestartURL: meta.RestartURL}
	}
	settings = e.resolveSettings(settings)
	prompt = newPrompt(FlowActivation, settings, meta)
	if verifyErr != nil {
		prompt.Error = verifyErr.Error()
	}

	defer e.recoverChallenge(ctx, &prompt, "activation")

	identity := strings.TrimSpace(user.ID)
	if identity == "" {
		e.metricInc(MetricChallengeIdentityUnresolved)
		e.emitAudit(ctx, auditEventChallengeIdentityUnresolved, false, "", meta.SourceAddress, ErrIdentityUnresolved, nil)
		prompt.State = PromptIdentificationFailed
		return prompt
	}

	prompt.State = e.issueChallenge(ctx, identity, user.Email, user.FirstName, settings, meta)
	return prompt
}

func newPrompt(flow Flow, settings Settings, meta RequestMeta) Prompt {
	return Prompt{
		Flow:          flow,
		CodeLength:    settings.CodeLength,
		ExpiryMinutes: int(settings.CodeExpiry / time.Minute),
		RestartURL:    meta.RestartURL,
	}
}

func (e *Engine) recoverChallenge(ctx context.Context, prompt *Prompt, flow string) {
	r := recover()
	if r == nil {
		return
	}
	log.Printf("mail2fa: %s panicked: %v", flow, r)
	e.metricInc(MetricChallengeFailed)
	e.emitAudit(ctx, auditEventChallengeFailed, false, "", "", fmt.Errorf("panic: %v", r), nil)
	prompt.State = PromptSendFailed
}

func (e *Engine) resolveIdentity(ctx context.Context, subject Subject) (string, error) {
	if id := strings.TrimSpace(subject.ID); id != "" {
		return id, nil
	}
	email := strings.TrimSpace(subject.Email)
	if email == "" || e.directory == nil {
		return "", ErrIdentityUnresolved
	}
	identity, err := e.directory.LookupUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityUnresolved, err)
	}
	if identity == "" {
		return "", ErrIdentityUnresolved
	}
	return identity, nil
}

// issueChallenge runs purge, reuse-or-issue and dispatch for a resolved identity.
func (e *Engine) issueChallenge(
	ctx context.Context,
	identity string,
	address string,
	firstName string,
	settings Settings,
	meta RequestMeta,
) PromptState {
	if !e.ready() {
		return e.challengeFailed(ctx, identity, meta, ErrEngineNotReady)
	}

	now := e.now()
	if _, err := e.codes.PurgeExpired(ctx, identity, 0, now); err != nil {
		return e.challengeFailed(ctx, identity, meta, err)
	}

	_, err := e.codes.FindLive(ctx, identity, e.config.Code.MaxAttempts, now)
	switch {
	case err == nil:
		e.metricInc(MetricChallengeReused)
		e.emitAudit(ctx, auditEventChallengeReused, true, identity, meta.SourceAddress, nil, nil)
		return PromptCodeAlreadySent
	case !errors.Is(err, stores.ErrCodeNotFound):
		return e.challengeFailed(ctx, identity, meta, err)
	}

	code, err := internal.NewNumericCode(settings.CodeLength)
	if err != nil {
		return e.challengeFailed(ctx, identity, meta, err)
	}
	hash := internal.HashCode(e.config.Code.Salt, code)
	if _, err := e.codes.Issue(ctx, identity, hash, settings.CodeExpiry, now); err != nil {
		return e.challengeFailed(ctx, identity, meta, err)
	}

	e.metricInc(MetricChallengeIssued)
	e.emitAudit(ctx, auditEventChallengeIssued, true, identity, meta.SourceAddress, nil, func() map[string]string {
		return map[string]string{
			"code_length":    fmt.Sprint(settings.CodeLength),
			"expiry_minutes": fmt.Sprint(int(settings.CodeExpiry / time.Minute)),
		}
	})

	// The code is stored either way; a failed send still shows the form.
	_ = e.dispatch(ctx, identity, address, firstName, code, settings.CodeExpiry, meta)
	return PromptCodeSent
}

func (e *Engine) challengeFailed(ctx context.Context, identity string, meta RequestMeta, err error) PromptState {
	log.Printf("mail2fa: challenge for identity %q failed: %v", identity, err)
	e.metricInc(MetricChallengeFailed)
	e.emitAudit(ctx, auditEventChallengeFailed, false, identity, meta.SourceAddress, mapStoreError(err), nil)
	return PromptSendFailed
}
