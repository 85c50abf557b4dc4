package mail2fa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/mail2fa/internal"
)

func TestPresentChallengeIssuesAndDelivers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	prompt := h.engine.PresentChallenge(ctx, Subject{ID: "u1"}, Settings{}, RequestMeta{})
	if prompt.State != PromptCodeSent {
		t.Fatalf("expected code_sent, got %s", prompt.State)
	}
	if prompt.CodeLength != 6 || prompt.ExpiryMinutes != 5 {
		t.Fatalf("unexpected prompt settings: %+v", prompt)
	}

	msg := h.notifier.last(t)
	if msg.template != DefaultConfig().Code.TemplateName {
		t.Fatalf("unexpected template %q", msg.template)
	}
	if msg.target.Address != "alice@example.com" || msg.target.FirstName != "Alice" || msg.target.Identity != "u1" {
		t.Fatalf("unexpected target: %+v", msg.target)
	}

	code := msg.vars[VarVerificationCode]
	if len(code) != 6 || internal.DigitsOnly(code) != code {
		t.Fatalf("expected 6 digits, got %q", code)
	}
	if msg.vars[VarExpiryMinutes] != "5" {
		t.Fatalf("expected expiry 5, got %q", msg.vars[VarExpiryMinutes])
	}
	if msg.vars[VarIPAddress] != "N/A" {
		t.Fatalf("expected N/A source address, got %q", msg.vars[VarIPAddress])
	}
	if msg.vars[VarTimestamp] != "14/03/2026 09:30:00" {
		t.Fatalf("unexpected timestamp %q", msg.vars[VarTimestamp])
	}

	stored := h.field(t, "u1", "hash")
	if stored == code {
		t.Fatal("plaintext code stored")
	}
	if stored != internal.HashCode("rice", code) {
		t.Fatal("stored hash does not match sha256(salt+code)")
	}
	if h.field(t, "u1", "attempts") != "0" {
		t.Fatal("fresh record must start with zero attempts")
	}
	if !h.activity.contains("verification code sent to identity u1") {
		t.Fatal("expected delivery activity entry")
	}
}

func TestPresentChallengeHonoursSettings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	settings := ParseSettings(map[string]string{"CodeExpiry": "10", "CodeLength": "8"})
	prompt := h.engine.PresentChallenge(ctx, Subject{ID: "u1"}, settings, RequestMeta{SourceAddress: "203.0.113.9"})
	if prompt.State != PromptCodeSent || prompt.CodeLength != 8 || prompt.ExpiryMinutes != 10 {
		t.Fatalf("unexpected prompt: %+v", prompt)
	}

	msg := h.notifier.last(t)
	if len(msg.vars[VarVerificationCode]) != 8 {
		t.Fatalf("expected 8 digit code, got %q", msg.vars[VarVerificationCode])
	}
	if msg.vars[VarExpiryMinutes] != "10" || msg.vars[VarIPAddress] != "203.0.113.9" {
		t.Fatalf("unexpected vars: %+v", msg.vars)
	}

	h.clock.Advance(9 * time.Minute)
	if state := h.engine.PresentChallenge(ctx, Subject{ID: "u1"}, settings, RequestMeta{}).State; state != PromptCodeAlreadySent {
		t.Fatalf("code should still be live after 9 minutes, got %s", state)
	}
}

func TestPresentChallengeReusesLiveCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.engine.PresentChallenge(ctx, Subject{ID: "u1"}, Settings{}, RequestMeta{})
	id := h.field(t, "u1", "id")

	h.clock.Advance(2 * time.Minute)
	prompt := h.engine.PresentChallenge(ctx, Subject{ID: "u1"}, Settings{}, RequestMeta{})
	if prompt.State != PromptCodeAlreadySent {
		t.Fatalf("expected code_already_sent, got %s", prompt.State)
	}
	if h.notifier.count() != 1 {
		t.Fatalf("expected one delivery, got %d", h.notifier.count())
	}
	if h.field(t, "u1", "id") != id {
		t.Fatal("live record must not be replaced")
	}
}

func TestPresentChallengeReissuesAfterExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.engine.PresentChallenge(ctx, Subject{ID: "u1"}, Settings{}, RequestMeta{})
	first := h.field(t, "u1", "id")

	h.clock.Advance(5*time.Minute + time.Second)
	prompt := h.engine.PresentChallenge(ctx, Subject{ID: "u1"}, Settings{}, RequestMeta{})
	if prompt.State != PromptCodeSent {
		t.Fatalf("expected code_sent, got %s", prompt.State)
	}
	if h.field(t, "u1", "id") == first {
		t.Fatal("expected a new record generation")
	}
	if h.notifier.count() != 2 {
		t.Fatalf("expected two deliveries, got %d", h.notifier.count())
	}
}

func TestPresentChallengeReissuesAfterExhaustion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.engine.PresentChallenge(ctx, Subject{ID: "u1"}, Settings{}, RequestMeta{})
	code := h.notifier.lastCode(t)
	for i := 0; i < 3; i++ {
		h.engine.VerifyChallenge(ctx, Subject{ID: "u1"}, wrongCode(code), RequestMeta{})
	}

	if state := h.engine.PresentChallenge(ctx, Subject{ID: "u1"}, Settings{}, RequestMeta{}).State; state != PromptCodeSent {
		t.Fatalf("expected code_sent after exhaustion, got %s", state)
	}
}

func TestPresentChallengeResolvesEmail(t *testing.T) {
	h := newHarness(t)

	prompt := h.engine.PresentChallenge(context.Background(), Subject{Email: "Bob@Example.com"}, Settings{}, RequestMeta{})
	if prompt.State != PromptCodeSent {
		t.Fatalf("expected code_sent, got %s", prompt.State)
	}
	if !h.hasRecord(t, "u2") {
		t.Fatal("expected a record keyed by the resolved identity")
	}
	if got := h.notifier.last(t).target.Address; got != "bob@example.com" {
		t.Fatalf("unexpected address %q", got)
	}
}

func TestPresentChallengeIdentificationFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []Subject{
		{},
		{Email: "nobody@example.com"},
		{ID: "   "},
	}
	for _, subject := range cases {
		prompt := h.engine.PresentChallenge(ctx, subject, Settings{}, RequestMeta{RestartURL: "/signin"})
		if prompt.State != PromptIdentificationFailed {
			t.Fatalf("subject %+v: expected identification_failed, got %s", subject, prompt.State)
		}
		if prompt.RestartURL != "/signin" {
			t.Fatalf("restart url lost: %+v", prompt)
		}
	}

	h.directory.err = errors.New("directory offline")
	if state := h.engine.PresentChallenge(ctx, Subject{Email: "alice@example.com"}, Settings{}, RequestMeta{}).State; state != PromptIdentificationFailed {
		t.Fatalf("expected identification_failed on directory error, got %s", state)
	}

	if h.notifier.count() != 0 {
		t.Fatal("no code may be sent without an identity")
	}
	keys := h.mr.Keys()
	for _, k := range keys {
		if strings.HasPrefix(k, "{m2f}:c:") {
			t.Fatalf("unexpected record %q", k)
		}
	}
}

func TestPresentChallengeDeliveryFailureStillReportsSent(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Metrics.Enabled = true })
	h.notifier.err = errors.New("smtp: connection refused")
	ctx := context.Background()

	prompt := h.engine.PresentChallenge(ctx, Subject{ID: "u1"}, Settings{}, RequestMeta{})
	if prompt.State != PromptCodeSent {
		t.Fatalf("expected code_sent, got %s", prompt.State)
	}
	if !h.hasRecord(t, "u1") {
		t.Fatal("record must survive a delivery failure")
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricDeliveryFailure]; got != 1 {
		t.Fatalf("expected one delivery failure, got %d", got)
	}
	if !h.activity.contains("delivery to identity u1 failed") {
		t.Fatal("expected delivery failure in activity log")
	}

	// The stored code is still usable.
	code := h.notifier.lastCode(t)
	if !h.engine.VerifyChallenge(ctx, Subject{ID: "u1"}, code, RequestMeta{}) {
		t.Fatal("code should verify after failed delivery")
	}
}

func TestPresentChallengeNotifierPanicReportsSendFailed(t *testing.T) {
	h := newHarness(t)
	h.notifier.panic = true

	prompt := h.engine.PresentChallenge(context.Background(), Subject{ID: "u1"}, Settings{}, RequestMeta{})
	if prompt.State != PromptSendFailed {
		t.Fatalf("expected send_failed, got %s", prompt.State)
	}
}

func TestPresentChallengeBackendErrorReportsSendFailed(t *testing.T) {
	h := newHarness(t)
	h.mr.SetError("LOADING redis is loading")

	prompt := h.engine.PresentChallenge(context.Background(), Subject{ID: "u1"}, Settings{}, RequestMeta{})
	if prompt.State != PromptSendFailed {
		t.Fatalf("expected send_failed, got %s", prompt.State)
	}
	if h.notifier.count() != 0 {
		t.Fatal("nothing may be sent when the code was not stored")
	}
}

func TestConcurrentChallengesLeaveOneRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const workers = 24
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			h.engine.PresentChallenge(ctx, Subject{ID: "u1"}, Settings{}, RequestMeta{})
		}()
	}
	wg.Wait()

	var records int
	for _, k := range h.mr.Keys() {
		if strings.HasPrefix(k, "{m2f}:c:") {
			records++
		}
	}
	if records != 1 {
		t.Fatalf("expected exactly one record, got %d", records)
	}
	if n := h.rdb.ZCard(ctx, "{m2f}:cx").Val(); n != 1 {
		t.Fatalf("expected one expiry index entry, got %d", n)
	}

	stored := h.field(t, "u1", "hash")
	var matching string
	for _, code := range h.notifier.codes() {
		if internal.HashCode("rice", code) == stored {
			matching = code
		}
	}
	if matching == "" {
		t.Fatal("the surviving record must belong to one of the sent codes")
	}
	if !h.engine.VerifyChallenge(ctx, Subject{ID: "u1"}, matching, RequestMeta{}) {
		t.Fatal("surviving code should verify")
	}
}

func TestPresentActivationUsesUserContext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user := UserContext{ID: "u9", Email: "carol@example.com", FirstName: "Carol"}
	prompt := h.engine.PresentActivation(ctx, user, Settings{}, RequestMeta{}, nil)
	if prompt.State != PromptCodeSent || prompt.Flow != FlowActivation {
		t.Fatalf("unexpected prompt: %+v", prompt)
	}

	msg := h.notifier.last(t)
	if msg.target.Address != "carol@example.com" || msg.vars[VarClientFirstName] != "Carol" {
		t.Fatalf("unexpected delivery: %+v", msg)
	}

	prompt = h.engine.PresentActivation(ctx, user, Settings{}, RequestMeta{}, &AttemptError{Remaining: 2})
	if prompt.State != PromptCodeAlreadySent {
		t.Fatalf("expected code_already_sent, got %s", prompt.State)
	}
	if prompt.Error != "incorrect code, you have 2 attempts remaining" {
		t.Fatalf("unexpected error text %q", prompt.Error)
	}

	if state := h.engine.PresentActivation(ctx, UserContext{}, Settings{}, RequestMeta{}, nil).State; state != PromptIdentificationFailed {
		t.Fatalf("expected identification_failed, got %s", state)
	}
}

func TestDefaultTemplateCreatedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	name := DefaultConfig().Code.TemplateName

	h.engine.PresentChallenge(ctx, Subject{ID: "u1"}, Settings{}, RequestMeta{})

	tpl, err := h.engine.templates.Template(ctx, name)
	if err != nil {
		t.Fatalf("template missing: %v", err)
	}
	if tpl.Subject != "Your verification code" || !strings.Contains(tpl.Body, "{{.verification_code}}") {
		t.Fatalf("unexpected default template: %+v", tpl)
	}

	if err := h.rdb.HSet(ctx, "{m2f}:tpl:"+name, "subject", "Edited").Err(); err != nil {
		t.Fatalf("hset: %v", err)
	}
	h.engine.PresentChallenge(ctx, Subject{ID: "u2"}, Settings{}, RequestMeta{})

	tpl, err = h.engine.templates.Template(ctx, name)
	if err != nil {
		t.Fatalf("template missing: %v", err)
	}
	if tpl.Subject != "Edited" {
		t.Fatal("existing template must not be overwritten")
	}
}
