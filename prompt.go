package mail2fa

import (
	"bytes"
	"html/template"
)

// PromptState is the outcome of a challenge or activation request.
type PromptState int

const (
	// PromptIdentificationFailed means no identity could be resolved; no code was touched.
	PromptIdentificationFailed PromptState = iota + 1
	// PromptCodeAlreadySent means a live code exists and nothing was sent.
	PromptCodeAlreadySent
	// PromptCodeSent means a fresh code was stored and handed to the notifier.
	PromptCodeSent
	// PromptSendFailed means issuance failed; the user must restart authentication.
	PromptSendFailed
)

func (s PromptState) String() string {
	switch s {
	case PromptIdentificationFailed:
		return "identification_failed"
	case PromptCodeAlreadySent:
		return "code_already_sent"
	case PromptCodeSent:
		return "code_sent"
	case PromptSendFailed:
		return "send_failed"
	default:
		return "unknown"
	}
}

// Flow distinguishes the login challenge from second-factor activation.
type Flow int

const (
	FlowLogin Flow = iota
	FlowActivation
)

// Prompt is what the host shows the user after a challenge request. Delivery
// failures are not visible here.
type Prompt struct {
	State         PromptState
	Flow          Flow
	CodeLength    int
	ExpiryMinutes int
	// Error is the previous activation failure, if any.
	Error      string
	RestartURL string
}

// Message is the user-facing text for the prompt state.
func (p Prompt) Message() string {
	switch p.State {
	case PromptIdentificationFailed:
		return "Unable to identify user."
	case PromptCodeAlreadySent:
		return "A valid code has already been sent to your email. Check your inbox."
	case PromptCodeSent:
		return "A verification code has been sent to your email."
	default:
		return "Could not send the verification code. Please try again."
	}
}

// FieldName is the form field the code is posted in.
func (p Prompt) FieldName() string {
	if p.Flow == FlowActivation {
		return "verifykey"
	}
	return "key"
}

// Failed reports whether the form should offer only the way back.
func (p Prompt) Failed() bool {
	return p.State == PromptIdentificationFailed || p.State == PromptSendFailed
}

var promptTemplate = template.Must(template.New("prompt").Parse(`<div class="mail2fa">
{{- if .Failed}}
  <div class="alert alert-danger">{{.Message}}</div>
  <a href="{{.RestartURL}}" class="btn btn-default">Back to login</a>
{{- else}}
  <div class="alert alert-info">{{.Message}}</div>
  {{- if .Error}}
  <div class="alert alert-danger">{{.Error}}</div>
  {{- end}}
  <form method="post">
    <input type="text" name="{{.FieldName}}" class="form-control text-center" autocomplete="one-time-code" inputmode="numeric" maxlength="{{.CodeLength}}" placeholder="Enter the code" required autofocus>
    <p class="help-block">The code expires in {{.ExpiryMinutes}} minutes.</p>
    <button type="submit" class="btn btn-primary">Verify</button>
  </form>
{{- end}}
</div>`))

// HTML renders the code-entry form, or the failure notice with a link back to
// RestartURL.
func (p Prompt) HTML() (template.HTML, error) {
	if p.RestartURL == "" {
		p.RestartURL = "/login"
	}
	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, p); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
