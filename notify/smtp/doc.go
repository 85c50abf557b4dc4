// Package smtp delivers mail2fa codes as HTML email through gomail.
//
// Templates are read from a mail2fa.TemplateStore on every send, so operator
// edits take effect without a restart. The subject is rendered with
// text/template and the body with html/template; both see the engine's
// variables as a map (for example {{.verification_code}}).
package smtp
