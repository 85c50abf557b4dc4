package mail2fa

// Template variable names passed to the [Notifier].
const (
	VarVerificationCode = "verification_code"
	VarExpiryMinutes    = "expiry_minutes"
	VarIPAddress        = "ip_address"
	VarTimestamp        = "timestamp"
	VarClientFirstName  = "client_first_name"
)

const timestampLayout = "02/01/2006 15:04:05"

const defaultTemplateSubject = "Your verification code"

const defaultTemplateBody = `<p>Hello {{.client_first_name}},</p>
<p>Your verification code is: <strong style="font-size: 24px;">{{.verification_code}}</strong></p>
<p>This code expires in {{.expiry_minutes}} minutes.</p>
<p>IP: {{.ip_address}}<br />Date/Time: {{.timestamp}}</p>
<p>If you did not request this code, ignore this email.</p>`

// DefaultTemplate returns the template created on first dispatch when the
// store has none under name.
func DefaultTemplate(name string) Template {
	return Template{
		Name:    name,
		Subject: defaultTemplateSubject,
		Body:    defaultTemplateBody,
	}
}
