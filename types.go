package mail2fa

import (
	"context"
	"log"

	"github.com/MrEthical07/mail2fa/internal/stores"
)

// Subject names the user at the login challenge. ID wins when set; otherwise
// Email is resolved through the [Directory].
type Subject struct {
	ID    string
	Email string
}

// UserContext is the signed-in user enabling the second factor on their account.
type UserContext struct {
	ID        string
	Email     string
	FirstName string
}

// RequestMeta carries request-scoped values the engine must not read from
// ambient state.
type RequestMeta struct {
	SourceAddress string
	// RestartURL is where a failed challenge sends the user back to. Defaults to "/login".
	RestartURL string
}

// DeliveryTarget is where a code is sent and how the recipient is greeted.
type DeliveryTarget struct {
	Identity  string
	Address   string
	FirstName string
}

// Directory is the host application's user directory.
//
// LookupUserByEmail returns "" with a nil error when no user matches.
// ResolveDeliveryTarget may return a zero target; the engine then falls back
// to the raw identity.
type Directory interface {
	LookupUserByEmail(ctx context.Context, email string) (string, error)
	ResolveDeliveryTarget(ctx context.Context, identity string) (DeliveryTarget, error)
}

// Notifier renders templateName with vars and delivers it to target. It is
// called once per issued code and never retried.
type Notifier interface {
	Send(ctx context.Context, templateName string, target DeliveryTarget, vars map[string]string) error
}

// Template is a named message template. Body is an html/template source and
// Subject a text/template source.
type Template = stores.Template

// TemplateStore persists message templates. EnsureTemplate must be a
// create-if-absent that is safe to call from many processes at once.
type TemplateStore interface {
	EnsureTemplate(ctx context.Context, tpl Template) error
	Template(ctx context.Context, name string) (Template, error)
}

// ActivityLog is a best-effort operator log.
type ActivityLog interface {
	Record(ctx context.Context, message string)
}

// LoggerActivityLog writes activity to a *log.Logger, or to the standard
// logger when Logger is nil.
type LoggerActivityLog struct {
	Logger *log.Logger
}

// Record implements [ActivityLog].
func (l LoggerActivityLog) Record(_ context.Context, message string) {
	if l.Logger != nil {
		l.Logger.Print(message)
		return
	}
	log.Print(message)
}

// AuditEntry is one row of the persisted success trail.
type AuditEntry = stores.AuditEntry

const (
	// AuditActionLoginSuccess is an exported constant or variable used by the verification engine.
	AuditActionLoginSuccess = "login_success"
	// AuditActionActivationSuccess is an exported constant or variable used by the verification engine.
	AuditActionActivationSuccess = "activation_success"
)
