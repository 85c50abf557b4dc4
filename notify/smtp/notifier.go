package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/MrEthical07/mail2fa"
)

var (
	ErrNoRecipient = errors.New("smtp: delivery target has no address")
	// ErrBusy is returned when MaxInFlight sends are already outstanding.
	ErrBusy = errors.New("smtp: too many sends in flight")
)

// TemplateSource is the read side of mail2fa.TemplateStore.
type TemplateSource interface {
	Template(ctx context.Context, name string) (mail2fa.Template, error)
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	SSL      bool
	// SendTimeout bounds how long Send waits for one dial-and-send. Defaults to 15s.
	SendTimeout time.Duration
	// MaxInFlight caps concurrent dial-and-sends. Defaults to 16.
	MaxInFlight int
}

// Notifier implements mail2fa.Notifier.
//
// gomail cannot cancel a transaction once dialed, so a send that outlives
// SendTimeout keeps running in the background until the server answers and
// keeps holding its in-flight slot. At most MaxInFlight such goroutines exist;
// further sends fail with [ErrBusy] until one finishes.
type Notifier struct {
	templates TemplateSource
	from      string
	timeout   time.Duration
	slots     chan struct{}
	send      func(*gomail.Message) error
}

func New(cfg Config, templates TemplateSource) *Notifier {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.SSL = cfg.SSL

	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 16
	}
	return &Notifier{
		templates: templates,
		from:      cfg.From,
		timeout:   timeout,
		slots:     make(chan struct{}, maxInFlight),
		send:      func(m *gomail.Message) error { return dialer.DialAndSend(m) },
	}
}

func (n *Notifier) Send(
	ctx context.Context,
	templateName string,
	target mail2fa.DeliveryTarget,
	vars map[string]string,
) error {
	if strings.TrimSpace(target.Address) == "" || !strings.Contains(target.Address, "@") {
		return ErrNoRecipient
	}

	tpl, err := n.templates.Template(ctx, templateName)
	if err != nil {
		return fmt.Errorf("smtp: load template %q: %w", templateName, err)
	}
	subject, body, err := Render(tpl, vars)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	if target.FirstName != "" {
		m.SetAddressHeader("To", target.Address, target.FirstName)
	} else {
		m.SetHeader("To", target.Address)
	}
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	select {
	case n.slots <- struct{}{}:
	default:
		return fmt.Errorf("smtp: send to %s: %w", target.Address, ErrBusy)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() { <-n.slots }()
		done <- n.send(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp: send to %s: %w", target.Address, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp: send to %s: %w", target.Address, ctx.Err())
	}
}

// Render executes tpl against vars. Missing variables render empty.
func Render(tpl mail2fa.Template, vars map[string]string) (subject, body string, err error) {
	st, err := texttemplate.New("subject").Option("missingkey=zero").Parse(tpl.Subject)
	if err != nil {
		return "", "", fmt.Errorf("smtp: parse subject of %q: %w", tpl.Name, err)
	}
	bt, err := htmltemplate.New("body").Option("missingkey=zero").Parse(tpl.Body)
	if err != nil {
		return "", "", fmt.Errorf("smtp: parse body of %q: %w", tpl.Name, err)
	}

	var sb, bb bytes.Buffer
	if err := st.Execute(&sb, vars); err != nil {
		return "", "", fmt.Errorf("smtp: render subject of %q: %w", tpl.Name, err)
	}
	if err := bt.Execute(&bb, vars); err != nil {
		return "", "", fmt.Errorf("smtp: render body of %q: %w", tpl.Name, err)
	}
	return strings.TrimSpace(sb.String()), bb.String(), nil
}
