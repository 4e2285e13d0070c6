// Package notify e-mails share links.
//
// Only link-mode shares can be mailed. The key travels in the link fragment, so
// whoever can read the message can open the share until it expires.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/commandquery/zkshare/expiry"
	"github.com/commandquery/zkshare/session"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

const linkMessage = `Olá!

{{.Sender}} compartilhou dados com você pelo zkshare.

Abra o link abaixo para visualizar. Ele expira em {{.Countdown}} ({{.ExpiresAt}}):

	{{.URL}}

Os dados são cifrados no dispositivo de quem enviou. O servidor nunca vê o conteúdo.
`

var linkTemplate = template.Must(template.New("link").Parse(linkMessage))

var ErrNotConfigured error = errors.New("smtp is not configured")

// Config describes the SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// HeaderKey and HeaderValue add one provider specific header to every
	// message, e.g. a message stream selector.
	HeaderKey   string
	HeaderValue string
}

type Mailer struct {
	cfg Config
	log *logrus.Logger
}

func NewMailer(cfg Config, log *logrus.Logger) (*Mailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, ErrNotConfigured
	}
	if log == nil {
		log = logrus.New()
	}
	return &Mailer{cfg: cfg, log: log}, nil
}

type linkValues struct {
	Sender    string
	URL       string
	Countdown string
	ExpiresAt string
}

// RenderLinkMessage returns the subject and plain text body for a share link.
// now is used for the countdown in the body.
func RenderLinkMessage(sender string, link *session.Link, now time.Time) (string, string, error) {
	if sender == "" {
		sender = "Alguém"
	}

	values := linkValues{
		Sender:    sender,
		URL:       link.URL,
		Countdown: expiry.FormatCountdown(link.ExpiresAt.Sub(now)),
		ExpiresAt: link.ExpiresAt.Local().Format("15:04:05"),
	}

	var buf bytes.Buffer
	if err := linkTemplate.Execute(&buf, values); err != nil {
		return "", "", fmt.Errorf("unable to render message: %w", err)
	}

	return "Dados compartilhados com você", buf.String(), nil
}

func (m *Mailer) message(to, subject, body string) (*mail.Msg, error) {
	message := mail.NewMsg()
	if err := message.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("failed to set FROM address: %w", err)
	}
	if err := message.To(to); err != nil {
		return nil, fmt.Errorf("failed to set TO address: %w", err)
	}

	message.Subject(subject)
	message.SetBodyString(mail.TypeTextPlain, body)

	if m.cfg.HeaderKey != "" {
		message.SetGenHeader(mail.Header(m.cfg.HeaderKey), m.cfg.HeaderValue)
	}

	return message, nil
}

// SendLink mails a share link to one recipient.
func (m *Mailer) SendLink(ctx context.Context, to, sender string, link *session.Link) error {
	subject, body, err := RenderLinkMessage(sender, link, time.Now())
	if err != nil {
		return err
	}

	message, err := m.message(to, subject, body)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
	}
	if m.cfg.Port != 0 {
		opts = append(opts, mail.WithPort(m.cfg.Port))
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create mail delivery client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, message); err != nil {
		return fmt.Errorf("failed to deliver mail: %w", err)
	}

	m.log.WithField("share", link.ShareID).Info("share link mailed")
	return nil
}
