// Package mail renders and delivers the transactional emails of the
// storefront: verification codes, password reset codes and contact form
// notices.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
)

// Kind selects the template of a message.
type Kind string

const (
	KindVerificationCode Kind = "verification_code"
	KindPasswordReset    Kind = "password_reset"
	KindContactNotice    Kind = "contact_notice"
)

// ErrUnknownKind is returned by Render for a kind without a template.
var ErrUnknownKind = errors.New("unknown mail kind")

// Message is a mail job.  Code is set for verification and reset mails;
// Name, ReplyTo and Body carry contact form submissions.
type Message struct {
	Kind    Kind   `json:"kind"`
	To      string `json:"to"`
	Code    string `json:"code,omitempty"`
	Name    string `json:"name,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
	Body    string `json:"body,omitempty"`
}

// Mailer delivers a message, either directly or through a queue.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Rendered is a message ready for the wire.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

type layout struct {
	subject string
	text    string
	html    *template.Template
}

var layouts = map[Kind]layout{
	KindVerificationCode: {
		subject: "Your verification code",
		text:    "Your verification code is %s. It expires in 10 minutes.",
		html: template.Must(template.New("verification").Parse(
			`<p>Your verification code is <strong>{{.Code}}</strong>.</p><p>It expires in 10 minutes.</p>`)),
	},
	KindPasswordReset: {
		subject: "Reset your password",
		text:    "Use the code %s to reset your password. It expires in 10 minutes.",
		html: template.Must(template.New("reset").Parse(
			`<p>Use the code <strong>{{.Code}}</strong> to reset your password.</p><p>It expires in 10 minutes. If you did not ask for it, ignore this email.</p>`)),
	},
	KindContactNotice: {
		subject: "New contact request",
		text:    "%s",
		html: template.Must(template.New("contact").Parse(
			`<p>From {{.Name}} &lt;{{.ReplyTo}}&gt;</p><p>{{.Body}}</p>`)),
	},
}

// Render builds the subject and bodies of msg.  User input is escaped in
// the HTML part.
func Render(msg Message) (Rendered, error) {
	l, ok := layouts[msg.Kind]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	var buf bytes.Buffer
	if err := l.html.Execute(&buf, msg); err != nil {
		return Rendered{}, err
	}
	text := fmt.Sprintf(l.text, msg.Code)
	if msg.Kind == KindContactNotice {
		text = fmt.Sprintf("From %s <%s>\n\n%s", msg.Name, msg.ReplyTo, msg.Body)
	}
	return Rendered{Subject: l.subject, Text: text, HTML: buf.String()}, nil
}
