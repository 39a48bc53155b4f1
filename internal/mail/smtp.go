package mail

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/labstack/gommon/log"
)

// SMTPSender delivers messages through an SMTP relay.  smtp.SendMail
// upgrades to STARTTLS when the server offers it.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{Host: host, Port: port, Username: username, Password: password, From: from, send: smtp.SendMail}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := Render(msg)
	if err != nil {
		return err
	}
	raw, err := buildMIME(s.From, msg.To, msg.ReplyTo, r, time.Now())
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	if err := s.send(addr, auth, s.From, []string{msg.To}, raw); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Infof("[mail] sent %s to %s", msg.Kind, msg.To)
	return nil
}

// buildMIME assembles a multipart/alternative message with a text and an
// HTML part.
func buildMIME(from, to, replyTo string, r Rendered, at time.Time) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct{ ctype, content string }{
		{"text/plain; charset=UTF-8", r.Text},
		{"text/html; charset=UTF-8", r.HTML},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from)
	fmt.Fprintf(&out, "To: %s\r\n", to)
	if replyTo != "" {
		fmt.Fprintf(&out, "Reply-To: %s\r\n", replyTo)
	}
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", r.Subject))
	fmt.Fprintf(&out, "Date: %s\r\n", at.Format(time.RFC1123Z))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}
