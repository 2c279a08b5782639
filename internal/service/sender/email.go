package sender

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"omnidesk.app/core/internal/model"
)

// EmailSender relays agent replies over SMTP. Email delivery is handled
// by its own queue rather than inline relay, so transient mail failures
// get the higher retry ceiling of the outbound-email queue.
type EmailSender struct {
	host     string
	port     int
	username string
	password string
	from     string

	// sendMail is swappable for tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailSender(host string, port int, username, password, from string) *EmailSender {
	return &EmailSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		sendMail: smtp.SendMail,
	}
}

func (s *EmailSender) Platform() model.Platform { return model.PlatformEmail }

// Send threads the reply onto the customer's mail client conversation
// via In-Reply-To/References on the original Message-ID.
func (s *EmailSender) Send(ctx context.Context, _ model.Credentials, req Request) error {
	if err := requireTarget(req, "to"); err != nil {
		return err
	}
	to := req.Target["to"]

	subject := req.Target["subject"]
	if subject == "" {
		subject = "Re: your support request"
	} else if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	msg := s.buildMessage(to, subject, req.Target["message_id"], req.Text)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.sendMail(addr, auth, s.from, []string{to}, msg)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", to, err)
		}
		return nil
	}
}

func (s *EmailSender) buildMessage(to, subject, inReplyTo, text string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if inReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", inReplyTo)
		fmt.Fprintf(&b, "References: %s\r\n", inReplyTo)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(text)
	b.WriteString("\r\n")
	return []byte(b.String())
}
