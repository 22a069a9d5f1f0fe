package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"reminder-notify-backend/config"
	"reminder-notify-backend/internal/model"
)

const defaultEmailTimeout = 30 * time.Second

type sendMailFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailTransport relays messages through an SMTP server.
type EmailTransport struct {
	addr     string
	host     string
	from     string
	auth     smtp.Auth
	timeout  time.Duration
	sendMail sendMailFunc
}

// NewEmailTransport creates an SMTP transport. Authentication is skipped when no
// username is configured. A whole SMTP exchange is abandoned after cfg.Timeout.
func NewEmailTransport(cfg config.EmailConfig) *EmailTransport {
	t := &EmailTransport{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:    cfg.Host,
		from:    cfg.From,
		timeout: cfg.Timeout,
	}
	if t.timeout <= 0 {
		t.timeout = defaultEmailTimeout
	}
	if cfg.Username != "" {
		t.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	t.sendMail = t.relay
	return t
}

func (t *EmailTransport) Channel() model.Channel {
	return model.ChannelEmail
}

// Send delivers msg to the recipient's address. Permanent (5xx) SMTP replies are
// terminal; everything else, timeouts included, may succeed later.
func (t *EmailTransport) Send(ctx context.Context, to Recipient, msg *Message) error {
	if to.Email == "" {
		return Terminal(model.ChannelEmail, errors.New("no email address"))
	}
	if err := ctx.Err(); err != nil {
		return Retryable(model.ChannelEmail, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err := t.sendMail(ctx, t.addr, t.auth, t.from, []string{to.Email}, t.compose(to.Email, msg))
	if err == nil {
		return nil
	}
	var reply *textproto.Error
	if errors.As(err, &reply) && reply.Code >= 500 {
		return Terminal(model.ChannelEmail, err)
	}
	return Retryable(model.ChannelEmail, err)
}

// relay runs one SMTP exchange on a connection bound to ctx: the connection deadline
// follows ctx's deadline and cancelling ctx unblocks any pending read or write.
func (t *EmailTransport) relay(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	c, err := smtp.NewClient(conn, t.host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (t *EmailTransport) compose(to string, msg *Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", t.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Title))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return b.Bytes()
}
