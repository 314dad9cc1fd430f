// Package email delivers notifications to users' inboxes over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gi7-ux/app-sub000/internal/notify"
	"github.com/Gi7-ux/app-sub000/internal/store"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultQueueSize = 128
)

var (
	ErrQueueFull = errors.New("email queue full")
	ErrClosed    = errors.New("email sink closed")
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// BaseURL prefixes notification links, e.g. https://market.example.com.
	BaseURL string
	// Timeout bounds one SMTP conversation, dial included.
	Timeout   time.Duration
	QueueSize int
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Recipients resolves the address a notification is mailed to.
type Recipients interface {
	GetUser(ctx context.Context, userID int64) (store.User, error)
}

type outgoing struct {
	userID int64
	to     []string
	msg    []byte
}

// Sink mails every notification it receives. It implements notify.Sink.
// Enqueue only renders the mail and hands it to a background worker, so a
// slow SMTP server never holds up the caller.
type Sink struct {
	config     Config
	server     string
	auth       smtp.Auth
	recipients Recipients
	send       sendFunc
	logger     *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan outgoing
	done   chan struct{}
}

func NewSink(config Config, recipients Recipients, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	s := &Sink{
		config:     config,
		server:     net.JoinHostPort(config.Host, config.Port),
		auth:       auth,
		recipients: recipients,
		send:       dialAndSend(config.Timeout),
		logger:     logger,
		queue:      make(chan outgoing, config.QueueSize),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// IsConfigured returns true if enough SMTP settings are present to send.
func (s *Sink) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Sink) Enqueue(ctx context.Context, n notify.Notification) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	user, err := s.recipients.GetUser(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient %d: %w", n.UserID, err)
	}
	if user.Email == "" {
		return nil
	}

	title := sanitizeHeader(n.Title)
	html, err := renderTemplate(notificationEmailTemplate, notificationData{
		UserName: user.Name,
		Title:    title,
		Message:  n.Message,
		URL:      s.link(n.Link),
	})
	if err != nil {
		return fmt.Errorf("render notification template: %w", err)
	}
	subject := title
	if subject == "" {
		subject = "New activity on your conversations"
	}
	to := []string{user.Email}
	return s.push(outgoing{userID: n.UserID, to: to, msg: s.compose(to, subject, n.Message, html)})
}

func (s *Sink) push(mail outgoing) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- mail:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for mail := range s.queue {
		if err := s.send(s.server, s.auth, s.config.From, mail.to, mail.msg); err != nil {
			s.logger.Warn("notification email failed",
				zap.Int64("user_id", mail.userID),
				zap.String("smtp_server", s.server),
				zap.Error(err),
			)
		}
	}
}

// Close stops accepting mail and waits for the queued mail to go out, or for
// ctx to end.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email queue not drained: %w", ctx.Err())
	}
}

func (s *Sink) link(path string) string {
	if path == "" || s.config.BaseURL == "" {
		return path
	}
	return strings.TrimRight(s.config.BaseURL, "/") + path
}

func (s *Sink) compose(to []string, subject, textBody, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-market-notification"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return msg.Bytes()
}

// dialAndSend is smtp.SendMail with every network step bounded by timeout.
func dialAndSend(timeout time.Duration) sendFunc {
	return func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return fmt.Errorf("dial smtp: %w", err)
		}
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			conn.Close()
			return fmt.Errorf("set smtp deadline: %w", err)
		}
		host, _, _ := net.SplitHostPort(addr)
		client, err := smtp.NewClient(conn, host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("smtp greeting: %w", err)
		}
		defer client.Close()

		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
		if a != nil {
			if ok, _ := client.Extension("AUTH"); ok {
				if err := client.Auth(a); err != nil {
					return fmt.Errorf("smtp auth: %w", err)
				}
			}
		}
		if err := client.Mail(from); err != nil {
			return fmt.Errorf("smtp mail from: %w", err)
		}
		for _, rcpt := range to {
			if err := client.Rcpt(rcpt); err != nil {
				return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
			}
		}
		w, err := client.Data()
		if err != nil {
			return fmt.Errorf("smtp data: %w", err)
		}
		if _, err := w.Write(msg); err != nil {
			return fmt.Errorf("smtp write: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("smtp end data: %w", err)
		}
		return client.Quit()
	}
}

// sanitizeHeader keeps user-provided text from injecting extra headers.
func sanitizeHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

type notificationData struct {
	UserName string
	Title    string
	Message  string
	URL      string
}

func renderTemplate(tmpl string, data any) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const notificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .message { background: #f5f7fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <p>Hi {{.UserName}},</p>
    {{if .Title}}<h2>{{.Title}}</h2>{{end}}
    <div class="message">{{.Message}}</div>
    {{if .URL}}<p><a href="{{.URL}}" class="button">Open conversation</a></p>{{end}}
    <div class="footer">
        <p>You are receiving this because you take part in a conversation on the marketplace.</p>
    </div>
</body>
</html>`
