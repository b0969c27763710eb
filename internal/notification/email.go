package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
)

// SMTPConfig holds SMTP connection parameters.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool // Implicit TLS (port 465). Otherwise STARTTLS is used when offered.
}

// EmailSender mails notices to the recipient's work address.
type EmailSender struct {
	config SMTPConfig
	logger *slog.Logger
}

// NewEmailSender creates an SMTP-based email sender.
func NewEmailSender(cfg SMTPConfig, logger *slog.Logger) *EmailSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailSender{config: cfg, logger: logger}
}

func (s *EmailSender) Type() string { return "email" }

func (s *EmailSender) Send(ctx context.Context, to Recipient, msg *Message) error {
	if to.Email == "" {
		return fmt.Errorf("employee %s has no email address", to.EmployeeID)
	}
	if s.config.Host == "" {
		return fmt.Errorf("smtp host is not configured")
	}

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.config.Username != "" && s.config.Password != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.config.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to.Email); err != nil {
		return fmt.Errorf("smtp RCPT TO %s: %w", to.Email, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(buildEmail(s.config.From, to, msg)); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	s.logger.DebugContext(ctx, "notice mailed",
		slog.String("event", msg.Event),
		slog.String("employee_id", to.EmployeeID),
		slog.String("request_id", msg.Metadata["request_id"]),
	)
	return client.Quit()
}

// dial connects to the server, with implicit TLS or an opportunistic STARTTLS.
func (s *EmailSender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	tlsConfig := &tls.Config{ServerName: s.config.Host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if s.config.TLS {
		conn, err = (&tls.Dialer{Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	if !s.config.TLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, fmt.Errorf("smtp STARTTLS: %w", err)
			}
		}
	}
	return client, nil
}

// buildEmail renders msg as a plain-text RFC 5322 message. Notice metadata
// becomes X-Ruhusa-* headers so mail rules can route on request kind or id.
func buildEmail(from string, to Recipient, msg *Message) []byte {
	subject := msg.Subject
	if subject == "" {
		subject = defaultSubject(msg.Event)
	}
	rcpt := (&mail.Address{Name: to.Name, Address: to.Email}).String()

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + rcpt + "\r\n")
	b.WriteString("Subject: " + headerSafe(subject) + "\r\n")
	if msg.Event != "" {
		b.WriteString("X-Ruhusa-Event: " + headerSafe(msg.Event) + "\r\n")
	}
	keys := make([]string, 0, len(msg.Metadata))
	for k := range msg.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("X-Ruhusa-" + headerName(k) + ": " + headerSafe(msg.Metadata[k]) + "\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

func defaultSubject(event string) string {
	switch event {
	case EventEscalated:
		return "[Ruhusa] A request needs your decision"
	case EventReminder:
		return "[Ruhusa] A request is still pending"
	case EventDecided:
		return "[Ruhusa] Your request was decided"
	default:
		return "[Ruhusa] Notification"
	}
}

// headerName turns a metadata key such as "request_id" into "Request-Id".
func headerName(key string) string {
	parts := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}

// headerSafe strips CR and LF so user-supplied text cannot inject headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
