package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebhookConfig configures a WebhookSender.
type WebhookConfig struct {
	URL          string
	Headers      map[string]string
	AllowPrivate bool // Skip the private-address check (development only).
	Timeout      time.Duration
}

// WebhookSender POSTs a JSON payload for every notice to a fixed URL.
// Includes SSRF protection: blocks requests to private IP ranges.
type WebhookSender struct {
	cfg        WebhookConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// webhookPayload is the JSON body posted to the webhook.
type webhookPayload struct {
	Event     string            `json:"event"`
	Recipient webhookRecipient  `json:"recipient"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	SentAt    time.Time         `json:"sent_at"`
}

type webhookRecipient struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
}

// NewWebhookSender creates a webhook notification sender.
func NewWebhookSender(cfg WebhookConfig, logger *slog.Logger) *WebhookSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
			// Redirects could point at internal hosts.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

func (s *WebhookSender) Type() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, to Recipient, msg *Message) error {
	if s.cfg.URL == "" {
		return fmt.Errorf("webhook url is not configured")
	}
	if !s.cfg.AllowPrivate {
		if err := validateWebhookURL(s.cfg.URL); err != nil {
			return fmt.Errorf("webhook URL rejected: %w", err)
		}
	}

	body, err := json.Marshal(webhookPayload{
		Event:     msg.Event,
		Recipient: webhookRecipient{EmployeeID: to.EmployeeID, Name: to.Name, Email: to.Email},
		Subject:   msg.Subject,
		Body:      msg.Body,
		Metadata:  msg.Metadata,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Ruhusa-Webhook/1.0")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// validateWebhookURL checks that the URL points to a public host.
// Blocks private IPs, loopback, link-local, and non-HTTP schemes.
func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}

	hostname := u.Hostname()
	lower := strings.ToLower(hostname)
	if lower == "localhost" || lower == "127.0.0.1" || lower == "::1" || lower == "0.0.0.0" {
		return fmt.Errorf("loopback addresses not allowed")
	}

	ips, err := net.LookupHost(hostname)
	if err != nil {
		return fmt.Errorf("DNS lookup failed for %q: %w", hostname, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP %s not allowed", ipStr)
		}
	}
	return nil
}
