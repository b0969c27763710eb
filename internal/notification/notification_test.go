package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/lifecycle"
)

type directory map[string]domain.Employee

func (d directory) Get(_ context.Context, id string) (*domain.Employee, error) {
	e, ok := d[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "employee", ID: id}
	}
	return &e, nil
}

type captureSender struct {
	mu   sync.Mutex
	typ  string
	err  error
	sent []Recipient
	msgs []*Message
}

func (c *captureSender) Type() string { return c.typ }

func (c *captureSender) Send(_ context.Context, to Recipient, msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to)
	c.msgs = append(c.msgs, msg)
	return c.err
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var people = directory{
	"E001": {ID: "E001", Name: "Amina", Email: "amina@example.com", ManagerID: "M001"},
	"M001": {ID: "M001", Name: "Baraka", Email: "baraka@example.com"},
}

func escalationNotice() lifecycle.Notice {
	return lifecycle.Notice{
		Kind:        domain.KindPTO,
		RequestID:   uuid.New(),
		Employee:    people["E001"],
		RecipientID: "M001",
		Summary:     "2026-06-01 to 2026-06-05 (5 days)",
		Reason:      "exceeds auto-approve threshold",
		Status:      domain.StatusPending,
	}
}

func TestDispatcher_EscalatedFansOut(t *testing.T) {
	a := &captureSender{typ: "webhook"}
	b := &captureSender{typ: "email"}
	d := NewDispatcher(people, testLogger())
	d.RegisterSender(a)
	d.RegisterSender(b)

	require.NoError(t, d.Escalated(context.Background(), escalationNotice()))
	assert.Equal(t, []string{"webhook", "email"}, d.Senders())

	for _, s := range []*captureSender{a, b} {
		require.Len(t, s.sent, 1)
		assert.Equal(t, "baraka@example.com", s.sent[0].Email)
		assert.Equal(t, EventEscalated, s.msgs[0].Event)
		assert.Contains(t, s.msgs[0].Subject, "PTO request from Amina")
		assert.Contains(t, s.msgs[0].Body, "exceeds auto-approve threshold")
	}
}

func TestDispatcher_OneFailingSenderDoesNotStopOthers(t *testing.T) {
	bad := &captureSender{typ: "webhook", err: errors.New("boom")}
	good := &captureSender{typ: "email"}
	d := NewDispatcher(people, testLogger())
	d.RegisterSender(bad)
	d.RegisterSender(good)

	err := d.Escalated(context.Background(), escalationNotice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook: boom")
	assert.Len(t, good.sent, 1)
}

func TestDispatcher_UnknownRecipient(t *testing.T) {
	d := NewDispatcher(people, testLogger())
	d.RegisterSender(&captureSender{typ: "email"})

	n := escalationNotice()
	n.RecipientID = "NOPE"
	err := d.Escalated(context.Background(), n)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMessages(t *testing.T) {
	n := escalationNotice()
	n.Reminder = true
	n.PendingSince = time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)

	msg := EscalationMessage(n)
	assert.Equal(t, EventReminder, msg.Event)
	assert.Contains(t, msg.Subject, "Reminder")
	assert.Contains(t, msg.Body, "Pending since 2026-05-20")
	assert.Equal(t, n.RequestID.String(), msg.Metadata["request_id"])

	n.Status = domain.StatusDenied
	n.Reason = "team coverage"
	msg = DecisionMessage(n)
	assert.Equal(t, EventDecided, msg.Event)
	assert.Equal(t, "[Ruhusa] Your PTO request was denied", msg.Subject)
	assert.Contains(t, msg.Body, "Note: team coverage")
	assert.Equal(t, "denied", msg.Metadata["status"])
}

func TestWebhookSender_PostsPayload(t *testing.T) {
	var got webhookPayload
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSender(WebhookConfig{
		URL:          srv.URL,
		Headers:      map[string]string{"X-Token": "secret"},
		AllowPrivate: true,
	}, testLogger())

	msg := EscalationMessage(escalationNotice())
	err := s.Send(context.Background(), Recipient{EmployeeID: "M001", Name: "Baraka"}, msg)
	require.NoError(t, err)
	assert.Equal(t, "secret", header)
	assert.Equal(t, EventEscalated, got.Event)
	assert.Equal(t, "M001", got.Recipient.EmployeeID)
	assert.Equal(t, "pto", got.Metadata["kind"])
}

func TestWebhookSender_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSender(WebhookConfig{URL: srv.URL, AllowPrivate: true}, testLogger())
	err := s.Send(context.Background(), Recipient{}, &Message{Event: EventDecided})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	// Loopback targets are refused unless explicitly allowed.
	s = NewWebhookSender(WebhookConfig{URL: srv.URL}, testLogger())
	err = s.Send(context.Background(), Recipient{}, &Message{Event: EventDecided})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestValidateWebhookURL(t *testing.T) {
	assert.Error(t, validateWebhookURL("ftp://example.com"))
	assert.Error(t, validateWebhookURL("http://localhost:9000/hook"))
	assert.Error(t, validateWebhookURL("http://10.0.0.8/hook"))
}

func TestEmailSender_RequiresAddress(t *testing.T) {
	s := NewEmailSender(SMTPConfig{Host: "smtp.example.com"}, testLogger())
	err := s.Send(context.Background(), Recipient{EmployeeID: "E009"}, &Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no email address")
}

func TestBuildEmail(t *testing.T) {
	body := string(buildEmail("hr@example.com",
		Recipient{EmployeeID: "M001", Name: "Baraka", Email: "baraka@example.com"},
		&Message{
			Event:    EventEscalated,
			Subject:  "Hi\r\nBcc: x@evil.com",
			Body:     "line1\nline2",
			Metadata: map[string]string{"request_id": "r-1", "kind": "pto"},
		}))
	assert.Contains(t, body, "To: \"Baraka\" <baraka@example.com>\r\n")
	assert.Contains(t, body, "Subject: Hi  Bcc: x@evil.com\r\n")
	assert.Contains(t, body, "X-Ruhusa-Event: request.escalated\r\n")
	assert.Contains(t, body, "X-Ruhusa-Kind: pto\r\nX-Ruhusa-Request-Id: r-1\r\n")
	assert.True(t, strings.HasSuffix(body, "\r\n\r\nline1\r\nline2"))
}

func TestBuildEmail_DefaultSubject(t *testing.T) {
	body := string(buildEmail("hr@example.com", Recipient{Email: "a@example.com"}, &Message{Event: EventReminder}))
	assert.Contains(t, body, "Subject: [Ruhusa] A request is still pending\r\n")
}
