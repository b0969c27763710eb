// Package notification tells managers about escalated requests and
// employees about decisions. The Dispatcher implements lifecycle.Notifier and
// fans each notice out to every registered sender (webhook, email).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/lifecycle"
)

// Event names carried in messages and webhook payloads.
const (
	EventEscalated = "request.escalated"
	EventReminder  = "request.reminder"
	EventDecided   = "request.decided"
)

// Sender is the interface for a single notification backend.
type Sender interface {
	// Type returns the backend identifier ("webhook", "email").
	Type() string
	// Send delivers msg to the recipient.
	Send(ctx context.Context, to Recipient, msg *Message) error
}

// Recipient is the person a notice is addressed to.
type Recipient struct {
	EmployeeID string
	Name       string
	Email      string
}

// Message is the payload sent through a backend.
type Message struct {
	Event    string            // EventEscalated, EventReminder or EventDecided.
	Subject  string            // Used by email.
	Body     string            // Plain text body.
	Metadata map[string]string // request_id, kind, status, employee_id, ...
}

// Directory resolves recipients.
type Directory interface {
	Get(ctx context.Context, id string) (*domain.Employee, error)
}

// Dispatcher routes notices to every registered Sender.
type Dispatcher struct {
	mu        sync.RWMutex
	senders   []Sender
	directory Directory
	logger    *slog.Logger
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(directory Directory, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{directory: directory, logger: logger}
}

// RegisterSender adds a backend.
func (d *Dispatcher) RegisterSender(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders = append(d.senders, s)
}

// Senders returns the registered backend types.
func (d *Dispatcher) Senders() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.senders))
	for i, s := range d.senders {
		out[i] = s.Type()
	}
	return out
}

// Escalated notifies the manager that a request awaits their decision.
func (d *Dispatcher) Escalated(ctx context.Context, n lifecycle.Notice) error {
	return d.deliver(ctx, n.RecipientID, EscalationMessage(n))
}

// Decided notifies the employee about a manager's decision.
func (d *Dispatcher) Decided(ctx context.Context, n lifecycle.Notice) error {
	return d.deliver(ctx, n.RecipientID, DecisionMessage(n))
}

// Notify sends msg to an employee through every backend. Per-backend
// failures are joined; one failing backend does not stop the others.
func (d *Dispatcher) Notify(ctx context.Context, employeeID string, msg *Message) error {
	return d.deliver(ctx, employeeID, msg)
}

func (d *Dispatcher) deliver(ctx context.Context, recipientID string, msg *Message) error {
	emp, err := d.directory.Get(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("resolving recipient %s: %w", recipientID, err)
	}
	to := Recipient{EmployeeID: emp.ID, Name: emp.Name, Email: emp.Email}

	d.mu.RLock()
	senders := append([]Sender(nil), d.senders...)
	d.mu.RUnlock()

	var errs []error
	for _, s := range senders {
		if err := s.Send(ctx, to, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Type(), err))
			d.logger.WarnContext(ctx, "notification send failed",
				slog.String("type", s.Type()),
				slog.String("event", msg.Event),
				slog.String("recipient", recipientID),
				slog.String("error", err.Error()),
			)
			continue
		}
		d.logger.InfoContext(ctx, "notification sent",
			slog.String("type", s.Type()),
			slog.String("event", msg.Event),
			slog.String("recipient", recipientID),
		)
	}
	return errors.Join(errs...)
}

// EscalationMessage renders an escalation or reminder notice for a manager.
func EscalationMessage(n lifecycle.Notice) *Message {
	event, subject := EventEscalated, fmt.Sprintf("[Ruhusa] %s request from %s needs your decision", kindLabel(n.Kind), n.Employee.Name)
	if n.Reminder {
		event = EventReminder
		subject = fmt.Sprintf("[Ruhusa] Reminder: %s request from %s is still pending", kindLabel(n.Kind), n.Employee.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) submitted a %s request: %s.\n", n.Employee.Name, n.Employee.ID, kindLabel(n.Kind), n.Summary)
	if n.Reason != "" {
		fmt.Fprintf(&b, "Escalated because: %s.\n", n.Reason)
	}
	if n.Reminder && !n.PendingSince.IsZero() {
		fmt.Fprintf(&b, "Pending since %s.\n", n.PendingSince.UTC().Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Request ID: %s", n.RequestID)

	return &Message{
		Event:    event,
		Subject:  subject,
		Body:     b.String(),
		Metadata: metadata(n),
	}
}

// DecisionMessage renders a decision notice for the requester.
func DecisionMessage(n lifecycle.Notice) *Message {
	subject := fmt.Sprintf("[Ruhusa] Your %s request was %s", kindLabel(n.Kind), n.Status)
	body := fmt.Sprintf("Your %s request (%s) was %s.", kindLabel(n.Kind), n.Summary, n.Status)
	if n.Reason != "" {
		body += "\nNote: " + n.Reason
	}
	body += "\nRequest ID: " + n.RequestID.String()
	return &Message{
		Event:    EventDecided,
		Subject:  subject,
		Body:     body,
		Metadata: metadata(n),
	}
}

func metadata(n lifecycle.Notice) map[string]string {
	return map[string]string{
		"request_id":  n.RequestID.String(),
		"kind":        string(n.Kind),
		"status":      string(n.Status),
		"employee_id": n.Employee.ID,
	}
}

func kindLabel(k domain.RequestKind) string {
	if k == domain.KindPTO {
		return "PTO"
	}
	return string(k)
}

var _ lifecycle.Notifier = (*Dispatcher)(nil)
