// Package client holds outbound integrations of the approvals service.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

// SubjectPrefix is prepended to every event type.
const SubjectPrefix = "notifications.expenses."

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
}

// NotificationPublisher publishes approval workflow events to NATS for the
// notifications service.
//
// Subject convention: notifications.expenses.<event_type>
//
// Publishing is non-fatal: failures are logged and never returned, so a
// broker outage cannot fail an approval.
type NotificationPublisher struct {
	conn Conn
	log  *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	EntityID     string                 `json:"entity_id"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	ApprovalID   string                 `json:"approval_id"`
	Status       string                 `json:"status"`
	CurrentStep  int                    `json:"current_step"`
	TotalSteps   int                    `json:"total_steps"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Category     string                 `json:"category"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil conn disables publishing.
func NewNotificationPublisher(conn Conn, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string, log *logger.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// PublishApprovalEvent publishes one approval event. Events without
// recipients are dropped.
func (p *NotificationPublisher) PublishApprovalEvent(ctx context.Context, eventType string, a *repository.ExpenseApproval, actorID string, recipients []string, payload map[string]interface{}) {
	if p == nil || p.conn == nil || a == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	kind, submissionID := a.SubmissionRef()
	event := &NotificationEvent{
		EventType:    eventType,
		EntityID:     a.OrganizationID,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: string(kind),
		ResourceID:   submissionID,
		ApprovalID:   a.ID,
		Status:       string(a.Status),
		CurrentStep:  a.CurrentStep,
		TotalSteps:   a.TotalSteps,
		IsActionable: a.Status == repository.StatusPending || a.Status == repository.StatusAwaitingPayment,
		Category:     "expense_approval",
		OccurredAt:   time.Now().UTC(),
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := SubjectPrefix + eventType
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("approval_id", a.ID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("approval_id", a.ID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
