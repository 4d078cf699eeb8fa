package client

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (c *fakeConn) Publish(subj string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subj)
	c.payloads = append(c.payloads, data)
	return nil
}

func pendingApproval() *repository.ExpenseApproval {
	expenseID := "exp-1"
	return &repository.ExpenseApproval{
		ID:             "apr-1",
		OrganizationID: "org-1",
		ExpenseID:      &expenseID,
		Status:         repository.StatusPending,
		CurrentStep:    1,
		TotalSteps:     2,
	}
}

func TestPublishApprovalEvent(t *testing.T) {
	conn := &fakeConn{}
	p := NewNotificationPublisher(conn, logger.Nop())

	p.PublishApprovalEvent(context.Background(), "approval_required", pendingApproval(), "user-1",
		[]string{"mgr-1"}, map[string]interface{}{"step_name": "Manager"})

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "notifications.expenses.approval_required", conn.subjects[0])

	var event NotificationEvent
	require.NoError(t, json.Unmarshal(conn.payloads[0], &event))
	assert.Equal(t, "org-1", event.EntityID)
	assert.Equal(t, "expense", event.ResourceType)
	assert.Equal(t, "exp-1", event.ResourceID)
	assert.Equal(t, "apr-1", event.ApprovalID)
	assert.Equal(t, []string{"mgr-1"}, event.Recipients)
	assert.True(t, event.IsActionable)
	assert.Equal(t, "Manager", event.Payload["step_name"])
}

func TestPublishApprovalEventSkips(t *testing.T) {
	tests := []struct {
		name       string
		publisher  *NotificationPublisher
		recipients []string
	}{
		{name: "nil publisher", publisher: nil, recipients: []string{"a"}},
		{name: "nil connection", publisher: NewNotificationPublisher(nil, logger.Nop()), recipients: []string{"a"}},
		{name: "no recipients", publisher: NewNotificationPublisher(&fakeConn{}, logger.Nop())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				tt.publisher.PublishApprovalEvent(context.Background(), "approved", pendingApproval(), "u", tt.recipients, nil)
			})
			if tt.publisher != nil {
				if conn, ok := tt.publisher.conn.(*fakeConn); ok {
					assert.Empty(t, conn.subjects)
				}
			}
		})
	}
}

func TestPublishApprovalEventFailureIsSwallowed(t *testing.T) {
	conn := &fakeConn{err: fmt.Errorf("nats: connection closed")}
	p := NewNotificationPublisher(conn, logger.Nop())

	assert.NotPanics(t, func() {
		p.PublishApprovalEvent(context.Background(), "paid", pendingApproval(), "fin-1", []string{"emp-1"}, nil)
	})
	assert.Empty(t, conn.subjects)
}
