package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/crestline/be-tax-approvals/internal/repository"
)

// EventPublisher publishes approval workflow events to NATS for consumption
// by the platform notification service.
//
// Subject convention: notifications.approvals.<event_type>
// Event types: approval_requested, step_approved, approval_approved,
//              approval_rejected, approval_reassigned
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so notification failures never interrupt approval operations.
type EventPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// ApprovalEvent is the JSON schema published to NATS.
type ApprovalEvent struct {
	EventType    string         `json:"event_type"`
	ApprovalID   string         `json:"approval_id"`
	WorkflowType string         `json:"workflow_type"`
	WorkflowID   string         `json:"workflow_id"`
	Status       string         `json:"status"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	Title        string         `json:"title"`
	Priority     string         `json:"priority,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewEventPublisher creates a publisher backed by the given NATS connection.
// A nil connection yields a publisher that silently drops events, which keeps
// local development working without a broker.
func NewEventPublisher(nc *nats.Conn, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{nc: nc, log: log}
}

// PublishApprovalEvent publishes one workflow transition event.
func (p *EventPublisher) PublishApprovalEvent(ctx context.Context, eventType string, approval *repository.Approval, actorID string, recipients []string, payload map[string]any) {
	if p.nc == nil {
		return
	}

	event := &ApprovalEvent{
		EventType:    eventType,
		ApprovalID:   approval.ID,
		WorkflowType: approval.WorkflowType,
		WorkflowID:   approval.WorkflowID,
		Status:       approval.Status,
		ActorID:      actorID,
		Recipients:   recipients,
		Title:        approval.Title,
		Priority:     approval.Priority,
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.approvals.%s", eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("approval_id", approval.ID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("approval_id", approval.ID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
