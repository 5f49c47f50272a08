package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/pkg/db/models"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	"github.com/angelmondragon/jobrouter/pkg/outbox/payloads"
)

type captureInserter struct {
	rows []models.OutboxEvent
}

func (c *captureInserter) Insert(_ *gorm.DB, event models.OutboxEvent) error {
	c.rows = append(c.rows, event)
	return nil
}

func TestEmitWrapsPayloadInEnvelope(t *testing.T) {
	capture := &captureInserter{}
	svc := &Service{repo: capture}
	requestID := uuid.New()
	actor := &ActorRef{ActorID: uuid.New(), Role: enums.ActorRoleSystem}

	err := svc.Emit(context.Background(), &gorm.DB{}, DomainEvent{
		EventType:     enums.EventAutomationFallback,
		AggregateType: enums.AggregateServiceRequest,
		AggregateID:   requestID,
		Actor:         actor,
		Data: payloads.AutomationFallbackEvent{
			RequestID: requestID,
			Status:    enums.AssignmentFailedCapacity,
			Reason:    "all candidates at capacity",
		},
	})
	require.NoError(t, err)
	require.Len(t, capture.rows, 1)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(capture.rows[0].Payload, &envelope))
	require.Equal(t, currentEnvelopeVersion, envelope.Version)
	require.NotEmpty(t, envelope.EventID)
	require.Equal(t, actor.ActorID, envelope.Actor.ActorID)

	var data payloads.AutomationFallbackEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	require.Equal(t, enums.AssignmentFailedCapacity, data.Status)
}

func TestEmitValidates(t *testing.T) {
	svc := &Service{repo: &captureInserter{}}
	ctx := context.Background()

	require.Error(t, svc.Emit(ctx, nil, DomainEvent{EventType: enums.EventJobAutoAssigned, AggregateID: uuid.New()}))
	require.Error(t, svc.Emit(ctx, &gorm.DB{}, DomainEvent{EventType: "bogus", AggregateID: uuid.New()}))
	require.Error(t, svc.Emit(ctx, &gorm.DB{}, DomainEvent{EventType: enums.EventJobAutoAssigned}))
}
