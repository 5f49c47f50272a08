package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/pkg/enums"
	"github.com/angelmondragon/jobrouter/pkg/logger"
	"github.com/angelmondragon/jobrouter/pkg/outbox"
)

// Notification is one message for the external dispatcher.
type Notification struct {
	Event       enums.OutboxEventType
	RequestType enums.RequestType
	RequestID   uuid.UUID
	Actor       *outbox.ActorRef
	Data        any
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Notifier queues notifications on the transactional outbox. Delivery is
// the publisher's job; a failed enqueue is logged and never fails the caller.
type Notifier struct {
	outbox  emitter
	logg    *logger.Logger
	enabled bool
}

func NewNotifier(svc *outbox.Service, logg *logger.Logger, enabled bool) (*Notifier, error) {
	if svc == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return newNotifier(svc, logg, enabled)
}

func newNotifier(e emitter, logg *logger.Logger, enabled bool) (*Notifier, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Notifier{outbox: e, logg: logg, enabled: enabled}, nil
}

// Notify enqueues n inside tx. The insert runs in a savepoint so a failure
// leaves the surrounding transaction usable.
func (n *Notifier) Notify(ctx context.Context, tx *gorm.DB, note Notification) {
	if n == nil || !n.enabled {
		return
	}
	logCtx := n.logg.WithFields(ctx, map[string]any{
		"event_type": string(note.Event),
		"request_id": note.RequestID.String(),
	})
	if tx == nil {
		n.logg.Warn(logCtx, "notification dropped: no transaction")
		return
	}
	event := outbox.DomainEvent{
		EventType:     note.Event,
		AggregateType: enums.AggregateForRequest(note.RequestType),
		AggregateID:   note.RequestID,
		Actor:         note.Actor,
		Data:          note.Data,
	}
	err := tx.Transaction(func(sp *gorm.DB) error {
		return n.outbox.Emit(ctx, sp, event)
	})
	if err != nil {
		n.logg.Error(logCtx, "failed to queue notification", err)
	}
}
