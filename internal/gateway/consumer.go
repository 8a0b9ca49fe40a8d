package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/cowork-live/focusroom/internal/events"
)

// EventBus is the subscription surface the consumer needs.
type EventBus interface {
	Subscribe(handler func(*events.RoomEvent)) (*nats.Subscription, error)
}

// EventConsumer bridges the shared event bus to this instance's local
// connections: every published room event is fanned out to the room's
// sockets held here.
type EventConsumer struct {
	connectionManager *ConnectionManager
	bus               EventBus
	sub               *nats.Subscription
}

func NewEventConsumer(cm *ConnectionManager, bus EventBus) *EventConsumer {
	return &EventConsumer{connectionManager: cm, bus: bus}
}

// Start subscribes and blocks until ctx is cancelled.
func (ec *EventConsumer) Start(ctx context.Context) error {
	sub, err := ec.bus.Subscribe(func(event *events.RoomEvent) {
		roomID, err := uuid.Parse(event.RoomID)
		if err != nil {
			log.Error().Str("room_id", event.RoomID).Msg("event with malformed room id, dropping")
			return
		}
		ec.connectionManager.BroadcastToRoom(roomID, event)
	})
	if err != nil {
		return fmt.Errorf("start event consumer: %w", err)
	}
	ec.sub = sub

	log.Info().Msg("event consumer started")
	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil {
		log.Error().Err(err).Msg("failed to unsubscribe event consumer")
	}
	log.Info().Msg("event consumer stopped")
	return nil
}
