package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service ties the connection manager, WebSocket handler and event consumer
// together as the transport surface of the room core.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
}

func NewService(config ConnectionConfig, presence PresenceNotifier, timers TimerControl, verifier TokenVerifier, participants ParticipantChecker, snapshots *StateProvider, bus EventBus) *Service {
	cm := NewConnectionManager(config, presence, newCommandRouter(timers))
	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, verifier, participants, snapshots),
		eventConsumer:     NewEventConsumer(cm, bus),
	}
}

// ConnectionManager exposes the manager so presence failover can consult
// actual open connections.
func (s *Service) ConnectionManager() *ConnectionManager {
	return s.connectionManager
}

// Start runs the broadcast loop and the bus consumer until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	go s.connectionManager.Start(ctx)

	go func() {
		if err := s.eventConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("gateway service shutting down")
	return nil
}

// RegisterRoutes registers the WebSocket routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("gateway routes registered")
}
