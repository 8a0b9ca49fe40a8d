package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cowork-live/focusroom/internal/auth"
	"github.com/cowork-live/focusroom/internal/events"
	"github.com/cowork-live/focusroom/internal/models"
	"github.com/cowork-live/focusroom/internal/rooms"
)

// TokenVerifier verifies room tokens presented on connection.
type TokenVerifier interface {
	Verify(token string) (*auth.RoomClaims, error)
}

// ParticipantChecker confirms a token's participant still exists and records
// when they were last seen.
type ParticipantChecker interface {
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	TouchParticipant(ctx context.Context, id uuid.UUID, seenAt time.Time) error
}

// WebSocketHandler upgrades authenticated requests into room connections and
// pushes the initial state snapshot.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	verifier          TokenVerifier
	participants      ParticipantChecker
	snapshots         *StateProvider
}

func NewWebSocketHandler(cm *ConnectionManager, verifier TokenVerifier, participants ParticipantChecker, snapshots *StateProvider) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		verifier:          verifier,
		participants:      participants,
		snapshots:         snapshots,
	}
}

// HandleRoomConnection authenticates the token, joins the room group and
// sends the snapshot as the connection's first frame.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	claims, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	roomID, err := uuid.Parse(claims.RoomID)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	participantID, err := uuid.Parse(claims.ParticipantID)
	if err != nil {
		http.Error(w, "invalid participant id", http.StatusBadRequest)
		return
	}

	// A valid token can outlive its room; the participant row is the check
	// that the room was not torn down in the meantime.
	if _, err := h.participants.GetParticipant(r.Context(), participantID); err != nil {
		if errors.Is(err, rooms.ErrParticipantNotFound) {
			http.Error(w, "participant no longer exists", http.StatusGone)
			return
		}
		http.Error(w, "failed to look up participant", http.StatusInternalServerError)
		return
	}
	if err := h.participants.TouchParticipant(r.Context(), participantID, time.Now()); err != nil {
		log.Warn().Err(err).Str("participant_id", claims.ParticipantID).Msg("failed to record last seen")
	}

	conn, err := h.connectionManager.UpgradeConnection(w, r, roomID, participantID, claims.Role)
	if err != nil {
		log.Error().
			Err(err).
			Str("room_id", claims.RoomID).
			Str("participant_id", claims.ParticipantID).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	snapshot, err := h.snapshots.Snapshot(r.Context(), roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", claims.RoomID).Msg("failed to build join snapshot")
		return
	}
	event, err := events.NewRoomEvent(roomID, events.EventTypeSnapshot, snapshot)
	if err != nil {
		log.Error().Err(err).Str("room_id", claims.RoomID).Msg("failed to build snapshot event")
		return
	}
	h.connectionManager.SendToConnection(conn, event)
}

// RegisterRoutes registers the WebSocket routes.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
}
