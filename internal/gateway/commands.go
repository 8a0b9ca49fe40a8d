package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cowork-live/focusroom/internal/events"
	"github.com/cowork-live/focusroom/internal/models"
)

// TimerControl is the orchestrator surface inbound commands drive.
type TimerControl interface {
	Start(ctx context.Context, roomID uuid.UUID) error
	Pause(ctx context.Context, roomID uuid.UUID) error
	Skip(ctx context.Context, roomID uuid.UUID) error
}

// CommandHandler consumes raw inbound frames from a connection.
type CommandHandler interface {
	HandleCommand(conn *Connection, message []byte)
}

// Command is the inbound frame shape. start, pause and skip are the only
// commands; connect/disconnect are transport-level, not messages.
type Command struct {
	Type string `json:"type"`
}

const (
	CommandStart = "start"
	CommandPause = "pause"
	CommandSkip  = "skip"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// commandRouter validates inbound commands at the boundary and dispatches
// them to the orchestrator. All three commands are host-only.
type commandRouter struct {
	timers TimerControl
}

func newCommandRouter(timers TimerControl) *commandRouter {
	return &commandRouter{timers: timers}
}

func (r *commandRouter) HandleCommand(conn *Connection, message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		log.Debug().Str("connection_id", conn.ID).Msg("malformed command frame, ignoring")
		return
	}

	switch cmd.Type {
	case CommandStart, CommandPause, CommandSkip:
	default:
		log.Debug().
			Str("connection_id", conn.ID).
			Str("command", cmd.Type).
			Msg("unknown command, ignoring")
		return
	}

	if conn.Role != models.RoleHost {
		r.sendError(conn, "FORBIDDEN", "only the host can control the timer")
		return
	}

	ctx := context.Background()
	var err error
	switch cmd.Type {
	case CommandStart:
		err = r.timers.Start(ctx, conn.RoomID)
	case CommandPause:
		err = r.timers.Pause(ctx, conn.RoomID)
	case CommandSkip:
		err = r.timers.Skip(ctx, conn.RoomID)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("room_id", conn.RoomID.String()).
			Str("command", cmd.Type).
			Msg("command failed")
		r.sendError(conn, "COMMAND_FAILED", "could not apply "+cmd.Type)
	}
}

func (r *commandRouter) sendError(conn *Connection, code, message string) {
	event, err := events.NewRoomEvent(conn.RoomID, events.EventTypeError, errorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	conn.Manager.SendToConnection(conn, event)
}
