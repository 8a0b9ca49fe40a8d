package rooms

import "errors"

// ErrRoomNotFound is returned when a room id or code resolves to nothing.
var ErrRoomNotFound = errors.New("room not found")

// ErrParticipantNotFound is returned when a participant lookup misses.
var ErrParticipantNotFound = errors.New("participant not found")
