// Package state wraps the shared key-value store that holds "live" values:
// per-room timer state and presence sets. It is the single source of truth
// across horizontally scaled instances; the relational store keeps the
// durable facts.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/cowork-live/focusroom/internal/models"
)

// Keys expire on their own as a backstop against rooms that were never torn
// down cleanly; every successful write refreshes the TTL.
const keyTTL = 24 * time.Hour

type Store struct {
	client valkey.Client
}

func NewStore(client valkey.Client) *Store {
	return &Store{client: client}
}

func timerKey(roomID uuid.UUID) string {
	return "room:" + roomID.String() + ":timer"
}

func presenceKey(roomID uuid.UUID) string {
	return "room:" + roomID.String() + ":presence"
}

// TimerState loads the room's timer snapshot. A missing key returns (nil, nil);
// absence is a normal condition, not an error.
func (s *Store) TimerState(ctx context.Context, roomID uuid.UUID) (*models.TimerState, error) {
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(timerKey(roomID)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read timer state: %w", err)
	}

	var st models.TimerState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("failed to decode timer state: %w", err)
	}
	return &st, nil
}

func (s *Store) SetTimerState(ctx context.Context, roomID uuid.UUID, st *models.TimerState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode timer state: %w", err)
	}

	err = s.client.Do(ctx, s.client.B().Set().
		Key(timerKey(roomID)).Value(string(raw)).Ex(keyTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to write timer state: %w", err)
	}
	return nil
}

// AddPresence adds a participant to the room's active set.
func (s *Store) AddPresence(ctx context.Context, roomID, participantID uuid.UUID) error {
	key := presenceKey(roomID)
	if err := s.client.Do(ctx, s.client.B().Sadd().Key(key).Member(participantID.String()).Build()).Error(); err != nil {
		return fmt.Errorf("failed to add presence: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Expire().Key(key).Seconds(int64(keyTTL.Seconds())).Build()).Error(); err != nil {
		return fmt.Errorf("failed to refresh presence ttl: %w", err)
	}
	return nil
}

func (s *Store) RemovePresence(ctx context.Context, roomID, participantID uuid.UUID) error {
	err := s.client.Do(ctx, s.client.B().Srem().
		Key(presenceKey(roomID)).Member(participantID.String()).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

// Presence returns the ids of participants with at least one live connection
// anywhere in the deployment.
func (s *Store) Presence(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	members, err := s.client.Do(ctx, s.client.B().Smembers().Key(presenceKey(roomID)).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence set: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) PresenceCount(ctx context.Context, roomID uuid.UUID) (int, error) {
	n, err := s.client.Do(ctx, s.client.B().Scard().Key(presenceKey(roomID)).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to count presence: %w", err)
	}
	return int(n), nil
}

func (s *Store) IsPresent(ctx context.Context, roomID, participantID uuid.UUID) (bool, error) {
	ok, err := s.client.Do(ctx, s.client.B().Sismember().
		Key(presenceKey(roomID)).Member(participantID.String()).Build()).AsBool()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return ok, nil
}

// PurgeRoom deletes every ephemeral key for a room during teardown.
func (s *Store) PurgeRoom(ctx context.Context, roomID uuid.UUID) error {
	err := s.client.Do(ctx, s.client.B().Del().
		Key(timerKey(roomID), presenceKey(roomID)).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to purge room keys: %w", err)
	}
	return nil
}
