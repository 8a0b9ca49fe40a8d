package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cowork-live/focusroom/internal/models"
)

// Repository provides durable storage for rooms, segments and participants.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type CreateRoomRequest struct {
	ID           uuid.UUID
	Code         string
	HostIdentity string
	ExpiresAt    time.Time
}

func (r *Repository) CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Room, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, code, status, current_segment_index, host_identity, expires_at)
		VALUES ($1, $2, $3, 0, $4, $5)
		RETURNING id, code, status, current_segment_index, host_identity, starts_at, expires_at, created_at, updated_at`,
		req.ID, req.Code, models.RoomStatusIdle, req.HostIdentity, req.ExpiresAt)

	room, err := scanRoom(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

func (r *Repository) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, status, current_segment_index, host_identity, starts_at, expires_at, created_at, updated_at
		FROM rooms WHERE id = $1`, id)

	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

func (r *Repository) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, status, current_segment_index, host_identity, starts_at, expires_at, created_at, updated_at
		FROM rooms WHERE code = $1`, code)

	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room by code: %w", err)
	}
	return room, nil
}

// UpdateRoomProgress writes the status and segment index produced by a timer
// transition. Both fields always travel together to keep Room and TimerState
// in agreement once a transition commits.
func (r *Repository) UpdateRoomProgress(ctx context.Context, id uuid.UUID, status models.RoomStatus, currentIndex int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rooms SET status = $2, current_segment_index = $3, updated_at = now()
		WHERE id = $1`, id, status, currentIndex)
	if err != nil {
		return fmt.Errorf("failed to update room progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// MarkRoomStarted records the first wall-clock start of a room.
func (r *Repository) MarkRoomStarted(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE rooms SET starts_at = COALESCE(starts_at, $2), updated_at = now()
		WHERE id = $1`, id, startedAt)
	if err != nil {
		return fmt.Errorf("failed to mark room started: %w", err)
	}
	return nil
}

// DeleteRoom removes a room; segments, participants, tasks and messages
// cascade through foreign keys.
func (r *Repository) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRoom(row scannable) (*models.Room, error) {
	var room models.Room
	err := row.Scan(
		&room.ID, &room.Code, &room.Status, &room.CurrentSegmentIndex,
		&room.HostIdentity, &room.StartsAt, &room.ExpiresAt, &room.CreatedAt, &room.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &room, nil
}
