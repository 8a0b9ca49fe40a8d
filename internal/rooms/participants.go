package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cowork-live/focusroom/internal/models"
)

type CreateParticipantRequest struct {
	ID          uuid.UUID
	RoomID      uuid.UUID
	Identity    string
	DisplayName string
	Role        models.Role
}

func (r *Repository) CreateParticipant(ctx context.Context, req CreateParticipantRequest) (*models.Participant, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO participants (id, room_id, identity, display_name, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, room_id, identity, display_name, role, joined_at, last_seen_at`,
		req.ID, req.RoomID, req.Identity, req.DisplayName, req.Role)

	p, err := scanParticipant(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}
	return p, nil
}

func (r *Repository) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, room_id, identity, display_name, role, joined_at, last_seen_at
		FROM participants WHERE id = $1`, id)

	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// ListParticipants returns a room's participants ordered by join time, which
// is the deterministic order host failover selects from.
func (r *Repository) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, room_id, identity, display_name, role, joined_at, last_seen_at
		FROM participants WHERE room_id = $1 ORDER BY joined_at, id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.RoomID, &p.Identity, &p.DisplayName, &p.Role, &p.JoinedAt, &p.LastSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return participants, nil
}

func (r *Repository) TouchParticipant(ctx context.Context, id uuid.UUID, seenAt time.Time) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE participants SET last_seen_at = $2 WHERE id = $1`, id, seenAt); err != nil {
		return fmt.Errorf("failed to touch participant: %w", err)
	}
	return nil
}

// TransferHost demotes the old host, promotes the new one and updates the
// room's host identity in a single transaction so the single-host invariant
// never settles violated.
func (r *Repository) TransferHost(ctx context.Context, roomID, oldHostID, newHostID uuid.UUID) (*models.Participant, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE participants SET role = $2 WHERE id = $1`, oldHostID, models.RoleGuest); err != nil {
		return nil, fmt.Errorf("failed to demote old host: %w", err)
	}

	row := tx.QueryRow(ctx, `
		UPDATE participants SET role = $2 WHERE id = $1
		RETURNING id, room_id, identity, display_name, role, joined_at, last_seen_at`,
		newHostID, models.RoleHost)
	newHost, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to promote new host: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rooms SET host_identity = $2, updated_at = now() WHERE id = $1`,
		roomID, newHost.Identity); err != nil {
		return nil, fmt.Errorf("failed to update room host identity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit host transfer: %w", err)
	}
	return newHost, nil
}

func scanParticipant(row scannable) (*models.Participant, error) {
	var p models.Participant
	err := row.Scan(&p.ID, &p.RoomID, &p.Identity, &p.DisplayName, &p.Role, &p.JoinedAt, &p.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
