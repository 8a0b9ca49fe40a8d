package rooms

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cowork-live/focusroom/internal/models"
)

type SegmentSpec struct {
	Kind        models.SegmentKind
	DurationSec int
	PublicTask  string
}

// ListSegments returns a room's segments ordered by their dense 0-based order.
func (r *Repository) ListSegments(ctx context.Context, roomID uuid.UUID) ([]models.Segment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, room_id, kind, duration_sec, segment_order, public_task
		FROM segments WHERE room_id = $1 ORDER BY segment_order`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	var segments []models.Segment
	for rows.Next() {
		var seg models.Segment
		if err := rows.Scan(&seg.ID, &seg.RoomID, &seg.Kind, &seg.DurationSec, &seg.Order, &seg.PublicTask); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate segments: %w", err)
	}
	return segments, nil
}

// ReplaceSegments swaps a room's entire queue in one transaction. Orders are
// assigned densely from the slice position.
func (r *Repository) ReplaceSegments(ctx context.Context, roomID uuid.UUID, specs []SegmentSpec) ([]models.Segment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM segments WHERE room_id = $1`, roomID); err != nil {
		return nil, fmt.Errorf("failed to clear segments: %w", err)
	}

	segments := make([]models.Segment, 0, len(specs))
	for i, spec := range specs {
		seg := models.Segment{
			ID:          uuid.New(),
			RoomID:      roomID,
			Kind:        spec.Kind,
			DurationSec: spec.DurationSec,
			Order:       i,
			PublicTask:  spec.PublicTask,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO segments (id, room_id, kind, duration_sec, segment_order, public_task)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			seg.ID, seg.RoomID, seg.Kind, seg.DurationSec, seg.Order, seg.PublicTask); err != nil {
			return nil, fmt.Errorf("failed to insert segment %d: %w", i, err)
		}
		segments = append(segments, seg)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit segments: %w", err)
	}
	return segments, nil
}
