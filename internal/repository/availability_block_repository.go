package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
)

const blockColumns = `id, admin_id, remote_event_id, title, start_time, end_time, created_at, updated_at`

// AvailabilityBlockRepository persists availability blocks mirrored from remote calendars.
type AvailabilityBlockRepository struct {
	db *sqlx.DB
}

// NewAvailabilityBlockRepository constructs the repository.
func NewAvailabilityBlockRepository(db *sqlx.DB) *AvailabilityBlockRepository {
	return &AvailabilityBlockRepository{db: db}
}

// FindByID returns a block by identifier.
func (r *AvailabilityBlockRepository) FindByID(ctx context.Context, id string) (*models.AvailabilityBlock, error) {
	query := `SELECT ` + blockColumns + ` FROM availability_blocks WHERE id = $1`
	var block models.AvailabilityBlock
	if err := r.db.GetContext(ctx, &block, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find availability block: %w", err)
	}
	return &block, nil
}

// ListRemoteIDsByAdmin returns the remote event ids of every block owned by the admin.
func (r *AvailabilityBlockRepository) ListRemoteIDsByAdmin(ctx context.Context, adminID string) ([]string, error) {
	const query = `SELECT remote_event_id FROM availability_blocks WHERE admin_id = $1 AND remote_event_id IS NOT NULL`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, adminID); err != nil {
		return nil, fmt.Errorf("list block remote ids: %w", err)
	}
	return ids, nil
}

// Upsert inserts or updates a block keyed by its remote event id. An existing row keeps its id
// and is only rewritten when one of the mirrored fields changed.
func (r *AvailabilityBlockRepository) Upsert(ctx context.Context, block *models.AvailabilityBlock) error {
	if block.RemoteEventID == nil {
		return fmt.Errorf("upsert availability block: remote event id required")
	}
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	block.CreatedAt = now
	block.UpdatedAt = now

	const query = `INSERT INTO availability_blocks (id, admin_id, remote_event_id, title, start_time, end_time, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (remote_event_id) DO UPDATE SET
    admin_id = EXCLUDED.admin_id,
    title = EXCLUDED.title,
    start_time = EXCLUDED.start_time,
    end_time = EXCLUDED.end_time,
    updated_at = EXCLUDED.updated_at
WHERE (availability_blocks.admin_id, availability_blocks.title, availability_blocks.start_time, availability_blocks.end_time)
    IS DISTINCT FROM (EXCLUDED.admin_id, EXCLUDED.title, EXCLUDED.start_time, EXCLUDED.end_time)
RETURNING id`

	var id string
	err := r.db.QueryRowxContext(ctx, query,
		block.ID, block.AdminID, block.RemoteEventID, block.Title, block.StartTime, block.EndTime, now, now,
	).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		// unchanged row, nothing was written
		if err := r.db.GetContext(ctx, &block.ID, `SELECT id FROM availability_blocks WHERE remote_event_id = $1`, block.RemoteEventID); err != nil {
			return fmt.Errorf("load unchanged availability block: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("upsert availability block: %w", err)
	}
	block.ID = id
	return nil
}

// DeleteByRemoteIDs removes the admin's blocks whose remote events are listed.
func (r *AvailabilityBlockRepository) DeleteByRemoteIDs(ctx context.Context, adminID string, remoteIDs []string) (int, error) {
	if len(remoteIDs) == 0 {
		return 0, nil
	}
	const query = `DELETE FROM availability_blocks WHERE admin_id = $1 AND remote_event_id = ANY($2)`
	res, err := r.db.ExecContext(ctx, query, adminID, pq.Array(remoteIDs))
	if err != nil {
		return 0, fmt.Errorf("delete availability blocks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete availability blocks rows: %w", err)
	}
	return int(affected), nil
}

// ListUpcoming returns blocks starting at or after from, with their admin, ordered by start time.
func (r *AvailabilityBlockRepository) ListUpcoming(ctx context.Context, from time.Time) ([]models.BlockWithAdmin, error) {
	const query = `SELECT b.id, b.admin_id, b.remote_event_id, b.title, b.start_time, b.end_time, b.created_at, b.updated_at,
    u.name AS admin_name, u.email AS admin_email
FROM availability_blocks b
JOIN users u ON u.id = b.admin_id
WHERE b.start_time >= $1
ORDER BY b.start_time ASC, b.id ASC`
	var blocks []models.BlockWithAdmin
	if err := r.db.SelectContext(ctx, &blocks, query, from); err != nil {
		return nil, fmt.Errorf("list upcoming availability blocks: %w", err)
	}
	return blocks, nil
}
