package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clearance-api/internal/models"
)

const windowColumns = `id, window_id, is_active, reason, start_at, end_at, updated_by, updated_at`

// ScheduleRepository persists the singleton clearance window row.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository constructs the repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Get loads the window row.
func (r *ScheduleRepository) Get(ctx context.Context) (*models.ClearanceWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM clearance_window WHERE id = 1`
	var window models.ClearanceWindow
	if err := r.db.GetContext(ctx, &window, query); err != nil {
		return nil, err
	}
	return &window, nil
}

// Activate opens a window only if none is active. It reports false when another
// window already holds the row.
func (r *ScheduleRepository) Activate(ctx context.Context, window *models.ClearanceWindow) (bool, error) {
	const query = `UPDATE clearance_window
        SET window_id = $1, is_active = TRUE, reason = $2, start_at = $3, end_at = $4, updated_by = $5, updated_at = $6
        WHERE id = 1 AND NOT is_active`
	res, err := r.db.ExecContext(ctx, query, window.WindowID, window.Reason, window.StartAt, window.EndAt, window.UpdatedBy, window.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("activate clearance window: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate clearance window: %w", err)
	}
	return affected == 1, nil
}

// Deactivate closes the window unconditionally.
func (r *ScheduleRepository) Deactivate(ctx context.Context, actorID *string, at time.Time) error {
	const query = `UPDATE clearance_window SET is_active = FALSE, updated_by = $1, updated_at = $2 WHERE id = 1`
	if _, err := r.db.ExecContext(ctx, query, actorID, at); err != nil {
		return fmt.Errorf("deactivate clearance window: %w", err)
	}
	return nil
}

// ExpireIfDue closes an active window whose end has passed. Concurrent callers
// race on the same conditional update; only one observes a change.
func (r *ScheduleRepository) ExpireIfDue(ctx context.Context, now time.Time) (bool, error) {
	const query = `UPDATE clearance_window SET is_active = FALSE, updated_by = NULL, updated_at = $1
        WHERE id = 1 AND is_active AND end_at <= $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return false, fmt.Errorf("expire clearance window: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire clearance window: %w", err)
	}
	return affected > 0, nil
}
