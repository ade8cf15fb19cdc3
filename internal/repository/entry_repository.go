package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/models"
)

const entryColumns = `id, owner_id, account_id, target_time, caption, platform_flags, distribution_mode,
	status, attempts, last_error, executed_at, created_at, updated_at`

type EntryRepository interface {
	Create(ctx context.Context, tx *sqlx.Tx, e *models.SchedulingEntry) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.SchedulingEntry, error)
	GetByOwner(ctx context.Context, ownerID int64) ([]*models.SchedulingEntry, error)
	CheckByOwner(ctx context.Context, id, ownerID int64) (bool, error)
	ListPendingInWindow(ctx context.Context, from, to time.Time) ([]*models.SchedulingEntry, error)
	Update(ctx context.Context, tx *sqlx.Tx, e *models.SchedulingEntry) error
	UpdateStatus(ctx context.Context, id int64, status, lastError string) error
	RecordAttempt(ctx context.Context, id int64, attempt int, lastError string) error
	Remove(ctx context.Context, tx *sqlx.Tx, id int64) error
}

type entryRepository struct {
	db *sqlx.DB
}

func NewEntryRepository(db *sqlx.DB) EntryRepository {
	return &entryRepository{db: db}
}

func (r *entryRepository) Create(ctx context.Context, tx *sqlx.Tx, e *models.SchedulingEntry) (int64, error) {
	query := `
		INSERT INTO scheduling_entries (owner_id, account_id, target_time, caption, platform_flags, distribution_mode, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var id int64
	err := ext(r.db, tx).QueryRowxContext(ctx, query,
		e.OwnerID,
		e.AccountID,
		e.TargetTime,
		e.Caption,
		e.PlatformFlags,
		e.DistributionMode,
		e.Status,
	).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

// GetByID returns nil, nil when the entry does not exist.
func (r *entryRepository) GetByID(ctx context.Context, id int64) (*models.SchedulingEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM scheduling_entries WHERE id = $1`

	var e models.SchedulingEntry
	if err := r.db.GetContext(ctx, &e, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &e, nil
}

func (r *entryRepository) GetByOwner(ctx context.Context, ownerID int64) ([]*models.SchedulingEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM scheduling_entries WHERE owner_id = $1 ORDER BY target_time`

	var entries []*models.SchedulingEntry
	if err := r.db.SelectContext(ctx, &entries, query, ownerID); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return entries, nil
}

func (r *entryRepository) CheckByOwner(ctx context.Context, id, ownerID int64) (bool, error) {
	query := "SELECT 1 FROM scheduling_entries WHERE id = $1 AND owner_id = $2"

	var result int
	err := r.db.QueryRowxContext(ctx, query, id, ownerID).Scan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

// ListPendingInWindow returns non-terminal entries with from <= target_time <= to.
func (r *entryRepository) ListPendingInWindow(ctx context.Context, from, to time.Time) ([]*models.SchedulingEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM scheduling_entries
		WHERE status = $1
		  AND target_time BETWEEN $2 AND $3
		ORDER BY target_time`

	var entries []*models.SchedulingEntry
	if err := r.db.SelectContext(ctx, &entries, query, models.EntryStatusPending, from, to); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return entries, nil
}

func (r *entryRepository) Update(ctx context.Context, tx *sqlx.Tx, e *models.SchedulingEntry) error {
	query := `
		UPDATE scheduling_entries
		SET account_id = $1,
			target_time = $2,
			caption = $3,
			platform_flags = $4,
			distribution_mode = $5,
			status = $6,
			attempts = $7,
			last_error = $8,
			updated_at = NOW()
		WHERE id = $9
	`
	result, err := ext(r.db, tx).ExecContext(ctx, query,
		e.AccountID,
		e.TargetTime,
		e.Caption,
		e.PlatformFlags,
		e.DistributionMode,
		e.Status,
		e.Attempts,
		e.LastError,
		e.ID,
	)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return requireAffected(result, "entry %d", e.ID)
}

func (r *entryRepository) UpdateStatus(ctx context.Context, id int64, status, lastError string) error {
	query := `
		UPDATE scheduling_entries
		SET status = $1,
			last_error = $2,
			executed_at = CASE WHEN $3 THEN NOW() ELSE executed_at END,
			updated_at = NOW()
		WHERE id = $4
	`
	result, err := r.db.ExecContext(ctx, query, status, lastError, status == models.EntryStatusExecuted, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return requireAffected(result, "entry %d", id)
}

func (r *entryRepository) RecordAttempt(ctx context.Context, id int64, attempt int, lastError string) error {
	query := `UPDATE scheduling_entries SET attempts = $1, last_error = $2, updated_at = NOW() WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, attempt, lastError, id); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *entryRepository) Remove(ctx context.Context, tx *sqlx.Tx, id int64) error {
	query := `DELETE FROM scheduling_entries WHERE id = $1`
	if _, err := ext(r.db, tx).ExecContext(ctx, query, id); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func requireAffected(result sql.Result, format string, args ...any) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound(format, args...)
	}
	return nil
}
