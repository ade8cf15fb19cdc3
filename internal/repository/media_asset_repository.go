package repository

import (
	"context"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/maheshrc27/postflow/internal/models"
)

type MediaAssetRepository interface {
	Create(ctx context.Context, tx *sqlx.Tx, ma *models.MediaAsset) (int64, error)
	ListByEntryID(ctx context.Context, entryID int64) ([]*models.MediaAsset, error)
	UpdateDisplayOrder(ctx context.Context, tx *sqlx.Tx, id int64, order int) error
	Remove(ctx context.Context, tx *sqlx.Tx, id int64) error
	RemoveByEntryID(ctx context.Context, tx *sqlx.Tx, entryID int64) error
	// IncrementUsage bumps usage_counter only if version still matches.
	// It reports false when another dispatcher won the race.
	IncrementUsage(ctx context.Context, id, expectedVersion int64) (bool, error)
}

type mediaAssetRepository struct {
	db *sqlx.DB
}

func NewMediaAssetRepository(db *sqlx.DB) MediaAssetRepository {
	return &mediaAssetRepository{db: db}
}

func (r *mediaAssetRepository) Create(ctx context.Context, tx *sqlx.Tx, ma *models.MediaAsset) (int64, error) {
	query := `
		INSERT INTO media_assets (entry_id, url, mime_type, thumbnail_url, display_order)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := ext(r.db, tx).QueryRowxContext(ctx, query, ma.EntryID, ma.URL, ma.MimeType, ma.ThumbnailURL, ma.DisplayOrder).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *mediaAssetRepository) ListByEntryID(ctx context.Context, entryID int64) ([]*models.MediaAsset, error) {
	query := `
		SELECT id, entry_id, url, mime_type, thumbnail_url, usage_counter, version, display_order, created_at
		FROM media_assets
		WHERE entry_id = $1
		ORDER BY display_order, id
	`

	var assets []*models.MediaAsset
	if err := r.db.SelectContext(ctx, &assets, query, entryID); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return assets, nil
}

func (r *mediaAssetRepository) UpdateDisplayOrder(ctx context.Context, tx *sqlx.Tx, id int64, order int) error {
	query := `UPDATE media_assets SET display_order = $1 WHERE id = $2`
	if _, err := ext(r.db, tx).ExecContext(ctx, query, order, id); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *mediaAssetRepository) Remove(ctx context.Context, tx *sqlx.Tx, id int64) error {
	query := `DELETE FROM media_assets WHERE id = $1`
	if _, err := ext(r.db, tx).ExecContext(ctx, query, id); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *mediaAssetRepository) RemoveByEntryID(ctx context.Context, tx *sqlx.Tx, entryID int64) error {
	query := `DELETE FROM media_assets WHERE entry_id = $1`
	if _, err := ext(r.db, tx).ExecContext(ctx, query, entryID); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *mediaAssetRepository) IncrementUsage(ctx context.Context, id, expectedVersion int64) (bool, error) {
	query := `
		UPDATE media_assets
		SET usage_counter = usage_counter + 1,
			version = version + 1
		WHERE id = $1 AND version = $2
	`
	result, err := r.db.ExecContext(ctx, query, id, expectedVersion)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
