package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"montage/internal/httpkit"
	"montage/internal/models"
	"montage/internal/pkg/errors"
)

// AssetRepository is the catalog of staged overlay assets.
type AssetRepository struct {
	db *pgxpool.Pool
}

func NewAssetRepository(db *pgxpool.Pool) *AssetRepository {
	return &AssetRepository{db: db}
}

func (r *AssetRepository) Create(ctx context.Context, a *models.Asset) error {
	a.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(ctx, `
		INSERT INTO assets (id, kind, provider, object_key, mime, size_bytes,
		                    original_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, a.ID, a.Kind, a.Provider, a.ObjectKey, a.Mime, a.SizeBytes,
		nullIfEmpty(a.OriginalName), a.CreatedAt)
	if err != nil {
		if httpkit.IsUniqueViolation(err) {
			return errors.AlreadyExists("asset", a.ID)
		}
		return err
	}
	return nil
}

func (r *AssetRepository) Get(ctx context.Context, id string) (*models.Asset, error) {
	var (
		a            models.Asset
		originalName *string
	)

	err := r.db.QueryRow(ctx, `
		SELECT id, kind, provider, object_key, mime, size_bytes,
		       original_name, consumed_at, created_at
		FROM assets
		WHERE id=$1
	`, id).Scan(
		&a.ID, &a.Kind, &a.Provider, &a.ObjectKey, &a.Mime, &a.SizeBytes,
		&originalName, &a.ConsumedAt, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFound("asset", id)
		}
		return nil, err
	}

	if originalName != nil {
		a.OriginalName = *originalName
	}
	return &a, nil
}

// ListByIDs returns the assets whose ids are in the given set. Missing
// ids are simply absent from the result; callers compare counts.
func (r *AssetRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, kind, provider, object_key, mime, size_bytes, consumed_at, created_at
		FROM assets
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(
			&a.ID, &a.Kind, &a.Provider, &a.ObjectKey, &a.Mime,
			&a.SizeBytes, &a.ConsumedAt, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkConsumed stamps the assets as used by a job. Already consumed
// assets keep their first consumption time.
func (r *AssetRepository) MarkConsumed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := r.db.Exec(ctx, `
		UPDATE assets
		SET consumed_at=$2
		WHERE id = ANY($1) AND consumed_at IS NULL
	`, ids, at)
	return err
}

// ListReclaimable returns assets eligible for garbage collection:
// consumed before the consumed cutoff, or never consumed and created
// before the idle cutoff.
func (r *AssetRepository) ListReclaimable(ctx context.Context, consumedBefore, idleBefore time.Time, limit int) ([]models.Asset, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, provider, object_key
		FROM assets
		WHERE (consumed_at IS NOT NULL AND consumed_at < $1)
		   OR (consumed_at IS NULL AND created_at < $2)
		ORDER BY created_at ASC
		LIMIT $3
	`, consumedBefore, idleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.ID, &a.Provider, &a.ObjectKey); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AssetRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM assets WHERE id=$1`, id)
	return err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
