package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"proximity-service/internal/errs"
	"proximity-service/internal/models"
)

const overlapColumns = `id, authority1_id, authority2_id, user1_id, user2_id,
	subdivision_id, track_type, track_number, overlap_begin_mp, overlap_end_mp,
	severity, detected_at, resolved, resolved_at`

func scanOverlap(row pgx.Row) (models.OverlapRecord, error) {
	var o models.OverlapRecord
	var severity string
	err := row.Scan(
		&o.ID, &o.Authority1ID, &o.Authority2ID, &o.User1ID, &o.User2ID,
		&o.SubdivisionID, &o.TrackType, &o.TrackNumber, &o.OverlapBeginMP, &o.OverlapEndMP,
		&severity, &o.DetectedAt, &o.Resolved, &o.ResolvedAt,
	)
	o.Severity = models.OverlapSeverity(severity)
	return o, err
}

// CreateOverlap stores rec. A pair already recorded keeps its original row
// and the stored record is returned instead.
func (d *DB) CreateOverlap(ctx context.Context, rec models.OverlapRecord) (models.OverlapRecord, error) {
	row := d.Pool.QueryRow(ctx, `
	INSERT INTO authority_overlaps (`+overlapColumns+`)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, NULL)
	ON CONFLICT (authority1_id, authority2_id) DO UPDATE SET authority1_id = EXCLUDED.authority1_id
	RETURNING `+overlapColumns,
		rec.ID, rec.Authority1ID, rec.Authority2ID, rec.User1ID, rec.User2ID,
		rec.SubdivisionID, rec.TrackType, rec.TrackNumber, rec.OverlapBeginMP, rec.OverlapEndMP,
		string(rec.Severity), rec.DetectedAt)
	o, err := scanOverlap(row)
	return o, classify("db.create_overlap", err)
}

// GetOverlapsForAuthority lists every overlap involving the authority.
func (d *DB) GetOverlapsForAuthority(ctx context.Context, authorityID int64) ([]models.OverlapRecord, error) {
	rows, err := d.Pool.Query(ctx, `SELECT `+overlapColumns+`
	FROM authority_overlaps
	WHERE authority1_id = $1 OR authority2_id = $1
	ORDER BY detected_at DESC`, authorityID)
	if err != nil {
		return nil, classify("db.overlaps", err)
	}
	defer rows.Close()

	list := []models.OverlapRecord{}
	for rows.Next() {
		o, err := scanOverlap(rows)
		if err != nil {
			return nil, classify("db.overlaps", err)
		}
		list = append(list, o)
	}
	return list, classify("db.overlaps", rows.Err())
}

// ResolveOverlap marks an overlap resolved. Resolving twice is a conflict.
func (d *DB) ResolveOverlap(ctx context.Context, id uuid.UUID, at time.Time) (models.OverlapRecord, error) {
	row := d.Pool.QueryRow(ctx, `
	UPDATE authority_overlaps SET resolved = TRUE, resolved_at = $2
	WHERE id = $1 AND NOT resolved
	RETURNING `+overlapColumns, id, at)
	o, err := scanOverlap(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := d.GetOverlap(ctx, id); gerr != nil {
			return models.OverlapRecord{}, gerr
		}
		return models.OverlapRecord{}, errs.New(errs.KindConflict, "db.resolve_overlap", "overlap %s is already resolved", id)
	}
	return o, classify("db.resolve_overlap", err)
}

// GetOverlap fetches one overlap by id.
func (d *DB) GetOverlap(ctx context.Context, id uuid.UUID) (models.OverlapRecord, error) {
	o, err := scanOverlap(d.Pool.QueryRow(ctx, `SELECT `+overlapColumns+` FROM authority_overlaps WHERE id = $1`, id))
	return o, classify("db.overlap", err)
}
