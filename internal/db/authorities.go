package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"proximity-service/internal/errs"
	"proximity-service/internal/models"
)

const authorityColumns = `authority_id, user_id, agency_id, subdivision_id, track_type, track_number,
	begin_mp, end_mp, employee_name, start_time, expiration_time, is_active, ended_at`

func scanAuthority(row pgx.Row) (models.Authority, error) {
	var a models.Authority
	err := row.Scan(
		&a.ID, &a.UserID, &a.AgencyID, &a.SubdivisionID, &a.TrackType, &a.TrackNumber,
		&a.BeginMP, &a.EndMP, &a.EmployeeName, &a.StartTime, &a.ExpirationTime, &a.IsActive, &a.EndedAt,
	)
	return a, err
}

// GetActiveAuthorities lists active authorities, optionally narrowed to a
// track. Empty ref fields match everything.
func (d *DB) GetActiveAuthorities(ctx context.Context, ref models.TrackRef) ([]models.Authority, error) {
	query := `SELECT ` + authorityColumns + `
	FROM authorities
	WHERE is_active
	  AND ($1::text = '' OR subdivision_id = $1)
	  AND ($2::text = '' OR track_type = $2)
	  AND ($3::text = '' OR track_number = $3)
	ORDER BY authority_id`

	rows, err := d.Pool.Query(ctx, query, ref.SubdivisionID, ref.TrackType, ref.TrackNumber)
	if err != nil {
		return nil, classify("db.active_authorities", err)
	}
	defer rows.Close()

	var list []models.Authority
	for rows.Next() {
		a, err := scanAuthority(rows)
		if err != nil {
			return nil, classify("db.active_authorities", err)
		}
		list = append(list, a)
	}
	return list, classify("db.active_authorities", rows.Err())
}

// GetAuthority fetches one authority by id.
func (d *DB) GetAuthority(ctx context.Context, id int64) (models.Authority, error) {
	row := d.Pool.QueryRow(ctx, `SELECT `+authorityColumns+` FROM authorities WHERE authority_id = $1`, id)
	a, err := scanAuthority(row)
	return a, classify("db.authority", err)
}

// GetActiveAuthorityForUser returns the user's most recent active authority.
func (d *DB) GetActiveAuthorityForUser(ctx context.Context, userID int) (models.Authority, error) {
	row := d.Pool.QueryRow(ctx, `SELECT `+authorityColumns+`
	FROM authorities WHERE user_id = $1 AND is_active
	ORDER BY start_time DESC LIMIT 1`, userID)
	a, err := scanAuthority(row)
	return a, classify("db.user_authority", err)
}

// CreateAuthority inserts a and returns it with its id and start time set.
func (d *DB) CreateAuthority(ctx context.Context, a models.Authority) (models.Authority, error) {
	query := `
	INSERT INTO authorities (
		user_id, agency_id, subdivision_id, track_type, track_number,
		begin_mp, end_mp, employee_name, start_time, expiration_time, is_active
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)
	RETURNING authority_id`

	if a.StartTime.IsZero() {
		a.StartTime = time.Now()
	}
	err := d.Pool.QueryRow(ctx, query,
		a.UserID, a.AgencyID, a.SubdivisionID, a.TrackType, a.TrackNumber,
		a.BeginMP, a.EndMP, a.EmployeeName, a.StartTime, a.ExpirationTime,
	).Scan(&a.ID)
	if err != nil {
		return models.Authority{}, classify("db.create_authority", err)
	}
	a.IsActive = true
	return a, nil
}

// EndAuthority marks an active authority as ended.
func (d *DB) EndAuthority(ctx context.Context, id int64, endedAt time.Time) (models.Authority, error) {
	row := d.Pool.QueryRow(ctx, `
	UPDATE authorities SET is_active = FALSE, ended_at = $2
	WHERE authority_id = $1 AND is_active
	RETURNING `+authorityColumns, id, endedAt)
	a, err := scanAuthority(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Authority{}, errs.New(errs.KindConflict, "db.end_authority", "authority %d is not active", id)
		}
		return models.Authority{}, classify("db.end_authority", err)
	}
	return a, nil
}
