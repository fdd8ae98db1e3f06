package db

import (
	"context"

	"proximity-service/internal/models"
)

// ArchiveFix appends a fix to the GPS history.
func (d *DB) ArchiveFix(ctx context.Context, fix models.GPSFix) error {
	_, err := d.Pool.Exec(ctx, `
	INSERT INTO gps_logs (user_id, authority_id, latitude, longitude, accuracy, speed, heading, milepost, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		fix.UserID, fix.AuthorityID, fix.Latitude, fix.Longitude, fix.Accuracy,
		fix.Speed, fix.Heading, fix.Milepost, fix.Timestamp)
	return classify("db.archive_fix", err)
}
