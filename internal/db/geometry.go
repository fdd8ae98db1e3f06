package db

import (
	"context"

	"proximity-service/internal/models"
)

// GetGeometry returns points for ref ordered by milepost. Empty track type or
// number match every track in the subdivision.
func (d *DB) GetGeometry(ctx context.Context, ref models.TrackRef) ([]models.GeometryPoint, error) {
	query := `
	SELECT subdivision_id, track_type, track_number, milepost, latitude, longitude, elevation
	FROM track_geometry
	WHERE subdivision_id = $1
	  AND ($2::text = '' OR track_type = $2)
	  AND ($3::text = '' OR track_number = $3)
	ORDER BY track_type, track_number, milepost`

	rows, err := d.Pool.Query(ctx, query, ref.SubdivisionID, ref.TrackType, ref.TrackNumber)
	if err != nil {
		return nil, classify("db.geometry", err)
	}
	defer rows.Close()

	var list []models.GeometryPoint
	for rows.Next() {
		var p models.GeometryPoint
		if err := rows.Scan(&p.SubdivisionID, &p.TrackType, &p.TrackNumber, &p.Milepost, &p.Latitude, &p.Longitude, &p.Elevation); err != nil {
			return nil, classify("db.geometry", err)
		}
		list = append(list, p)
	}
	return list, classify("db.geometry", rows.Err())
}
