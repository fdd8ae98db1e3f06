package db

import (
	"context"

	"proximity-service/internal/models"
)

// GetThresholds returns configured thresholds for an agency and config type.
func (d *DB) GetThresholds(ctx context.Context, agencyID int, configType models.ConfigType) ([]models.AlertThreshold, error) {
	rows, err := d.Pool.Query(ctx, `
	SELECT agency_id, config_type, level, distance_miles, enabled
	FROM alert_thresholds
	WHERE agency_id = $1 AND config_type = $2
	ORDER BY distance_miles`, agencyID, string(configType))
	if err != nil {
		return nil, classify("db.thresholds", err)
	}
	defer rows.Close()

	var list []models.AlertThreshold
	for rows.Next() {
		var t models.AlertThreshold
		var ct, level string
		if err := rows.Scan(&t.AgencyID, &ct, &level, &t.DistanceMiles, &t.Enabled); err != nil {
			return nil, classify("db.thresholds", err)
		}
		t.ConfigType = models.ConfigType(ct)
		t.Level = models.Level(level)
		list = append(list, t)
	}
	return list, classify("db.thresholds", rows.Err())
}

// ReplaceThresholds swaps the whole threshold set for an agency and config
// type in one transaction.
func (d *DB) ReplaceThresholds(ctx context.Context, agencyID int, configType models.ConfigType, list []models.AlertThreshold) error {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return classify("db.replace_thresholds", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM alert_thresholds WHERE agency_id = $1 AND config_type = $2`, agencyID, string(configType)); err != nil {
		return classify("db.replace_thresholds", err)
	}
	for _, t := range list {
		_, err := tx.Exec(ctx, `
		INSERT INTO alert_thresholds (agency_id, config_type, level, distance_miles, enabled)
		VALUES ($1, $2, $3, $4, $5)`,
			agencyID, string(configType), string(t.Level), t.DistanceMiles, t.Enabled)
		if err != nil {
			return classify("db.replace_thresholds", err)
		}
	}
	return classify("db.replace_thresholds", tx.Commit(ctx))
}
