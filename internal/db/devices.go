package db

import (
	"context"

	"proximity-service/internal/models"
)

// UpsertDeviceToken registers or re-activates a push token for a user.
func (d *DB) UpsertDeviceToken(ctx context.Context, t models.DeviceToken) (models.DeviceToken, error) {
	err := d.Pool.QueryRow(ctx, `
	INSERT INTO device_tokens (token, user_id, platform, active, created_at)
	VALUES ($1, $2, $3, TRUE, now())
	ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform, active = TRUE
	RETURNING active, created_at`, t.Token, t.UserID, t.Platform).Scan(&t.Active, &t.CreatedAt)
	if err != nil {
		return models.DeviceToken{}, classify("db.upsert_token", err)
	}
	return t, nil
}

// GetDeviceTokens lists the user's active push tokens.
func (d *DB) GetDeviceTokens(ctx context.Context, userID int) ([]models.DeviceToken, error) {
	rows, err := d.Pool.Query(ctx, `
	SELECT token, user_id, platform, active, created_at
	FROM device_tokens WHERE user_id = $1 AND active`, userID)
	if err != nil {
		return nil, classify("db.tokens", err)
	}
	defer rows.Close()

	var list []models.DeviceToken
	for rows.Next() {
		var t models.DeviceToken
		if err := rows.Scan(&t.Token, &t.UserID, &t.Platform, &t.Active, &t.CreatedAt); err != nil {
			return nil, classify("db.tokens", err)
		}
		list = append(list, t)
	}
	return list, classify("db.tokens", rows.Err())
}

// DeleteDeviceToken removes a token the push service rejected.
func (d *DB) DeleteDeviceToken(ctx context.Context, token string) error {
	_, err := d.Pool.Exec(ctx, `DELETE FROM device_tokens WHERE token = $1`, token)
	return classify("db.delete_token", err)
}

// GetAgencyRecipients lists the agency's supervisors and admins.
func (d *DB) GetAgencyRecipients(ctx context.Context, agencyID int) ([]models.Recipient, error) {
	rows, err := d.Pool.Query(ctx, `
	SELECT user_id, name, email, role
	FROM agency_users
	WHERE agency_id = $1 AND role IN ('supervisor', 'admin')
	ORDER BY user_id`, agencyID)
	if err != nil {
		return nil, classify("db.recipients", err)
	}
	defer rows.Close()

	var list []models.Recipient
	for rows.Next() {
		var r models.Recipient
		if err := rows.Scan(&r.UserID, &r.Name, &r.Email, &r.Role); err != nil {
			return nil, classify("db.recipients", err)
		}
		list = append(list, r)
	}
	return list, classify("db.recipients", rows.Err())
}
