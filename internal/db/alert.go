package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"proximity-service/internal/errs"
	"proximity-service/internal/models"
)

// CreateAlertEvent inserts a fired alert with its details as JSONB.
func (d *DB) CreateAlertEvent(ctx context.Context, ev models.AlertEvent) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("failed to encode alert details: %w", err)
	}

	query := `
	INSERT INTO alert_events (
		id, type, level, agency_id, subject_user_id, counterpart_user_id, authority_id,
		distance, message, details, dedupe_key, fired_at, read
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = d.Pool.Exec(ctx, query,
		ev.ID,
		string(ev.Type),
		string(ev.Level),
		ev.AgencyID,
		ev.SubjectUserID,
		ev.CounterpartUserID,
		ev.AuthorityID,
		ev.Distance,
		ev.Message,
		details,
		ev.DedupeKey,
		ev.FiredAt,
		ev.Read,
	)
	if err != nil {
		return classify("db.create_alert", fmt.Errorf("failed to insert alert: %w", err))
	}
	return nil
}

func scanAlertEvent(row pgx.Row) (models.AlertEvent, error) {
	var (
		ev         models.AlertEvent
		typ, level string
		rawDetails []byte
	)
	err := row.Scan(
		&ev.ID, &typ, &level, &ev.AgencyID, &ev.SubjectUserID, &ev.CounterpartUserID, &ev.AuthorityID,
		&ev.Distance, &ev.Message, &rawDetails, &ev.DedupeKey, &ev.FiredAt, &ev.Read,
	)
	if err != nil {
		return models.AlertEvent{}, err
	}
	ev.Type = models.AlertType(typ)
	ev.Level = models.Level(level)
	ev.Details, err = models.DecodeDetails(ev.Type, rawDetails)
	if err != nil {
		return models.AlertEvent{}, fmt.Errorf("failed to decode details of alert %s: %w", ev.ID, err)
	}
	return ev, nil
}

// GetAlertsByUserID fetches a user's alerts, newest first, with the total count.
func (d *DB) GetAlertsByUserID(ctx context.Context, userID, limit, offset int) ([]models.AlertEvent, int, error) {
	var total int
	if err := d.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM alert_events WHERE subject_user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, classify("db.alerts", fmt.Errorf("failed to count alerts: %w", err))
	}

	rows, err := d.Pool.Query(ctx, `
	SELECT id, type, level, agency_id, subject_user_id, counterpart_user_id, authority_id,
		distance, message, details, dedupe_key, fired_at, read
	FROM alert_events
	WHERE subject_user_id = $1
	ORDER BY fired_at DESC
	LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, classify("db.alerts", fmt.Errorf("failed to get alerts: %w", err))
	}
	defer rows.Close()

	list := []models.AlertEvent{}
	for rows.Next() {
		ev, err := scanAlertEvent(rows)
		if err != nil {
			return nil, 0, classify("db.alerts", err)
		}
		list = append(list, ev)
	}
	return list, total, classify("db.alerts", rows.Err())
}

// MarkAlertRead flags one of the user's alerts as read.
func (d *DB) MarkAlertRead(ctx context.Context, id uuid.UUID, userID int) error {
	tag, err := d.Pool.Exec(ctx, `UPDATE alert_events SET read = TRUE WHERE id = $1 AND subject_user_id = $2`, id, userID)
	if err != nil {
		return classify("db.mark_read", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindNotFound, "db.mark_read", "alert %s not found", id)
	}
	return nil
}

// GetAlertStats aggregates an agency's alerts fired since the given time.
func (d *DB) GetAlertStats(ctx context.Context, agencyID int, since time.Time) (models.AlertStats, error) {
	stats := models.AlertStats{
		AgencyID: agencyID,
		ByType:   map[models.AlertType]int{},
		ByLevel:  map[models.Level]int{},
	}
	rows, err := d.Pool.Query(ctx, `
	SELECT type, level, COUNT(*), COUNT(*) FILTER (WHERE NOT read)
	FROM alert_events
	WHERE agency_id = $1 AND fired_at >= $2
	GROUP BY type, level`, agencyID, since)
	if err != nil {
		return stats, classify("db.alert_stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ, level string
		var count, unread int
		if err := rows.Scan(&typ, &level, &count, &unread); err != nil {
			return stats, classify("db.alert_stats", err)
		}
		stats.Total += count
		stats.Unread += unread
		stats.ByType[models.AlertType(typ)] += count
		stats.ByLevel[models.Level(level)] += count
	}
	return stats, classify("db.alert_stats", rows.Err())
}
