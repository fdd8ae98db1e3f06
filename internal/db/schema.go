package db

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS track_geometry (
		subdivision_id TEXT NOT NULL,
		track_type     TEXT NOT NULL,
		track_number   TEXT NOT NULL,
		milepost       DOUBLE PRECISION NOT NULL,
		latitude       DOUBLE PRECISION NOT NULL,
		longitude      DOUBLE PRECISION NOT NULL,
		elevation      DOUBLE PRECISION,
		PRIMARY KEY (subdivision_id, track_type, track_number, milepost)
	)`,
	`CREATE TABLE IF NOT EXISTS agency_users (
		user_id   INTEGER PRIMARY KEY,
		agency_id INTEGER NOT NULL,
		name      TEXT NOT NULL DEFAULT '',
		email     TEXT NOT NULL DEFAULT '',
		role      TEXT NOT NULL DEFAULT 'worker'
	)`,
	`CREATE TABLE IF NOT EXISTS authorities (
		authority_id    BIGSERIAL PRIMARY KEY,
		user_id         INTEGER NOT NULL,
		agency_id       INTEGER NOT NULL,
		subdivision_id  TEXT NOT NULL,
		track_type      TEXT NOT NULL,
		track_number    TEXT NOT NULL,
		begin_mp        DOUBLE PRECISION NOT NULL,
		end_mp          DOUBLE PRECISION NOT NULL,
		employee_name   TEXT NOT NULL DEFAULT '',
		start_time      TIMESTAMPTZ NOT NULL DEFAULT now(),
		expiration_time TIMESTAMPTZ,
		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
		ended_at        TIMESTAMPTZ,
		CHECK (begin_mp < end_mp)
	)`,
	`CREATE INDEX IF NOT EXISTS authorities_active_track
		ON authorities (subdivision_id, track_type, track_number) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS alert_thresholds (
		agency_id      INTEGER NOT NULL,
		config_type    TEXT NOT NULL,
		level          TEXT NOT NULL,
		distance_miles DOUBLE PRECISION NOT NULL CHECK (distance_miles >= 0),
		enabled        BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (agency_id, config_type, level)
	)`,
	`CREATE TABLE IF NOT EXISTS alert_events (
		id                  UUID PRIMARY KEY,
		type                TEXT NOT NULL,
		level               TEXT NOT NULL,
		agency_id           INTEGER NOT NULL,
		subject_user_id     INTEGER NOT NULL,
		counterpart_user_id INTEGER,
		authority_id        BIGINT NOT NULL,
		distance            DOUBLE PRECISION,
		message             TEXT NOT NULL,
		details             JSONB NOT NULL,
		dedupe_key          TEXT NOT NULL DEFAULT '',
		fired_at            TIMESTAMPTZ NOT NULL,
		read                BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS alert_events_subject ON alert_events (subject_user_id, fired_at DESC)`,
	`CREATE INDEX IF NOT EXISTS alert_events_agency ON alert_events (agency_id, fired_at DESC)`,
	`CREATE TABLE IF NOT EXISTS authority_overlaps (
		id               UUID PRIMARY KEY,
		authority1_id    BIGINT NOT NULL,
		authority2_id    BIGINT NOT NULL,
		user1_id         INTEGER NOT NULL,
		user2_id         INTEGER NOT NULL,
		subdivision_id   TEXT NOT NULL,
		track_type       TEXT NOT NULL,
		track_number     TEXT NOT NULL,
		overlap_begin_mp DOUBLE PRECISION NOT NULL,
		overlap_end_mp   DOUBLE PRECISION NOT NULL,
		severity         TEXT NOT NULL,
		detected_at      TIMESTAMPTZ NOT NULL,
		resolved         BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_at      TIMESTAMPTZ,
		UNIQUE (authority1_id, authority2_id),
		CHECK (authority1_id < authority2_id),
		CHECK (overlap_begin_mp < overlap_end_mp)
	)`,
	`CREATE TABLE IF NOT EXISTS device_tokens (
		token      TEXT PRIMARY KEY,
		user_id    INTEGER NOT NULL,
		platform   TEXT NOT NULL DEFAULT '',
		active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS device_tokens_user ON device_tokens (user_id) WHERE active`,
	`CREATE TABLE IF NOT EXISTS gps_logs (
		id           BIGSERIAL PRIMARY KEY,
		user_id      INTEGER NOT NULL,
		authority_id BIGINT,
		latitude     DOUBLE PRECISION NOT NULL,
		longitude    DOUBLE PRECISION NOT NULL,
		accuracy     DOUBLE PRECISION NOT NULL,
		speed        DOUBLE PRECISION,
		heading      DOUBLE PRECISION,
		milepost     DOUBLE PRECISION,
		recorded_at  TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates any missing tables and indexes.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
