// Package postgres owns the relational schema for the durable stores. The
// DDL is idempotent so the server can apply it on every startup.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the full DDL for the service's PostgreSQL tables.
const Schema = `
CREATE TABLE IF NOT EXISTS certificates (
	id                    TEXT PRIMARY KEY,
	batch_code            TEXT NOT NULL,
	serial_number         TEXT NOT NULL,
	product_name          TEXT NOT NULL,
	status                TEXT NOT NULL,
	issued_at             TIMESTAMPTZ NOT NULL,
	first_scan_at         TIMESTAMPTZ,
	first_scan_lat        DOUBLE PRECISION,
	first_scan_lon        DOUBLE PRECISION,
	first_scan_accuracy_m DOUBLE PRECISION,
	last_scan_at          TIMESTAMPTZ,
	last_scan_lat         DOUBLE PRECISION,
	last_scan_lon         DOUBLE PRECISION,
	last_scan_accuracy_m  DOUBLE PRECISION,
	accepted_scans        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_certificates_batch_code ON certificates (batch_code, issued_at);

CREATE TABLE IF NOT EXISTS verification_results (
	id                  TEXT PRIMARY KEY,
	submission_id       TEXT NOT NULL UNIQUE,
	certificate_id      TEXT NOT NULL,
	outcome             TEXT NOT NULL,
	reason              TEXT NOT NULL,
	occurred_at         TIMESTAMPTZ NOT NULL,
	lat                 DOUBLE PRECISION NOT NULL,
	lon                 DOUBLE PRECISION NOT NULL,
	accuracy_m          DOUBLE PRECISION NOT NULL,
	device_category     TEXT NOT NULL DEFAULT '',
	screen_category     TEXT NOT NULL DEFAULT '',
	timezone_offset_min INTEGER NOT NULL DEFAULT 0,
	orientation_type    TEXT NOT NULL DEFAULT '',
	network_class       TEXT NOT NULL DEFAULT '',
	fraud_score         DOUBLE PRECISION NOT NULL DEFAULT 0,
	underlay_pass       BOOLEAN NOT NULL DEFAULT FALSE,
	flagged             BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_results_certificate ON verification_results (certificate_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_results_occurred_at ON verification_results (occurred_at);

CREATE TABLE IF NOT EXISTS device_windows (
	device_hash    TEXT PRIMARY KEY,
	scan_count     INTEGER NOT NULL,
	window_start   TIMESTAMPTZ NOT NULL,
	cooldown_until TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS cert_windows (
	certificate_id TEXT PRIMARY KEY,
	scan_count     INTEGER NOT NULL,
	window_start   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tag_records (
	certificate_id   TEXT PRIMARY KEY,
	serial_number    TEXT NOT NULL,
	batch_code       TEXT NOT NULL,
	guilloche_digest TEXT NOT NULL,
	border_digest    TEXT NOT NULL,
	verify_url       TEXT NOT NULL,
	issued_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tag_records_batch_code ON tag_records (batch_code, issued_at);
`

// EnsureSchema applies the schema to the given database.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure postgres schema: %w", err)
	}
	return nil
}
