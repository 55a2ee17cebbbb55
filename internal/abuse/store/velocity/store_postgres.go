package velocity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"skern/internal/abuse/models"
	id "skern/pkg/domain"
)

// PostgresVelocityStore persists certificate scan windows in PostgreSQL.
type PostgresVelocityStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresVelocityStore {
	return &PostgresVelocityStore{db: db}
}

func (s *PostgresVelocityStore) Get(ctx context.Context, certID id.CertificateID) (*models.CertWindow, error) {
	query := `
		SELECT certificate_id, scan_count, window_start
		FROM cert_windows
		WHERE certificate_id = $1
	`
	var w models.CertWindow
	err := s.db.QueryRowContext(ctx, query, certID).Scan(&w.CertificateID, &w.ScanCount, &w.WindowStart)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get cert window: %w", err)
	}
	return &w, nil
}

// RecordScanAtomic increments the certificate's window counter in a single
// UPSERT, resetting the window when it started before the cutoff.
func (s *PostgresVelocityStore) RecordScanAtomic(ctx context.Context, certID id.CertificateID, now, windowCutoff time.Time) (*models.CertWindow, error) {
	query := `
		INSERT INTO cert_windows (certificate_id, scan_count, window_start)
		VALUES ($1, 1, $2)
		ON CONFLICT (certificate_id) DO UPDATE SET
			scan_count = CASE WHEN cert_windows.window_start < $3
				THEN 1 ELSE cert_windows.scan_count + 1 END,
			window_start = CASE WHEN cert_windows.window_start < $3
				THEN $2 ELSE cert_windows.window_start END
		RETURNING certificate_id, scan_count, window_start
	`
	var w models.CertWindow
	err := s.db.QueryRowContext(ctx, query, certID, now, windowCutoff).Scan(&w.CertificateID, &w.ScanCount, &w.WindowStart)
	if err != nil {
		return nil, fmt.Errorf("record cert scan atomic: %w", err)
	}
	return &w, nil
}

func (s *PostgresVelocityStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cert_windows WHERE window_start < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge cert windows: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge cert windows rows affected: %w", err)
	}
	return int(rows), nil
}
