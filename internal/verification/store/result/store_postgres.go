package result

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"skern/internal/verification/models"
	id "skern/pkg/domain"
	"skern/pkg/platform/sentinel"
	"skern/pkg/platform/tx"
)

// PostgresResultStore persists verification results in PostgreSQL. Honors a
// context-carried transaction so result inserts and certificate updates
// commit atomically.
type PostgresResultStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresResultStore {
	return &PostgresResultStore{db: db}
}

const resultColumns = `
	id, submission_id, certificate_id, outcome, reason, occurred_at,
	lat, lon, accuracy_m, device_category, screen_category,
	timezone_offset_min, orientation_type, network_class,
	fraud_score, underlay_pass, flagged`

func (s *PostgresResultStore) Create(ctx context.Context, r *models.VerificationResult) error {
	query := `
		INSERT INTO verification_results (` + resultColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (submission_id) DO NOTHING
	`
	result, err := tx.QuerierFor(ctx, s.db).ExecContext(ctx, query,
		r.ID, r.SubmissionID, r.CertificateID, r.Outcome, r.Reason, r.OccurredAt,
		r.Lat, r.Lon, r.AccuracyM, r.DeviceCategory, r.ScreenCategory,
		r.TimezoneOffsetMin, r.OrientationType, r.NetworkClass,
		r.FraudScore, r.UnderlayPass, r.Flagged,
	)
	if err != nil {
		return fmt.Errorf("create verification result: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create verification result rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresResultStore) GetBySubmissionID(ctx context.Context, subID id.SubmissionID) (*models.VerificationResult, error) {
	query := `SELECT ` + resultColumns + ` FROM verification_results WHERE submission_id = $1`
	r, err := scanResult(tx.QuerierFor(ctx, s.db).QueryRowContext(ctx, query, subID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get verification result: %w", err)
	}
	return r, nil
}

func (s *PostgresResultStore) ListByCertificate(ctx context.Context, certID id.CertificateID, limit int) ([]*models.VerificationResult, error) {
	query := `
		SELECT ` + resultColumns + `
		FROM verification_results
		WHERE certificate_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := tx.QuerierFor(ctx, s.db).QueryContext(ctx, query, certID, limit)
	if err != nil {
		return nil, fmt.Errorf("list verification results: %w", err)
	}
	defer rows.Close()

	var out []*models.VerificationResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification result row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification result rows: %w", err)
	}
	return out, nil
}

// PurgeOlderThan deletes results past the retention cutoff. The cutoff is
// computed by the retention worker; the store stays policy-free.
func (s *PostgresResultStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_results WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge verification results: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge verification results rows affected: %w", err)
	}
	return int(rows), nil
}

type resultRow interface {
	Scan(dest ...any) error
}

func scanResult(row resultRow) (*models.VerificationResult, error) {
	var r models.VerificationResult
	if err := row.Scan(
		&r.ID, &r.SubmissionID, &r.CertificateID, &r.Outcome, &r.Reason, &r.OccurredAt,
		&r.Lat, &r.Lon, &r.AccuracyM, &r.DeviceCategory, &r.ScreenCategory,
		&r.TimezoneOffsetMin, &r.OrientationType, &r.NetworkClass,
		&r.FraudScore, &r.UnderlayPass, &r.Flagged,
	); err != nil {
		return nil, err
	}
	return &r, nil
}
