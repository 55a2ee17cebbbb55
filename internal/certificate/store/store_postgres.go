package store

import (
	"context"
	"database/sql"
	"fmt"

	"skern/internal/certificate/models"
	verification "skern/internal/verification/models"
	id "skern/pkg/domain"
	"skern/pkg/platform/sentinel"
	"skern/pkg/platform/tx"
)

// PostgresCertificateStore persists the certificate registry in PostgreSQL.
// All methods honor a context-carried transaction so certificate updates and
// result inserts commit as one unit.
type PostgresCertificateStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresCertificateStore {
	return &PostgresCertificateStore{db: db}
}

func (s *PostgresCertificateStore) Create(ctx context.Context, cert *models.Certificate) error {
	query := `
		INSERT INTO certificates (id, batch_code, serial_number, product_name, status, issued_at, accepted_scans)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := tx.QuerierFor(ctx, s.db).ExecContext(ctx, query,
		cert.ID, cert.BatchCode, cert.SerialNumber, cert.ProductName, cert.Status, cert.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create certificate rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresCertificateStore) Get(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	query := `
		SELECT id, batch_code, serial_number, product_name, status, issued_at,
		       first_scan_at, first_scan_lat, first_scan_lon, first_scan_accuracy_m,
		       last_scan_at, last_scan_lat, last_scan_lon, last_scan_accuracy_m,
		       accepted_scans
		FROM certificates
		WHERE id = $1
	`
	cert, err := scanCertificate(tx.QuerierFor(ctx, s.db).QueryRowContext(ctx, query, certID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	return cert, nil
}

// RecordScanAtomic applies one accepted scan in a single UPDATE. COALESCE
// keeps the first-scan origin set-once under concurrent accepted scans, and
// the predicate on the last-scan columns makes the write conditional on the
// origin the caller's travel check ran against: a concurrent scan that moved
// it returns ErrStale.
func (s *PostgresCertificateStore) RecordScanAtomic(ctx context.Context, certID id.CertificateID, origin verification.ScanOrigin, expected *verification.ScanOrigin) (*models.Certificate, error) {
	var expAt sql.NullTime
	var expLat, expLon sql.NullFloat64
	if expected != nil {
		expAt = sql.NullTime{Time: expected.Timestamp, Valid: true}
		expLat = sql.NullFloat64{Float64: expected.Lat, Valid: true}
		expLon = sql.NullFloat64{Float64: expected.Lon, Valid: true}
	}

	query := `
		UPDATE certificates SET
			first_scan_at = COALESCE(first_scan_at, $2),
			first_scan_lat = COALESCE(first_scan_lat, $3),
			first_scan_lon = COALESCE(first_scan_lon, $4),
			first_scan_accuracy_m = COALESCE(first_scan_accuracy_m, $5),
			last_scan_at = $2,
			last_scan_lat = $3,
			last_scan_lon = $4,
			last_scan_accuracy_m = $5,
			accepted_scans = accepted_scans + 1
		WHERE id = $1
		  AND last_scan_at IS NOT DISTINCT FROM $6
		  AND last_scan_lat IS NOT DISTINCT FROM $7
		  AND last_scan_lon IS NOT DISTINCT FROM $8
		RETURNING id, batch_code, serial_number, product_name, status, issued_at,
		          first_scan_at, first_scan_lat, first_scan_lon, first_scan_accuracy_m,
		          last_scan_at, last_scan_lat, last_scan_lon, last_scan_accuracy_m,
		          accepted_scans
	`
	cert, err := scanCertificate(tx.QuerierFor(ctx, s.db).QueryRowContext(ctx, query,
		certID, origin.Timestamp, origin.Lat, origin.Lon, origin.AccuracyM,
		expAt, expLat, expLon,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			var exists bool
			checkErr := tx.QuerierFor(ctx, s.db).QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM certificates WHERE id = $1)`, certID).Scan(&exists)
			if checkErr != nil {
				return nil, fmt.Errorf("record certificate scan atomic: %w", checkErr)
			}
			if exists {
				return nil, sentinel.ErrStale
			}
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("record certificate scan atomic: %w", err)
	}
	return cert, nil
}

func (s *PostgresCertificateStore) SetStatus(ctx context.Context, certID id.CertificateID, status models.Status) error {
	result, err := tx.QuerierFor(ctx, s.db).ExecContext(ctx,
		`UPDATE certificates SET status = $2 WHERE id = $1`, certID, status)
	if err != nil {
		return fmt.Errorf("set certificate status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set certificate status rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresCertificateStore) ListByBatch(ctx context.Context, batch id.BatchCode) ([]*models.Certificate, error) {
	query := `
		SELECT id, batch_code, serial_number, product_name, status, issued_at,
		       first_scan_at, first_scan_lat, first_scan_lon, first_scan_accuracy_m,
		       last_scan_at, last_scan_lat, last_scan_lon, last_scan_accuracy_m,
		       accepted_scans
		FROM certificates
		WHERE batch_code = $1
		ORDER BY issued_at
	`
	rows, err := tx.QuerierFor(ctx, s.db).QueryContext(ctx, query, batch)
	if err != nil {
		return nil, fmt.Errorf("list certificates by batch: %w", err)
	}
	defer rows.Close()

	var out []*models.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate row: %w", err)
		}
		out = append(out, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificate rows: %w", err)
	}
	return out, nil
}

type certificateRow interface {
	Scan(dest ...any) error
}

func scanCertificate(row certificateRow) (*models.Certificate, error) {
	var cert models.Certificate
	var firstAt, lastAt sql.NullTime
	var firstLat, firstLon, firstAcc sql.NullFloat64
	var lastLat, lastLon, lastAcc sql.NullFloat64

	if err := row.Scan(
		&cert.ID, &cert.BatchCode, &cert.SerialNumber, &cert.ProductName, &cert.Status, &cert.IssuedAt,
		&firstAt, &firstLat, &firstLon, &firstAcc,
		&lastAt, &lastLat, &lastLon, &lastAcc,
		&cert.AcceptedScans,
	); err != nil {
		return nil, err
	}

	if firstAt.Valid {
		cert.FirstScanOrigin = &verification.ScanOrigin{
			Timestamp: firstAt.Time,
			Lat:       firstLat.Float64,
			Lon:       firstLon.Float64,
			AccuracyM: firstAcc.Float64,
		}
	}
	if lastAt.Valid {
		cert.LastScanOrigin = &verification.ScanOrigin{
			Timestamp: lastAt.Time,
			Lat:       lastLat.Float64,
			Lon:       lastLon.Float64,
			AccuracyM: lastAcc.Float64,
		}
	}
	return &cert, nil
}
