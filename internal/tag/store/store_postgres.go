package store

import (
	"context"
	"database/sql"
	"fmt"

	"skern/internal/tag/models"
	id "skern/pkg/domain"
	"skern/pkg/platform/sentinel"
	"skern/pkg/platform/tx"
)

// PostgresTagStore persists the issued-tag registry in PostgreSQL.
type PostgresTagStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresTagStore {
	return &PostgresTagStore{db: db}
}

func (s *PostgresTagStore) Create(ctx context.Context, tag *models.TagRecord) error {
	query := `
		INSERT INTO tag_records (certificate_id, serial_number, batch_code, guilloche_digest, border_digest, verify_url, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (certificate_id) DO NOTHING
	`
	result, err := tx.QuerierFor(ctx, s.db).ExecContext(ctx, query,
		tag.CertificateID, tag.SerialNumber, tag.BatchCode,
		tag.GuillocheDigest, tag.BorderDigest, tag.VerifyURL, tag.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("create tag record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create tag record rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresTagStore) Get(ctx context.Context, certID id.CertificateID) (*models.TagRecord, error) {
	query := `
		SELECT certificate_id, serial_number, batch_code, guilloche_digest, border_digest, verify_url, issued_at
		FROM tag_records
		WHERE certificate_id = $1
	`
	var tag models.TagRecord
	err := tx.QuerierFor(ctx, s.db).QueryRowContext(ctx, query, certID).Scan(
		&tag.CertificateID, &tag.SerialNumber, &tag.BatchCode,
		&tag.GuillocheDigest, &tag.BorderDigest, &tag.VerifyURL, &tag.IssuedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get tag record: %w", err)
	}
	return &tag, nil
}

func (s *PostgresTagStore) ListByBatch(ctx context.Context, batch id.BatchCode) ([]*models.TagRecord, error) {
	query := `
		SELECT certificate_id, serial_number, batch_code, guilloche_digest, border_digest, verify_url, issued_at
		FROM tag_records
		WHERE batch_code = $1
		ORDER BY issued_at
	`
	rows, err := tx.QuerierFor(ctx, s.db).QueryContext(ctx, query, batch)
	if err != nil {
		return nil, fmt.Errorf("list tag records: %w", err)
	}
	defer rows.Close()

	var out []*models.TagRecord
	for rows.Next() {
		var tag models.TagRecord
		if err := rows.Scan(
			&tag.CertificateID, &tag.SerialNumber, &tag.BatchCode,
			&tag.GuillocheDigest, &tag.BorderDigest, &tag.VerifyURL, &tag.IssuedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tag record row: %w", err)
		}
		out = append(out, &tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag record rows: %w", err)
	}
	return out, nil
}
