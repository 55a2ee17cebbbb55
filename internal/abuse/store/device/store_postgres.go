package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"skern/internal/abuse/models"
	id "skern/pkg/domain"
)

// PostgresDeviceStore persists device scan windows in PostgreSQL.
// Pure I/O; window and cooldown policy live in the service.
type PostgresDeviceStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresDeviceStore {
	return &PostgresDeviceStore{db: db}
}

func (s *PostgresDeviceStore) Get(ctx context.Context, hash id.DeviceHash) (*models.DeviceWindow, error) {
	query := `
		SELECT device_hash, scan_count, window_start, cooldown_until
		FROM device_windows
		WHERE device_hash = $1
	`
	w, err := scanDeviceWindow(s.db.QueryRowContext(ctx, query, hash))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get device window: %w", err)
	}
	return w, nil
}

// RecordScanAtomic increments the window counter in a single UPSERT, resetting
// the window when it started before the cutoff. Concurrent scans from one
// device cannot slip past the limit between read and write.
func (s *PostgresDeviceStore) RecordScanAtomic(ctx context.Context, hash id.DeviceHash, now, windowCutoff time.Time) (*models.DeviceWindow, error) {
	query := `
		INSERT INTO device_windows (device_hash, scan_count, window_start, cooldown_until)
		VALUES ($1, 1, $2, NULL)
		ON CONFLICT (device_hash) DO UPDATE SET
			scan_count = CASE WHEN device_windows.window_start < $3
				THEN 1 ELSE device_windows.scan_count + 1 END,
			window_start = CASE WHEN device_windows.window_start < $3
				THEN $2 ELSE device_windows.window_start END
		RETURNING device_hash, scan_count, window_start, cooldown_until
	`
	w, err := scanDeviceWindow(s.db.QueryRowContext(ctx, query, hash, now, windowCutoff))
	if err != nil {
		return nil, fmt.Errorf("record device scan atomic: %w", err)
	}
	return w, nil
}

// ApplyCooldownAtomic sets the cooldown via conditional UPDATE so only one of
// several concurrent breaching scans applies it.
func (s *PostgresDeviceStore) ApplyCooldownAtomic(ctx context.Context, hash id.DeviceHash, until time.Time, limit int, now time.Time) (bool, error) {
	query := `
		UPDATE device_windows
		SET cooldown_until = $2
		WHERE device_hash = $1
		  AND scan_count > $3
		  AND (cooldown_until IS NULL OR cooldown_until < $4)
	`
	result, err := s.db.ExecContext(ctx, query, hash, until, limit, now)
	if err != nil {
		return false, fmt.Errorf("apply cooldown atomic: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply cooldown rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresDeviceStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM device_windows
		WHERE window_start < $1
		  AND (cooldown_until IS NULL OR cooldown_until < $1)
	`
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge device windows: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge device windows rows affected: %w", err)
	}
	return int(rows), nil
}

type deviceWindowRow interface {
	Scan(dest ...any) error
}

func scanDeviceWindow(row deviceWindowRow) (*models.DeviceWindow, error) {
	var w models.DeviceWindow
	var cooldown sql.NullTime
	if err := row.Scan(&w.DeviceHash, &w.ScanCount, &w.WindowStart, &cooldown); err != nil {
		return nil, err
	}
	if cooldown.Valid {
		w.CooldownUntil = &cooldown.Time
	}
	return &w, nil
}
