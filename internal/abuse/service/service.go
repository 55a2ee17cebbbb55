// Package service enforces the abuse policy: per-device scan cooldowns and
// per-certificate velocity flags. Counters increment before the pipeline
// verdict is known, so failed and challenged attempts consume quota too.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"skern/internal/abuse/models"
	"skern/internal/platform/config"
	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"
	"skern/pkg/requestcontext"
)

// DeviceStore tracks per-device scan windows. Implementations are pure I/O.
type DeviceStore interface {
	Get(ctx context.Context, hash id.DeviceHash) (*models.DeviceWindow, error)
	RecordScanAtomic(ctx context.Context, hash id.DeviceHash, now, windowCutoff time.Time) (*models.DeviceWindow, error)
	ApplyCooldownAtomic(ctx context.Context, hash id.DeviceHash, until time.Time, limit int, now time.Time) (bool, error)
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// VelocityStore tracks per-certificate scan windows.
type VelocityStore interface {
	Get(ctx context.Context, certID id.CertificateID) (*models.CertWindow, error)
	RecordScanAtomic(ctx context.Context, certID id.CertificateID, now, windowCutoff time.Time) (*models.CertWindow, error)
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// Recorder receives abuse counter events. Satisfied by the metrics package;
// nil-safe so tests can omit it.
type Recorder interface {
	IncrementDeviceScans()
	IncrementCooldownsApplied()
	IncrementCooldownRejections()
	IncrementVelocityFlags()
}

// DeviceDecision is the outcome of counting one scan against a device.
type DeviceDecision struct {
	Allowed    bool
	RetryAfter time.Duration
	ScanCount  int
}

type Service struct {
	devices  DeviceStore
	velocity VelocityStore
	cfg      config.AbuseConfig
	logger   *slog.Logger
	metrics  Recorder
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m Recorder) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(devices DeviceStore, velocity VelocityStore, cfg config.AbuseConfig, opts ...Option) (*Service, error) {
	if devices == nil {
		return nil, errors.New("device store is required")
	}
	if velocity == nil {
		return nil, errors.New("velocity store is required")
	}
	if cfg.DeviceScanLimit <= 0 || cfg.DeviceWindow <= 0 {
		return nil, errors.New("device scan limit and window must be positive")
	}

	svc := &Service{devices: devices, velocity: velocity, cfg: cfg}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RecordDeviceScan counts one scan against the device and applies the
// cooldown policy. An empty hash (fingerprinting disabled) always passes.
func (s *Service) RecordDeviceScan(ctx context.Context, hash id.DeviceHash) (*DeviceDecision, error) {
	if hash.IsNil() {
		return &DeviceDecision{Allowed: true}, nil
	}

	now := requestcontext.Now(ctx)
	cutoff := now.Add(-s.cfg.DeviceWindow)

	window, err := s.devices.RecordScanAtomic(ctx, hash, now, cutoff)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record device scan")
	}
	if s.metrics != nil {
		s.metrics.IncrementDeviceScans()
	}

	if window.InCooldownAt(now) {
		if s.metrics != nil {
			s.metrics.IncrementCooldownRejections()
		}
		return &DeviceDecision{
			Allowed:    false,
			RetryAfter: window.CooldownUntil.Sub(now),
			ScanCount:  window.ScanCount,
		}, nil
	}

	if window.OverLimit(s.cfg.DeviceScanLimit) {
		until := now.Add(s.cfg.DeviceCooldown)
		applied, err := s.devices.ApplyCooldownAtomic(ctx, hash, until, s.cfg.DeviceScanLimit, now)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply device cooldown")
		}
		if applied {
			if s.metrics != nil {
				s.metrics.IncrementCooldownsApplied()
			}
			if s.logger != nil {
				s.logger.InfoContext(ctx, "device cooldown applied",
					"device_hash", hash.String(),
					"scan_count", window.ScanCount,
					"cooldown_until", until,
				)
			}
		}
		if s.metrics != nil {
			s.metrics.IncrementCooldownRejections()
		}
		return &DeviceDecision{
			Allowed:    false,
			RetryAfter: until.Sub(now),
			ScanCount:  window.ScanCount,
		}, nil
	}

	return &DeviceDecision{Allowed: true, ScanCount: window.ScanCount}, nil
}

// RecordCertificateScan counts one scan against the certificate's velocity
// window. Breaching the ceiling flags the scan; it never rejects.
func (s *Service) RecordCertificateScan(ctx context.Context, certID id.CertificateID) (flagged bool, err error) {
	now := requestcontext.Now(ctx)
	cutoff := now.Add(-s.cfg.CertVelocityWindow)

	window, err := s.velocity.RecordScanAtomic(ctx, certID, now, cutoff)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record certificate scan")
	}

	if window.OverCeiling(s.cfg.CertVelocityCeiling) {
		if s.metrics != nil {
			s.metrics.IncrementVelocityFlags()
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "certificate velocity ceiling breached",
				"certificate_id", certID.String(),
				"scan_count", window.ScanCount,
			)
		}
		return true, nil
	}
	return false, nil
}

// PurgeExpired drops stale windows from both stores.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)

	devices, err := s.devices.PurgeExpired(ctx, now.Add(-s.cfg.DeviceWindow))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to purge device windows")
	}
	certs, err := s.velocity.PurgeExpired(ctx, now.Add(-s.cfg.CertVelocityWindow))
	if err != nil {
		return devices, dErrors.Wrap(err, dErrors.CodeInternal, "failed to purge certificate windows")
	}
	return devices + certs, nil
}
