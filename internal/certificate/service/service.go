// Package service exposes the certificate registry: lookups for the public
// verify flow and scan-lifecycle updates for the pipeline.
package service

import (
	"context"
	"errors"
	"log/slog"

	"skern/internal/certificate/models"
	verification "skern/internal/verification/models"
	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"
	"skern/pkg/platform/sentinel"
)

// Store is the certificate registry persistence port.
type Store interface {
	Create(ctx context.Context, cert *models.Certificate) error
	Get(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	RecordScanAtomic(ctx context.Context, certID id.CertificateID, origin verification.ScanOrigin, expected *verification.ScanOrigin) (*models.Certificate, error)
	SetStatus(ctx context.Context, certID id.CertificateID, status models.Status) error
	ListByBatch(ctx context.Context, batch id.BatchCode) ([]*models.Certificate, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("certificate store is required")
	}
	svc := &Service{store: store}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Get returns the certificate or a not-found domain error. The pipeline
// treats unknown certificates as input errors, never as forgeries: a typo in
// a URL is not a counterfeit.
func (s *Service) Get(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	cert, err := s.store.Get(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to get certificate")
	}
	return cert, nil
}

// RecordAcceptedScan applies an accepted scan to the certificate lifecycle.
// Runs inside the orchestrator's persistence transaction. The write is
// conditional on expected matching the stored last-scan origin; ErrStale
// passes through so the orchestrator can re-check travel and retry.
func (s *Service) RecordAcceptedScan(ctx context.Context, certID id.CertificateID, origin verification.ScanOrigin, expected *verification.ScanOrigin) (*models.Certificate, error) {
	cert, err := s.store.RecordScanAtomic(ctx, certID, origin, expected)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		if errors.Is(err, sentinel.ErrStale) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record accepted scan")
	}
	return cert, nil
}

// Register inserts a newly issued certificate.
func (s *Service) Register(ctx context.Context, cert *models.Certificate) error {
	if cert == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "certificate is required")
	}
	if err := s.store.Create(ctx, cert); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "certificate already exists")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register certificate")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "certificate registered",
			"certificate_id", cert.ID.String(),
			"batch_code", cert.BatchCode.String(),
		)
	}
	return nil
}

// Revoke marks a certificate revoked. Revoked certificates still resolve on
// lookup but fail verification at the gate.
func (s *Service) Revoke(ctx context.Context, certID id.CertificateID) error {
	if err := s.store.SetStatus(ctx, certID, models.StatusRevoked); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke certificate")
	}
	return nil
}

// ListByBatch returns a production batch's certificates.
func (s *Service) ListByBatch(ctx context.Context, batch id.BatchCode) ([]*models.Certificate, error) {
	certs, err := s.store.ListByBatch(ctx, batch)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	return certs, nil
}
