package store

import (
	"context"
	"sort"
	"sync"

	"skern/internal/certificate/models"
	verification "skern/internal/verification/models"
	id "skern/pkg/domain"
	"skern/pkg/platform/sentinel"
)

// InMemoryCertificateStore holds the certificate registry in process memory.
type InMemoryCertificateStore struct {
	mu    sync.RWMutex
	certs map[id.CertificateID]*models.Certificate
}

func NewMemory() *InMemoryCertificateStore {
	return &InMemoryCertificateStore{certs: make(map[id.CertificateID]*models.Certificate)}
}

func (s *InMemoryCertificateStore) Create(ctx context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.certs[cert.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *cert
	s.certs[cert.ID] = &cp
	return nil
}

func (s *InMemoryCertificateStore) Get(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cert, ok := s.certs[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *cert
	return &cp, nil
}

// RecordScanAtomic applies one accepted scan: sets the first-scan origin only
// when absent, always advances the last-scan origin, and increments the
// accepted counter. The write is conditional on expected matching the stored
// last-scan origin; a concurrent scan that moved it returns ErrStale so the
// caller re-runs its travel check against the origin actually stored.
// Returns a copy of the updated certificate.
func (s *InMemoryCertificateStore) RecordScanAtomic(ctx context.Context, certID id.CertificateID, origin verification.ScanOrigin, expected *verification.ScanOrigin) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, ok := s.certs[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !sameOrigin(cert.LastScanOrigin, expected) {
		return nil, sentinel.ErrStale
	}
	if cert.FirstScanOrigin == nil {
		first := origin
		cert.FirstScanOrigin = &first
	}
	last := origin
	cert.LastScanOrigin = &last
	cert.AcceptedScans++

	cp := *cert
	return &cp, nil
}

func sameOrigin(stored, expected *verification.ScanOrigin) bool {
	if stored == nil || expected == nil {
		return stored == nil && expected == nil
	}
	return stored.Timestamp.Equal(expected.Timestamp) &&
		stored.Lat == expected.Lat && stored.Lon == expected.Lon
}

func (s *InMemoryCertificateStore) SetStatus(ctx context.Context, certID id.CertificateID, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, ok := s.certs[certID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cert.Status = status
	return nil
}

// ListByBatch returns all certificates in a production batch, issued-at order.
func (s *InMemoryCertificateStore) ListByBatch(ctx context.Context, batch id.BatchCode) ([]*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Certificate
	for _, cert := range s.certs {
		if cert.BatchCode == batch {
			cp := *cert
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}
