package velocity

import (
	"context"
	"sync"
	"time"

	"skern/internal/abuse/models"
	id "skern/pkg/domain"
)

// InMemoryVelocityStore tracks per-certificate scan windows in process memory.
type InMemoryVelocityStore struct {
	mu      sync.RWMutex
	windows map[id.CertificateID]*models.CertWindow
}

func New() *InMemoryVelocityStore {
	return &InMemoryVelocityStore{windows: make(map[id.CertificateID]*models.CertWindow)}
}

func (s *InMemoryVelocityStore) Get(ctx context.Context, certID id.CertificateID) (*models.CertWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.windows[certID]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

// RecordScanAtomic increments the certificate's window counter, resetting the
// window first when it started before the cutoff.
func (s *InMemoryVelocityStore) RecordScanAtomic(ctx context.Context, certID id.CertificateID, now, windowCutoff time.Time) (*models.CertWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[certID]
	if !ok {
		w = &models.CertWindow{CertificateID: certID, WindowStart: now}
		s.windows[certID] = w
	}
	if w.WindowStart.Before(windowCutoff) {
		w.ScanCount = 0
		w.WindowStart = now
	}
	w.ScanCount++

	cp := *w
	return &cp, nil
}

func (s *InMemoryVelocityStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for certID, w := range s.windows {
		if w.WindowStart.Before(cutoff) {
			delete(s.windows, certID)
			removed++
		}
	}
	return removed, nil
}
