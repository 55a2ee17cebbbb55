package result

import (
	"context"
	"sort"
	"sync"
	"time"

	"skern/internal/verification/models"
	id "skern/pkg/domain"
	"skern/pkg/platform/sentinel"
)

// InMemoryResultStore holds verification results in process memory.
type InMemoryResultStore struct {
	mu           sync.RWMutex
	results      map[string]*models.VerificationResult
	bySubmission map[id.SubmissionID]string
}

func New() *InMemoryResultStore {
	return &InMemoryResultStore{
		results:      make(map[string]*models.VerificationResult),
		bySubmission: make(map[id.SubmissionID]string),
	}
}

// Create inserts an immutable result record. A second result for the same
// submission id conflicts; retries must replay the stored record instead.
func (s *InMemoryResultStore) Create(ctx context.Context, r *models.VerificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySubmission[r.SubmissionID]; exists {
		return sentinel.ErrConflict
	}
	cp := *r
	s.results[r.ID] = &cp
	s.bySubmission[r.SubmissionID] = r.ID
	return nil
}

func (s *InMemoryResultStore) GetBySubmissionID(ctx context.Context, subID id.SubmissionID) (*models.VerificationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rid, ok := s.bySubmission[subID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.results[rid]
	return &cp, nil
}

// ListByCertificate returns results for one certificate, newest first.
func (s *InMemoryResultStore) ListByCertificate(ctx context.Context, certID id.CertificateID, limit int) ([]*models.VerificationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.VerificationResult
	for _, r := range s.results {
		if r.CertificateID == certID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeOlderThan deletes results that occurred before the cutoff. Returns the
// number of purged records.
func (s *InMemoryResultStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for rid, r := range s.results {
		if r.OccurredAt.Before(cutoff) {
			delete(s.results, rid)
			delete(s.bySubmission, r.SubmissionID)
			purged++
		}
	}
	return purged, nil
}
