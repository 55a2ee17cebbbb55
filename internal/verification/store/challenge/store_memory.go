package challenge

import (
	"context"
	"sync"
	"time"

	"skern/internal/verification/models"
	id "skern/pkg/domain"
	"skern/pkg/platform/sentinel"
)

// InMemoryChallengeStore holds pending challenges in process memory, keyed by
// submission id, with expiry enforced on read.
type InMemoryChallengeStore struct {
	mu      sync.RWMutex
	pending map[id.SubmissionID]*models.PendingChallenge
}

func New() *InMemoryChallengeStore {
	return &InMemoryChallengeStore{pending: make(map[id.SubmissionID]*models.PendingChallenge)}
}

func (s *InMemoryChallengeStore) Put(ctx context.Context, c *models.PendingChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.pending[c.SubmissionID] = &cp
	return nil
}

// Get returns the pending challenge. Expired entries are dropped and reported
// as ErrExpired so the caller can distinguish "too late" from "never issued".
func (s *InMemoryChallengeStore) Get(ctx context.Context, subID id.SubmissionID, now time.Time) (*models.PendingChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.pending[subID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if c.ExpiredAt(now) {
		delete(s.pending, subID)
		return nil, sentinel.ErrExpired
	}
	cp := *c
	return &cp, nil
}

// Delete removes a pending challenge once resolved. Deleting an absent
// challenge is not an error; resolution must be idempotent.
func (s *InMemoryChallengeStore) Delete(ctx context.Context, subID id.SubmissionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, subID)
	return nil
}

// IncrementAttempts bumps the attempt counter and returns the new value.
func (s *InMemoryChallengeStore) IncrementAttempts(ctx context.Context, subID id.SubmissionID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.pending[subID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	c.Attempts++
	return c.Attempts, nil
}
