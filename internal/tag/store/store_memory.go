package store

import (
	"context"
	"sort"
	"sync"

	"skern/internal/tag/models"
	id "skern/pkg/domain"
	"skern/pkg/platform/sentinel"
)

// InMemoryTagStore holds the issued-tag registry in process memory.
type InMemoryTagStore struct {
	mu   sync.RWMutex
	tags map[id.CertificateID]*models.TagRecord
}

func NewMemory() *InMemoryTagStore {
	return &InMemoryTagStore{tags: make(map[id.CertificateID]*models.TagRecord)}
}

func (s *InMemoryTagStore) Create(ctx context.Context, tag *models.TagRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tags[tag.CertificateID]; exists {
		return sentinel.ErrConflict
	}
	cp := *tag
	s.tags[tag.CertificateID] = &cp
	return nil
}

func (s *InMemoryTagStore) Get(ctx context.Context, certID id.CertificateID) (*models.TagRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tag, ok := s.tags[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *tag
	return &cp, nil
}

func (s *InMemoryTagStore) ListByBatch(ctx context.Context, batch id.BatchCode) ([]*models.TagRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.TagRecord
	for _, tag := range s.tags {
		if tag.BatchCode == batch {
			cp := *tag
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}
