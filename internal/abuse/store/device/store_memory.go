package device

import (
	"context"
	"sync"
	"time"

	"skern/internal/abuse/models"
	id "skern/pkg/domain"
)

// InMemoryDeviceStore tracks device scan windows in process memory. Suitable
// for tests and single-instance deployments.
type InMemoryDeviceStore struct {
	mu      sync.RWMutex
	windows map[id.DeviceHash]*models.DeviceWindow
}

func New() *InMemoryDeviceStore {
	return &InMemoryDeviceStore{windows: make(map[id.DeviceHash]*models.DeviceWindow)}
}

func (s *InMemoryDeviceStore) Get(ctx context.Context, hash id.DeviceHash) (*models.DeviceWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.windows[hash]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

// RecordScanAtomic increments the device's window counter, resetting the
// window first when it started before the cutoff. Cooldown state is preserved
// across window resets. Returns a copy of the updated record.
func (s *InMemoryDeviceStore) RecordScanAtomic(ctx context.Context, hash id.DeviceHash, now, windowCutoff time.Time) (*models.DeviceWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[hash]
	if !ok {
		w = &models.DeviceWindow{DeviceHash: hash, WindowStart: now}
		s.windows[hash] = w
	}
	if w.WindowStart.Before(windowCutoff) {
		w.ScanCount = 0
		w.WindowStart = now
	}
	w.ScanCount++

	cp := *w
	return &cp, nil
}

// ApplyCooldownAtomic sets the cooldown when the count breaches the limit and
// no cooldown is already active. Reports whether the cooldown was applied.
func (s *InMemoryDeviceStore) ApplyCooldownAtomic(ctx context.Context, hash id.DeviceHash, until time.Time, limit int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[hash]
	if !ok || w.ScanCount <= limit || w.InCooldownAt(now) {
		return false, nil
	}
	w.CooldownUntil = &until
	return true, nil
}

// PurgeExpired removes windows that ended before the cutoff and carry no
// active cooldown. Returns how many records were removed.
func (s *InMemoryDeviceStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for hash, w := range s.windows {
		if w.WindowStart.Before(cutoff) && !w.InCooldownAt(cutoff) {
			delete(s.windows, hash)
			removed++
		}
	}
	return removed, nil
}
