// Package models defines the abuse-tracking records: per-device scan windows
// with cooldowns, and per-certificate velocity windows.
package models

import (
	"time"

	id "skern/pkg/domain"
)

// DeviceWindow tracks scan attempts from one device fingerprint inside a
// sliding window. The stored record is pure state; window math lives here and
// in the service, never in the stores.
type DeviceWindow struct {
	DeviceHash    id.DeviceHash
	ScanCount     int
	WindowStart   time.Time
	CooldownUntil *time.Time
}

// InCooldownAt reports whether the device is inside an active cooldown.
func (w *DeviceWindow) InCooldownAt(now time.Time) bool {
	return w.CooldownUntil != nil && now.Before(*w.CooldownUntil)
}

// OverLimit reports whether the window count breaches the scan limit.
func (w *DeviceWindow) OverLimit(limit int) bool {
	return w.ScanCount > limit
}

// ApplyCooldown starts a cooldown from now.
func (w *DeviceWindow) ApplyCooldown(d time.Duration, now time.Time) {
	until := now.Add(d)
	w.CooldownUntil = &until
}

// CertWindow tracks how many scans one certificate received inside a sliding
// window, across all devices. Breaching the ceiling flags, never rejects: a
// counterfeit run cloning one tag produces exactly this shape, but so does a
// retail counter on a busy day.
type CertWindow struct {
	CertificateID id.CertificateID
	ScanCount     int
	WindowStart   time.Time
}

// OverCeiling reports whether the window count breaches the velocity ceiling.
func (w *CertWindow) OverCeiling(ceiling int) bool {
	return w.ScanCount > ceiling
}
