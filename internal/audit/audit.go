// Package audit emits fraud-audit events for rejected, flagged, and
// challenged scans. Events ride an async pipeline so a slow broker never
// stalls a verification response.
package audit

import (
	"context"
	"time"

	id "skern/pkg/domain"
)

// EventType classifies a fraud-audit event.
type EventType string

const (
	EventScanAccepted      EventType = "scan_accepted"
	EventScanRejected      EventType = "scan_rejected"
	EventScanFlagged       EventType = "scan_flagged"
	EventChallengeIssued   EventType = "challenge_issued"
	EventChallengeFailed   EventType = "challenge_failed"
	EventCooldownApplied   EventType = "cooldown_applied"
	EventRetentionPurge    EventType = "retention_purge"
	EventCertificateIssued EventType = "certificate_issued"
)

// Event is one fraud-audit record. Carries only minimized fields; device
// hashes yes, raw fingerprint material never.
type Event struct {
	Type          EventType        `json:"type"`
	OccurredAt    time.Time        `json:"occurred_at"`
	SubmissionID  id.SubmissionID  `json:"submission_id,omitempty"`
	CertificateID id.CertificateID `json:"certificate_id,omitempty"`
	DeviceHash    id.DeviceHash    `json:"device_hash,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	FraudScore    float64          `json:"fraud_score,omitempty"`
	Detail        string           `json:"detail,omitempty"`
}

// Publisher delivers audit events. Publish must not block on broker I/O.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close() error
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Event) {}
func (NopPublisher) Close() error                             { return nil }
