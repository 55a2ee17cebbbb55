package models

import (
	"time"

	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"
)

// PendingChallenge is the suspended state of a verification run that tripped
// the challenge ladder, keyed by submission id. It carries the minimized
// mid-pipeline context needed to resume after the challenge response; raw
// frames and motion are already gone by the time this is written.
type PendingChallenge struct {
	SubmissionID  id.SubmissionID  `json:"submission_id"`
	CertificateID id.CertificateID `json:"certificate_id"`
	DeviceHash    id.DeviceHash    `json:"device_hash"`

	Tier       ChallengeTier `json:"tier"`
	FraudScore FraudScore    `json:"fraud_score"`

	GPS        GPSFix    `json:"gps"`
	CapturedAt time.Time `json:"captured_at"`

	DeviceCategory    string `json:"device_category"`
	ScreenCategory    string `json:"screen_category"`
	TimezoneOffsetMin int    `json:"timezone_offset_min"`
	OrientationType   string `json:"orientation_type"`
	NetworkClass      string `json:"network_class"`
	UnderlayPass      bool   `json:"underlay_pass"`
	VelocityFlagged   bool   `json:"velocity_flagged"`

	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

// NewPendingChallenge creates a PendingChallenge with invariant validation.
func NewPendingChallenge(subID id.SubmissionID, certID id.CertificateID, tier ChallengeTier, issuedAt, expiresAt time.Time) (*PendingChallenge, error) {
	if subID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "submission id is required")
	}
	if certID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "certificate id is required")
	}
	if !tier.RequiresChallenge() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "tier does not require a challenge")
	}
	if !expiresAt.After(issuedAt) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "expiry must follow issuance")
	}
	return &PendingChallenge{
		SubmissionID:  subID,
		CertificateID: certID,
		Tier:          tier,
		IssuedAt:      issuedAt,
		ExpiresAt:     expiresAt,
	}, nil
}

// ExpiredAt reports whether the challenge window has closed.
func (c *PendingChallenge) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
