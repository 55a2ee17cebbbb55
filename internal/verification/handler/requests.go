package handler

import (
	"time"

	"skern/internal/verification/models"
	"skern/internal/verification/service"
	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"
)

// VerifyRequest is the wire form of a scan submission. Identifiers arrive as
// raw strings and pass through the domain parsers before the pipeline sees
// them.
type VerifyRequest struct {
	SubmissionID  string                `json:"submission_id"`
	CertificateID string                `json:"certificate_id"`
	TagPayload    string                `json:"tag_payload"`
	CapturedAt    time.Time             `json:"captured_at"`
	GPS           models.GPSFix         `json:"gps"`
	Device        models.DeviceSignals  `json:"device"`
	Camera        models.CameraMeta     `json:"camera"`
	Timing        models.TimingMetrics  `json:"timing"`
	Motion        []models.MotionSample `json:"motion,omitempty"`
	Frames        []models.Frame        `json:"frames"`
}

// ToSubmission validates identifiers and builds the pipeline submission.
func (r *VerifyRequest) ToSubmission() (*models.ScanSubmission, error) {
	subID, err := id.ParseSubmissionID(r.SubmissionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid submission id")
	}
	certID, err := id.ParseCertificateID(r.CertificateID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid certificate id")
	}

	return &models.ScanSubmission{
		SubmissionID:  subID,
		CertificateID: certID,
		TagPayload:    r.TagPayload,
		CapturedAt:    r.CapturedAt,
		GPS:           r.GPS,
		Device:        r.Device,
		Camera:        r.Camera,
		Timing:        r.Timing,
		Motion:        r.Motion,
		Frames:        r.Frames,
	}, nil
}

// ChallengeRequest is the wire form of a challenge answer.
type ChallengeRequest struct {
	ResumeToken string                `json:"resume_token"`
	Timing      models.TimingMetrics  `json:"timing"`
	Motion      []models.MotionSample `json:"motion,omitempty"`
}

// ChallengePayload is returned when a scan is suspended for a challenge.
type ChallengePayload struct {
	Tier        string    `json:"tier"`
	ResumeToken string    `json:"resume_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// VerifyResponse is the wire form of a decision. Reason codes are only
// disclosed for input-class failures the caller can act on; stage-level
// rejection reasons stay server side so rejections do not coach forgers.
type VerifyResponse struct {
	SubmissionID    string             `json:"submission_id"`
	CertificateID   string             `json:"certificate_id"`
	Outcome         string             `json:"outcome"`
	Reason          string             `json:"reason,omitempty"`
	FirstScanOrigin *models.ScanOrigin `json:"first_scan_origin,omitempty"`
	Challenge       *ChallengePayload  `json:"challenge,omitempty"`
}

// disclosableReasons are the reason codes returned to callers.
var disclosableReasons = map[models.ReasonCode]bool{
	models.ReasonPayloadUndecodable: true,
	models.ReasonPayloadMismatch:    true,
	models.ReasonCameraFacing:       true,
	models.ReasonMissingFields:      true,
	models.ReasonCertificateUnknown: true,
	models.ReasonCertificateRevoked: true,
	models.ReasonChallengeExpired:   true,
	models.ReasonCooldownRejected:   true,
	models.ReasonChallengeRequired:  true,
}

func toVerifyResponse(d *service.Decision) VerifyResponse {
	resp := VerifyResponse{
		SubmissionID:    d.SubmissionID.String(),
		CertificateID:   d.CertificateID.String(),
		Outcome:         string(d.Outcome),
		FirstScanOrigin: d.FirstScanOrigin,
	}
	if disclosableReasons[d.Reason] {
		resp.Reason = string(d.Reason)
	}
	if d.Outcome == models.OutcomeChallengeRequired {
		resp.Challenge = &ChallengePayload{
			Tier:        string(d.Tier),
			ResumeToken: d.ResumeToken,
			ExpiresAt:   d.ChallengeExpiresAt,
		}
	}
	return resp
}
