// Package gate is the ingestion validation stage. It re-validates invariants
// the client is expected to have enforced, since the server must not trust
// the client. Pure structural checks: no state is touched on failure.
package gate

import (
	"net/url"
	"strings"
	"time"

	"skern/internal/verification/models"
)

// VerifyHost is the host embedded in genuine tag payloads.
const VerifyHost = "skern.com"

// Violation describes why a submission failed structural validation.
type Violation struct {
	Reason  models.ReasonCode
	Message string
}

// Validate checks a submission's structure. Returns nil when the submission
// is well-formed enough to enter the stateful pipeline.
func Validate(sub *models.ScanSubmission) *Violation {
	if sub == nil {
		return &Violation{models.ReasonMissingFields, "submission is required"}
	}
	if sub.SubmissionID.IsNil() {
		return &Violation{models.ReasonMissingFields, "submission_id is required"}
	}
	if sub.CertificateID.IsNil() {
		return &Violation{models.ReasonMissingFields, "certificate_id is required"}
	}
	if sub.CapturedAt.IsZero() {
		return &Violation{models.ReasonMissingFields, "captured_at is required"}
	}
	if sub.CapturedAt.After(time.Now().Add(5 * time.Minute)) {
		return &Violation{models.ReasonMissingFields, "captured_at is in the future"}
	}
	if len(sub.Frames) == 0 {
		return &Violation{models.ReasonMissingFields, "at least one frame is required"}
	}
	if sub.GPS.Lat == 0 && sub.GPS.Lon == 0 && sub.GPS.AccuracyM == 0 {
		return &Violation{models.ReasonMissingFields, "gps fix is required"}
	}
	if sub.Device.UserAgent == "" {
		return &Violation{models.ReasonMissingFields, "device signals are required"}
	}
	if sub.Timing.ScanDuration <= 0 {
		return &Violation{models.ReasonMissingFields, "timing metrics are required"}
	}

	if v := validatePayload(sub); v != nil {
		return v
	}

	// Rear camera only. Selfie-camera scans are a replay pattern: the tag is
	// shown to the screen-facing lens from another display.
	if !strings.EqualFold(sub.Camera.FacingMode, "environment") {
		return &Violation{models.ReasonCameraFacing, "camera facing mode must be environment"}
	}

	return nil
}

// validatePayload checks the decoded QR payload: a verify URL on our host
// whose id matches the submitted certificate id.
func validatePayload(sub *models.ScanSubmission) *Violation {
	if sub.TagPayload == "" {
		return &Violation{models.ReasonPayloadUndecodable, "tag payload is required"}
	}
	u, err := url.Parse(sub.TagPayload)
	if err != nil || u.Host == "" {
		return &Violation{models.ReasonPayloadUndecodable, "tag payload is not a valid verify URL"}
	}
	if !strings.EqualFold(u.Host, VerifyHost) {
		return &Violation{models.ReasonPayloadUndecodable, "tag payload host is not recognized"}
	}
	if got := u.Query().Get("id"); got != sub.CertificateID.String() {
		return &Violation{models.ReasonPayloadMismatch, "tag payload id does not match certificate id"}
	}
	return nil
}
