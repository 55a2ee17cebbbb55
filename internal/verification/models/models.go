package models

import (
	"time"

	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"

	"github.com/google/uuid"
)

// Outcome is the terminal verdict of a verification run.
type Outcome string

const (
	OutcomeAuthentic         Outcome = "authentic"
	OutcomeRejected          Outcome = "rejected"
	OutcomeFlagged           Outcome = "flagged"
	OutcomeChallengeRequired Outcome = "challenge_required"
)

// IsValid checks if the outcome is one of the supported enum values.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeAuthentic, OutcomeRejected, OutcomeFlagged, OutcomeChallengeRequired:
		return true
	}
	return false
}

// IsAccepted reports whether the scan counts as an accepted verification for
// certificate lifecycle purposes. Flagged scans are accepted scans that carry
// a review marker.
func (o Outcome) IsAccepted() bool {
	return o == OutcomeAuthentic || o == OutcomeFlagged
}

// ReasonCode identifies which stage decided the outcome. Reason codes are
// logged for fraud investigation; clients receive only a generic message so
// rejections do not coach attackers.
type ReasonCode string

const (
	// Policy rejections, one per pipeline stage.
	ReasonLivenessRejected         ReasonCode = "liveness_rejected"
	ReasonUnderlayRejected         ReasonCode = "underlay_rejected"
	ReasonRigidSurfaceRejected     ReasonCode = "rigid_surface_rejected"
	ReasonPrintIntegrityRejected   ReasonCode = "print_integrity_rejected"
	ReasonSensorMismatchRejected   ReasonCode = "sensor_mismatch_rejected"
	ReasonGeofenceRejected         ReasonCode = "geofence_rejected"
	ReasonImpossibleTravelRejected ReasonCode = "impossible_travel_rejected"
	ReasonCooldownRejected         ReasonCode = "cooldown_rejected"
	ReasonChallengeFailed          ReasonCode = "challenge_failed"

	// Input failures, before any meaningful signal capture.
	ReasonPayloadUndecodable ReasonCode = "payload_undecodable"
	ReasonPayloadMismatch    ReasonCode = "payload_mismatch"
	ReasonCameraFacing       ReasonCode = "camera_facing_invalid"
	ReasonMissingFields      ReasonCode = "missing_required_fields"
	ReasonCertificateUnknown ReasonCode = "certificate_unknown"
	ReasonCertificateRevoked ReasonCode = "certificate_revoked"
	ReasonChallengeExpired   ReasonCode = "challenge_expired"

	// Non-terminal and accepted outcomes.
	ReasonChallengeRequired ReasonCode = "challenge_required"
	ReasonVelocityFlagged   ReasonCode = "velocity_flagged"
	ReasonAllChecksPassed   ReasonCode = "all_checks_passed"
)

// ChallengeTier escalates with the fraud score. Low proceeds without a
// challenge; extreme issues a heavy out-of-band challenge.
type ChallengeTier string

const (
	TierLow     ChallengeTier = "low"
	TierMedium  ChallengeTier = "medium"
	TierHigh    ChallengeTier = "high"
	TierExtreme ChallengeTier = "extreme"
)

// RequiresChallenge reports whether the tier suspends the pipeline.
func (t ChallengeTier) RequiresChallenge() bool {
	return t == TierMedium || t == TierHigh || t == TierExtreme
}

// GPSFix is the submitted location of the scan attempt.
type GPSFix struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	AccuracyM float64  `json:"accuracy_m"`
	AltitudeM *float64 `json:"altitude_m,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	SpeedMS   *float64 `json:"speed_ms,omitempty"`
}

// DeviceSignals is the raw device/display/network bundle. Processed in-memory
// only: the persisted record keeps a coarse category and a one-way hash.
type DeviceSignals struct {
	UserAgent         string `json:"user_agent"`
	Platform          string `json:"platform"`
	TouchPoints       int    `json:"touch_points"`
	HardwareCores     int    `json:"hardware_cores"`
	ScreenWidth       int    `json:"screen_width"`
	ScreenHeight      int    `json:"screen_height"`
	TimezoneOffsetMin int    `json:"timezone_offset_min"`
	OrientationType   string `json:"orientation_type"`
	NetworkClass      string `json:"network_class"`
	Language          string `json:"language"`
	MotionSupported   bool   `json:"motion_supported"`
}

// CameraMeta describes the capture channel.
type CameraMeta struct {
	FacingMode        string `json:"facing_mode"`
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	TorchOn           bool   `json:"torch_on"`
	Adaptive          bool   `json:"adaptive"`
	GrantedResolution int    `json:"granted_resolution"`
}

// TimingMetrics summarize the guided capture phases.
type TimingMetrics struct {
	// ScanDuration is the total guided scan time in seconds.
	ScanDuration float64 `json:"scan_duration_s"`
	// SizeVariation is the in-frame tag size change over the scan, as a
	// fraction (0.25 = 25%). Movement proxy for liveness.
	SizeVariation float64 `json:"size_variation"`
	// MoveCloserStartMS / MoveCloserEndMS delimit the "move closer" guidance
	// phase, in milliseconds from scan start. Sensor correlation runs over
	// this window.
	MoveCloserStartMS float64 `json:"move_closer_start_ms"`
	MoveCloserEndMS   float64 `json:"move_closer_end_ms"`
}

// MotionSample is one accelerometer/gyroscope reading.
type MotionSample struct {
	OffsetMS float64 `json:"offset_ms"`
	AccelX   float64 `json:"accel_x"`
	AccelY   float64 `json:"accel_y"`
	AccelZ   float64 `json:"accel_z"`
	RotAlpha float64 `json:"rot_alpha"`
	RotBeta  float64 `json:"rot_beta"`
	RotGamma float64 `json:"rot_gamma"`
}

// ImageSample is a downsampled luminance grid of one captured frame,
// row-major, one byte per pixel. Raw imagery never outlives the pipeline run.
type ImageSample struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Gray   []byte `json:"gray"`
}

// At returns the luminance at (x, y); out-of-range reads return white so
// sampling off the edge never detects structure.
func (s ImageSample) At(x, y int) byte {
	if x < 0 || y < 0 || x >= s.Width || y >= s.Height {
		return 255
	}
	return s.Gray[y*s.Width+x]
}

// IsEmpty reports whether the sample carries no pixel data.
func (s ImageSample) IsEmpty() bool {
	return s.Width <= 0 || s.Height <= 0 || len(s.Gray) < s.Width*s.Height
}

// PoseEstimate is the upstream capture pipeline's per-frame pose. The server
// consumes it; re-deriving camera intrinsics is out of scope.
type PoseEstimate struct {
	// Distance is the estimated camera-to-tag distance, normalized so 1.0 is
	// the framing-guide reference distance.
	Distance float64 `json:"distance"`
	// Angle is the estimated tilt from tag-normal, degrees.
	Angle float64 `json:"angle"`
	// Distortion is the upstream perspective-distortion measure in [0,1].
	Distortion float64 `json:"distortion"`
}

// Frame is one captured frame with its pose estimate.
type Frame struct {
	OffsetMS float64      `json:"offset_ms"`
	Image    ImageSample  `json:"image"`
	Pose     PoseEstimate `json:"pose"`
}

// ScanSubmission is one immutable scan attempt as received from the client.
type ScanSubmission struct {
	SubmissionID  id.SubmissionID  `json:"submission_id"`
	CertificateID id.CertificateID `json:"certificate_id"`
	TagPayload    string           `json:"tag_payload"`
	CapturedAt    time.Time        `json:"captured_at"`
	GPS           GPSFix           `json:"gps"`
	Device        DeviceSignals    `json:"device"`
	Camera        CameraMeta       `json:"camera"`
	Timing        TimingMetrics    `json:"timing"`
	Motion        []MotionSample   `json:"motion,omitempty"`
	Frames        []Frame          `json:"frames"`
}

// Purge drops raw frame imagery, raw motion samples, and raw device strings.
// Called before the pipeline returns; none of this reaches durable storage.
func (s *ScanSubmission) Purge() {
	for i := range s.Frames {
		s.Frames[i].Image = ImageSample{}
	}
	s.Motion = nil
	s.Device.UserAgent = ""
	s.Device.Platform = ""
	s.Device.Language = ""
}

// FrameAssessment is the per-frame output of the geometry engine. The three
// detection booleans break the composite down per component: corner marks,
// calibration grid, guilloche curves.
type FrameAssessment struct {
	CalibrationFound bool
	GridFound        bool
	CurveFound       bool
	PatternFound     bool
	Homography       [9]float64
	GridSpacing      float64
	CurveEnergy      float64
	LineThickness    float64
	BreakRate        float64
	ThicknessVar     float64
}

// GeometryAssessment aggregates per-frame analysis. Per-component ratios are
// logged for fraud investigation; callers only ever see the reason code.
// Ephemeral: derived per submission and never persisted.
type GeometryAssessment struct {
	FramesAnalyzed    int
	DetectionRatio    float64
	CornerRatio       float64
	GridRatio         float64
	CurveRatio        float64
	CurvatureVariance float64
	LineThickness     float64
	BreakRate         float64
	ThicknessVar      float64
	UnderlayPass      bool
}

// FraudScore is the aggregate automation/spoofing likelihood in [0,1] with
// its weighted components, kept for audit context.
type FraudScore struct {
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components"`
}

// ScanOrigin is a timestamped coarse location. Used for the certificate's
// set-once first-scan origin and its rolling last-scan position.
type ScanOrigin struct {
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	AccuracyM float64   `json:"accuracy_m"`
}

// VerificationResult is the minimized, append-only persisted record of one
// verification run. Immutable once written; purged after the retention window.
type VerificationResult struct {
	ID                string           `json:"id"`
	SubmissionID      id.SubmissionID  `json:"submission_id"`
	CertificateID     id.CertificateID `json:"certificate_id"`
	Outcome           Outcome          `json:"outcome"`
	Reason            ReasonCode       `json:"reason"`
	OccurredAt        time.Time        `json:"occurred_at"`
	Lat               float64          `json:"lat"`
	Lon               float64          `json:"lon"`
	AccuracyM         float64          `json:"accuracy_m"`
	DeviceCategory    string           `json:"device_category"`
	ScreenCategory    string           `json:"screen_category"`
	TimezoneOffsetMin int              `json:"timezone_offset_min"`
	OrientationType   string           `json:"orientation_type"`
	NetworkClass      string           `json:"network_class"`
	FraudScore        float64          `json:"fraud_score"`
	UnderlayPass      bool             `json:"underlay_pass"`
	Flagged           bool             `json:"flagged"`
}

// NewVerificationResult creates a VerificationResult with invariant validation.
func NewVerificationResult(submissionID id.SubmissionID, certID id.CertificateID, outcome Outcome, reason ReasonCode, occurredAt time.Time) (*VerificationResult, error) {
	if submissionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "submission id is required")
	}
	if certID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "certificate id is required")
	}
	if !outcome.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid outcome")
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "reason code is required")
	}
	if occurredAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "occurred_at is required")
	}
	return &VerificationResult{
		ID:            uuid.NewString(),
		SubmissionID:  submissionID,
		CertificateID: certID,
		Outcome:       outcome,
		Reason:        reason,
		OccurredAt:    occurredAt,
	}, nil
}
