// Package liveness is the timing analysis stage. It is a pure function of the
// timing fields: scan duration and in-frame size variation act as a movement
// proxy, separating a guided physical scan from a static photo or replay.
package liveness

import (
	"skern/internal/platform/config"
	"skern/internal/verification/models"
)

// Result is the liveness verdict.
type Result struct {
	OK     bool
	Reason models.ReasonCode
	// DurationMargin is how far above the floor the scan ran, in seconds.
	// Fed to the risk scorer as a soft signal even when the check passes.
	DurationMargin float64
}

// Analyze applies the liveness policy to the submission's timing metrics.
func Analyze(timing models.TimingMetrics, cfg config.LivenessConfig) Result {
	minDuration := cfg.MinScanDuration.Seconds()

	if timing.ScanDuration < minDuration {
		return Result{OK: false, Reason: models.ReasonLivenessRejected}
	}

	// Size variation at or below the floor means the tag stayed a fixed size
	// in frame for the whole scan: a tripod, a screen, or a replay. Above the
	// ceiling is not natural handheld movement either.
	if timing.SizeVariation <= cfg.MinSizeVariation {
		return Result{OK: false, Reason: models.ReasonLivenessRejected}
	}
	if timing.SizeVariation > cfg.MaxSizeVariation {
		return Result{OK: false, Reason: models.ReasonLivenessRejected}
	}

	return Result{OK: true, DurationMargin: timing.ScanDuration - minDuration}
}
