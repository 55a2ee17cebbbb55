// Package sensor is the motion correlation stage. During the "move closer"
// guidance phase the camera physically approaches the tag; real hardware
// reports acceleration that tracks the visual pose change. A replayed video
// or emulator shows pose movement with silent or flat sensors.
package sensor

import (
	"math"

	"skern/internal/platform/config"
	"skern/internal/verification/models"
)

// Result is the correlation verdict. Advisory results never hard-fail: they
// feed the risk scorer instead, for platforms that cannot grant motion access.
type Result struct {
	OK          bool
	Advisory    bool
	Correlation float64
	Reason      models.ReasonCode
	// RiskContribution in [0,1]; non-zero only for advisory outcomes.
	RiskContribution float64
}

// Correlate compares motion magnitudes against visual pose deltas over the
// move-closer window.
func Correlate(sub *models.ScanSubmission, cfg config.SensorConfig) Result {
	poseDeltas, offsets := poseDeltasInWindow(sub)
	totalPoseChange := 0.0
	for _, d := range poseDeltas {
		totalPoseChange += math.Abs(d)
	}

	if len(sub.Motion) == 0 {
		if !sub.Device.MotionSupported {
			// Structurally unavailable: declined permission on a platform
			// that requires no explicit grant, or no sensor at all. Degrade
			// to advisory and let the risk scorer weigh it.
			return Result{OK: true, Advisory: true, RiskContribution: 0.6}
		}
		if totalPoseChange > cfg.MinPoseDelta {
			// The device claims motion support, the tag visibly moved, and
			// the sensors said nothing.
			return Result{OK: false, Reason: models.ReasonSensorMismatchRejected}
		}
		return Result{OK: true, Advisory: true, RiskContribution: 0.3}
	}

	if totalPoseChange <= cfg.MinPoseDelta || len(poseDeltas) < 3 {
		// Too little visual movement to correlate against. Not a mismatch;
		// liveness already polices static scans.
		return Result{OK: true, Advisory: true, RiskContribution: 0.2}
	}

	motionDeltas := motionMagnitudesAt(sub.Motion, offsets)
	if flat(motionDeltas) {
		return Result{OK: false, Reason: models.ReasonSensorMismatchRejected}
	}

	r := pearson(absAll(poseDeltas), motionDeltas)
	if r < cfg.MinCorrelation {
		return Result{OK: false, Correlation: r, Reason: models.ReasonSensorMismatchRejected}
	}
	return Result{OK: true, Correlation: r}
}

// poseDeltasInWindow returns consecutive pose-distance deltas for frames in
// the move-closer phase, plus the midpoint offsets of each delta interval.
func poseDeltasInWindow(sub *models.ScanSubmission) ([]float64, []float64) {
	start, end := sub.Timing.MoveCloserStartMS, sub.Timing.MoveCloserEndMS
	if end <= start {
		// No phase reported; use the full scan.
		start, end = 0, math.MaxFloat64
	}

	var dists, times []float64
	for _, f := range sub.Frames {
		if f.OffsetMS >= start && f.OffsetMS <= end {
			dists = append(dists, f.Pose.Distance)
			times = append(times, f.OffsetMS)
		}
	}

	deltas := make([]float64, 0, len(dists))
	mids := make([]float64, 0, len(dists))
	for i := 1; i < len(dists); i++ {
		deltas = append(deltas, dists[i]-dists[i-1])
		mids = append(mids, (times[i]+times[i-1])/2)
	}
	return deltas, mids
}

// motionMagnitudesAt averages linear acceleration magnitude around each
// requested offset, so sensor readings and pose deltas line up in time.
func motionMagnitudesAt(samples []models.MotionSample, offsets []float64) []float64 {
	const window = 250.0 // ms either side

	out := make([]float64, len(offsets))
	for i, at := range offsets {
		sum, n := 0.0, 0
		for _, s := range samples {
			if math.Abs(s.OffsetMS-at) <= window {
				sum += math.Sqrt(s.AccelX*s.AccelX + s.AccelY*s.AccelY + s.AccelZ*s.AccelZ)
				n++
			}
		}
		if n > 0 {
			out[i] = sum / float64(n)
		}
	}
	return out
}

func absAll(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Abs(x)
	}
	return out
}

// flat reports whether the series carries no usable variation.
func flat(xs []float64) bool {
	if len(xs) == 0 {
		return true
	}
	minV, maxV := xs[0], xs[0]
	for _, x := range xs {
		minV = math.Min(minV, x)
		maxV = math.Max(maxV, x)
	}
	return maxV-minV < 1e-6
}

// pearson computes the correlation coefficient between two equal-length
// series. Returns 0 when either side is degenerate.
func pearson(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0
	}

	meanA, meanB := mean(a), mean(b)
	num, varA, varB := 0.0, 0.0, 0.0
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		num += da * db
		varA += da * da
		varB += db * db
	}
	if varA < 1e-12 || varB < 1e-12 {
		return 0
	}
	return num / math.Sqrt(varA*varB)
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
