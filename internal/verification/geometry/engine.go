// Package geometry is the underlay analysis stage. Per frame it locates the
// corner calibration marks, computes the homography onto the canonical tag
// plane, and measures the unwarped guilloche/grid pattern; across the frame
// sequence it aggregates detection ratio, curvature variance, and
// print-integrity metrics.
package geometry

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"skern/internal/platform/config"
	"skern/internal/verification/models"
)

// Engine analyzes the frame sequence of one submission. Frames are
// independent until aggregation, so per-frame analysis fans out.
type Engine struct {
	cfg    config.GeometryConfig
	logger *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func New(cfg config.GeometryConfig, opts ...Option) (*Engine, error) {
	if cfg.MinDetectionRatio <= 0 || cfg.MinDetectionRatio > 1 {
		return nil, fmt.Errorf("detection ratio must be in (0,1]")
	}
	if cfg.FrameAnalysisConcurrency <= 0 {
		return nil, fmt.Errorf("frame analysis concurrency must be positive")
	}
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// thresholds is the operating point after adaptive-mode selection.
type thresholds struct {
	minDetection float64
	minCurvature float64
	envelope     config.PrintEnvelope
}

// thresholdsFor honors the client-reported adaptive flag, but only when the
// granted resolution actually falls in the adaptive band. A desktop emulator
// claiming adaptive mode at full resolution gets the standard thresholds.
func (e *Engine) thresholdsFor(camera models.CameraMeta) thresholds {
	if camera.Adaptive &&
		camera.GrantedResolution >= e.cfg.AdaptiveMinResolution &&
		camera.GrantedResolution <= e.cfg.AdaptiveMaxResolution {
		return thresholds{
			minDetection: e.cfg.AdaptiveMinDetection,
			minCurvature: e.cfg.AdaptiveMinCurvature,
			envelope:     e.cfg.AdaptivePrintEnvelope,
		}
	}
	return thresholds{
		minDetection: e.cfg.MinDetectionRatio,
		minCurvature: e.cfg.MinCurvatureVariance,
		envelope:     e.cfg.PrintEnvelope,
	}
}

// Analyze runs per-frame detection concurrently, then aggregates. The reason
// code is empty when the underlay passes all three checks.
func (e *Engine) Analyze(ctx context.Context, sub *models.ScanSubmission) (*models.GeometryAssessment, models.ReasonCode, error) {
	t := e.thresholdsFor(sub.Camera)

	// Each goroutine writes its own slice index; no aggregation happens until
	// every frame is done.
	perFrame := make([]models.FrameAssessment, len(sub.Frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.FrameAnalysisConcurrency)
	for i := range sub.Frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perFrame[i] = analyzeFrame(sub.Frames[i].Image)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	assessment := aggregate(perFrame)

	if e.logger != nil {
		e.logger.DebugContext(ctx, "underlay analyzed",
			"frames", assessment.FramesAnalyzed,
			"detection_ratio", assessment.DetectionRatio,
			"corner_ratio", assessment.CornerRatio,
			"grid_ratio", assessment.GridRatio,
			"curve_ratio", assessment.CurveRatio,
			"curvature_variance", assessment.CurvatureVariance,
		)
	}

	// Check order mirrors forgery sophistication: absent pattern, then flat
	// reprint, then degraded fine detail.
	if assessment.DetectionRatio < t.minDetection {
		return assessment, models.ReasonUnderlayRejected, nil
	}
	if assessment.CurvatureVariance <= t.minCurvature {
		return assessment, models.ReasonRigidSurfaceRejected, nil
	}
	if outOfEnvelope(assessment, t.envelope) {
		return assessment, models.ReasonPrintIntegrityRejected, nil
	}

	assessment.UnderlayPass = true
	return assessment, "", nil
}

// analyzeFrame runs mark detection, homography, and pattern measurement on a
// single frame. No cross-frame ordering dependency.
func analyzeFrame(img models.ImageSample) models.FrameAssessment {
	corners, ok := findCalibrationMarks(img)
	if !ok {
		return models.FrameAssessment{}
	}

	h, ok := homographyFromCorners(corners)
	if !ok {
		return models.FrameAssessment{CalibrationFound: true}
	}

	unwarped := unwarp(img, h)
	pm := measurePattern(unwarped)

	return models.FrameAssessment{
		CalibrationFound: true,
		GridFound:        pm.gridFound,
		CurveFound:       pm.curveFound,
		PatternFound:     pm.found,
		Homography:       h,
		GridSpacing:      pm.gridSpacing,
		CurveEnergy:      pm.curveEnergy,
		LineThickness:    pm.lineThickness,
		BreakRate:        pm.breakRate,
		ThicknessVar:     pm.thicknessVar,
	}
}

// aggregate folds per-frame assessments into the submission-level view.
func aggregate(frames []models.FrameAssessment) *models.GeometryAssessment {
	out := &models.GeometryAssessment{FramesAnalyzed: len(frames)}
	if len(frames) == 0 {
		return out
	}

	detected, corners, grids, curves := 0, 0, 0, 0
	var spacings, energies []float64
	var thickness, breaks, thicknessVar float64

	for _, f := range frames {
		if f.CalibrationFound {
			corners++
		}
		if f.GridFound {
			grids++
		}
		if f.CurveFound {
			curves++
		}
		if f.CalibrationFound && f.PatternFound {
			detected++
			spacings = append(spacings, f.GridSpacing)
			energies = append(energies, f.CurveEnergy)
			thickness += f.LineThickness
			breaks += f.BreakRate
			thicknessVar += f.ThicknessVar
		}
	}

	total := float64(len(frames))
	out.DetectionRatio = float64(detected) / total
	out.CornerRatio = float64(corners) / total
	out.GridRatio = float64(grids) / total
	out.CurveRatio = float64(curves) / total
	if detected == 0 {
		return out
	}

	n := float64(detected)
	out.LineThickness = thickness / n
	out.BreakRate = breaks / n
	out.ThicknessVar = thicknessVar / n

	// Curvature variance: how much the observed pattern geometry changes
	// across frames, relative to its mean. A genuine fabric tag flexes and
	// shifts with handheld movement; a flat reprint held steady does not.
	out.CurvatureVariance = (relativeVariation(spacings) + relativeVariation(energies)) / 2
	return out
}

// relativeVariation is the coefficient of variation of a sample.
func relativeVariation(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if mean == 0 {
		return 0
	}
	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance) / mean
}

func outOfEnvelope(a *models.GeometryAssessment, env config.PrintEnvelope) bool {
	if a.LineThickness < env.MinLineThickness || a.LineThickness > env.MaxLineThickness {
		return true
	}
	if a.BreakRate > env.MaxBreakRate {
		return true
	}
	return a.ThicknessVar > env.MaxThicknessVar
}
