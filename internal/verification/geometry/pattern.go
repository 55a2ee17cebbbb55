package geometry

import (
	"math"

	"skern/internal/verification/models"
)

// Thresholds over the unwarped luminance raster. The underlay prints as
// mid-tone cyan/magenta curves over a light grid; in grayscale the grid and
// guilloche land below the paper white but above the QR black.
const (
	inkThreshold   = 140 // at or below: printed line ink
	curveLow       = 60  // guilloche band, darker bound
	curveHigh      = 185 // guilloche band, lighter bound
	minCurveEnergy = 0.04
)

// patternMetrics are the per-frame measurements of the unwarped underlay.
// gridFound and curveFound stay separate so rejections can name the missing
// component.
type patternMetrics struct {
	found         bool
	gridFound     bool
	curveFound    bool
	gridSpacing   float64
	curveEnergy   float64
	lineThickness float64
	breakRate     float64
	thicknessVar  float64
}

// measurePattern derives grid spacing, guilloche energy, and print-integrity
// line metrics from a canonical unwarped raster.
func measurePattern(img models.ImageSample) patternMetrics {
	spacing, periodic := estimateGridSpacing(img)
	energy := curveEnergy(img)
	thickness, breaks, thicknessVar := lineMetrics(img)

	return patternMetrics{
		found:         periodic && energy > minCurveEnergy,
		gridFound:     periodic,
		curveFound:    energy > minCurveEnergy,
		gridSpacing:   spacing,
		curveEnergy:   energy,
		lineThickness: thickness,
		breakRate:     breaks,
		thicknessVar:  thicknessVar,
	}
}

// estimateGridSpacing finds the dominant period of the calibration grid from
// the autocorrelation of the column-mean luminance profile. A flat profile
// (no periodic dips) means no grid.
func estimateGridSpacing(img models.ImageSample) (float64, bool) {
	profile := make([]float64, img.Width)
	for x := 0; x < img.Width; x++ {
		sum := 0.0
		for y := 0; y < img.Height; y++ {
			sum += float64(img.At(x, y))
		}
		profile[x] = sum / float64(img.Height)
	}

	mean := 0.0
	for _, v := range profile {
		mean += v
	}
	mean /= float64(len(profile))

	variance := 0.0
	for _, v := range profile {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(profile))
	if variance < 1e-6 {
		return 0, false
	}

	// Normalized autocorrelation over plausible grid periods. The physical
	// grid spacing lands between 1/16 and 1/3 of the tag width.
	bestLag, bestCorr := 0, 0.0
	minLag, maxLag := img.Width/16, img.Width/3
	if minLag < 2 {
		minLag = 2
	}
	for lag := minLag; lag <= maxLag; lag++ {
		corr := 0.0
		for x := 0; x+lag < img.Width; x++ {
			corr += (profile[x] - mean) * (profile[x+lag] - mean)
		}
		corr /= variance * float64(img.Width-lag)
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}

	return float64(bestLag), bestCorr > 0.25
}

// curveEnergy measures the share of pixels in the guilloche mid-tone band.
// White paper and the solid QR modules both fall outside it.
func curveEnergy(img models.ImageSample) float64 {
	if img.IsEmpty() {
		return 0
	}
	count := 0
	for _, v := range img.Gray {
		if v >= curveLow && v <= curveHigh {
			count++
		}
	}
	return float64(count) / float64(len(img.Gray))
}

// lineMetrics scans rows of the unwarped raster for inked runs and derives
// mean line thickness, discontinuity rate, and thickness variation. A genuine
// print holds thickness inside a narrow envelope; reprints bleed or thin.
func lineMetrics(img models.ImageSample) (thickness, breakRate, thicknessVar float64) {
	var runs []float64
	rowRunCounts := make([]int, 0, img.Height)

	for y := 0; y < img.Height; y++ {
		runLen := 0
		rowRuns := 0
		for x := 0; x <= img.Width; x++ {
			inked := x < img.Width && img.At(x, y) <= inkThreshold
			if inked {
				runLen++
				continue
			}
			if runLen > 0 {
				runs = append(runs, float64(runLen))
				rowRuns++
				runLen = 0
			}
		}
		rowRunCounts = append(rowRunCounts, rowRuns)
	}

	if len(runs) == 0 {
		return 0, 1, 0
	}

	mean := 0.0
	for _, r := range runs {
		mean += r
	}
	mean /= float64(len(runs))

	variance := 0.0
	for _, r := range runs {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(runs))

	thickness = mean
	if mean > 0 {
		thicknessVar = math.Sqrt(variance) / mean
	}

	// Discontinuity: rows whose run count deviates far from the median row
	// indicate broken lines in the unwarped plane.
	breakRate = discontinuity(rowRunCounts)
	return thickness, breakRate, thicknessVar
}

func discontinuity(rowRuns []int) float64 {
	inked := 0
	total := 0
	for _, n := range rowRuns {
		if n > 0 {
			inked++
			total += n
		}
	}
	if inked == 0 {
		return 1
	}
	typical := float64(total) / float64(inked)

	deviant := 0
	for _, n := range rowRuns {
		if n == 0 {
			continue
		}
		if math.Abs(float64(n)-typical) > typical*0.75 {
			deviant++
		}
	}
	return float64(deviant) / float64(inked)
}
