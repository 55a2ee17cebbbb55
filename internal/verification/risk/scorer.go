// Package risk computes the weighted fraud score from device and behavioral
// signals, and maps it to a challenge tier. The score is advisory by itself;
// the tier ladder decides whether the pipeline suspends for a challenge.
package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/mssola/useragent"

	"skern/internal/platform/config"
	"skern/internal/verification/models"
)

// Scorer maps a submission to a fraud score and challenge tier.
type Scorer struct {
	cfg config.RiskConfig
}

func NewScorer(cfg config.RiskConfig) (*Scorer, error) {
	t := cfg.TierThresholds
	if !(t.Medium < t.High && t.High < t.Extreme) {
		return nil, fmt.Errorf("tier thresholds must be strictly increasing: %.2f, %.2f, %.2f", t.Medium, t.High, t.Extreme)
	}
	sum := cfg.TouchWeight + cfg.UAWeight + cfg.CoreWeight + cfg.MotionWeight + cfg.TimingWeight
	if math.Abs(sum-1) > 0.01 {
		return nil, fmt.Errorf("risk weights must sum to 1, got %.3f", sum)
	}
	return &Scorer{cfg: cfg}, nil
}

// Score computes the weighted aggregate. sensorRisk is the advisory
// contribution from the sensor stage; zero when the correlation check passed
// outright. Components are keyed by signal name for audit context.
func (s *Scorer) Score(sub *models.ScanSubmission, sensorRisk float64) models.FraudScore {
	components := map[string]float64{
		"touch":  touchScore(sub.Device),
		"ua":     uaScore(sub.Device),
		"cores":  coreScore(sub.Device),
		"motion": clamp01(sensorRisk),
		"timing": timingScore(sub),
	}

	score := s.cfg.TouchWeight*components["touch"] +
		s.cfg.UAWeight*components["ua"] +
		s.cfg.CoreWeight*components["cores"] +
		s.cfg.MotionWeight*components["motion"] +
		s.cfg.TimingWeight*components["timing"]

	return models.FraudScore{Score: clamp01(score), Components: components}
}

// Tier maps a score through the ordered threshold ladder.
func (s *Scorer) Tier(score float64) models.ChallengeTier {
	t := s.cfg.TierThresholds
	switch {
	case score >= t.Extreme:
		return models.TierExtreme
	case score >= t.High:
		return models.TierHigh
	case score >= t.Medium:
		return models.TierMedium
	default:
		return models.TierLow
	}
}

// touchScore: the scan flow runs on a phone held in hand. Zero touch points on
// a mobile user agent is the classic headless-browser tell.
func touchScore(sig models.DeviceSignals) float64 {
	parsed := useragent.New(sig.UserAgent)
	if sig.TouchPoints == 0 {
		if parsed.Mobile() {
			return 1.0
		}
		return 0.7
	}
	if sig.TouchPoints == 1 {
		// Real touchscreens report 5+; exactly one is an emulated pointer.
		return 0.5
	}
	return 0.0
}

// uaScore measures user-agent plausibility against the other signals.
func uaScore(sig models.DeviceSignals) float64 {
	if sig.UserAgent == "" {
		return 1.0
	}
	parsed := useragent.New(sig.UserAgent)
	if parsed.Bot() {
		return 1.0
	}

	ua := strings.ToLower(sig.UserAgent)
	for _, marker := range []string{"headless", "phantomjs", "selenium", "puppeteer", "playwright"} {
		if strings.Contains(ua, marker) {
			return 1.0
		}
	}

	score := 0.0
	osName := strings.ToLower(parsed.OSInfo().Name)
	platform := strings.ToLower(sig.Platform)

	// UA claims one OS, navigator.platform reports another.
	switch {
	case strings.Contains(osName, "android") && platform != "" && !strings.Contains(platform, "linux") && !strings.Contains(platform, "arm") && !strings.Contains(platform, "android"):
		score += 0.6
	case (strings.Contains(osName, "iphone") || strings.Contains(osName, "ios")) && platform != "" && !strings.Contains(platform, "iphone") && !strings.Contains(platform, "ipad") && !strings.Contains(platform, "mac"):
		score += 0.6
	}

	if name, _ := parsed.Browser(); name == "" {
		score += 0.3
	}
	return clamp01(score)
}

// coreScore flags hardware concurrency values emulators report.
func coreScore(sig models.DeviceSignals) float64 {
	switch {
	case sig.HardwareCores <= 0:
		return 0.8
	case sig.HardwareCores == 1:
		// Single-core has not shipped in a phone for a decade.
		return 0.9
	case sig.HardwareCores == 2:
		return 0.3
	case sig.HardwareCores > 32:
		// Server-grade core counts on a "phone".
		return 0.7
	default:
		return 0.0
	}
}

// timingScore measures frame interval regularity. Handheld capture jitters;
// a scripted replay delivers frames on a metronome.
func timingScore(sub *models.ScanSubmission) float64 {
	if len(sub.Frames) < 3 {
		return 0.5
	}

	intervals := make([]float64, 0, len(sub.Frames)-1)
	for i := 1; i < len(sub.Frames); i++ {
		intervals = append(intervals, sub.Frames[i].OffsetMS-sub.Frames[i-1].OffsetMS)
	}

	mean := 0.0
	for _, v := range intervals {
		mean += v
	}
	mean /= float64(len(intervals))
	if mean <= 0 {
		return 1.0
	}

	variance := 0.0
	for _, v := range intervals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(intervals))
	cv := math.Sqrt(variance) / mean

	// Natural capture shows 5%+ interval jitter. Map [0, 0.05] onto [1, 0].
	if cv >= 0.05 {
		return 0.0
	}
	return 1.0 - cv/0.05
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
