// Package device derives privacy-safe device identity from raw signals: a
// deterministic one-way fingerprint for abuse tracking and coarse categories
// for the persisted record. Raw user-agent and hardware strings never leave
// the synchronous pipeline.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/mssola/useragent"

	"skern/internal/verification/models"
	id "skern/pkg/domain"
)

// Service computes device fingerprints. Disabled mode returns empty
// fingerprints so deployments can opt out of device tracking entirely.
type Service struct {
	enabled bool
}

func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

var versionTail = regexp.MustCompile(`([0-9]+)(\.[0-9.]+)`)

// ComputeFingerprint hashes normalized device signals into a stable SHA-256
// hex digest. Minor browser version bumps must not rotate the fingerprint or
// the cooldown window resets on every auto-update.
func (s *Service) ComputeFingerprint(sig models.DeviceSignals) id.DeviceHash {
	if !s.enabled {
		return ""
	}

	normalizedUA := versionTail.ReplaceAllString(sig.UserAgent, "$1")
	material := strings.Join([]string{
		normalizedUA,
		sig.Platform,
		fmt.Sprintf("cores=%d", sig.HardwareCores),
		fmt.Sprintf("screen=%dx%d", sig.ScreenWidth, sig.ScreenHeight),
		fmt.Sprintf("tz=%d", sig.TimezoneOffsetMin),
		sig.Language,
	}, "|")

	sum := sha256.Sum256([]byte(material))
	return id.DeviceHash(hex.EncodeToString(sum[:]))
}

// ParseUserAgent returns a human-readable "Browser on OS" display name.
func ParseUserAgent(ua string) string {
	if ua == "" {
		return "Unknown Device"
	}
	parsed := useragent.New(ua)
	name, _ := parsed.Browser()
	os := parsed.OSInfo().Name
	if name == "" {
		name = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(name + " on " + os)
}

// Category buckets the device into the coarse type persisted with results.
// Model names are deliberately not retained.
func Category(sig models.DeviceSignals) string {
	parsed := useragent.New(sig.UserAgent)
	os := strings.ToLower(parsed.OSInfo().Name)
	switch {
	case parsed.Bot():
		return "bot"
	case strings.Contains(os, "android") && parsed.Mobile():
		return "mobile-android"
	case strings.Contains(os, "iphone") || strings.Contains(os, "ios"):
		return "mobile-ios"
	case parsed.Mobile():
		return "mobile-other"
	case sig.TouchPoints > 0 && maxDim(sig) >= 1024:
		return "tablet"
	default:
		return "desktop"
	}
}

// ScreenCategory buckets the display size. The exact resolution is processed
// but never persisted.
func ScreenCategory(sig models.DeviceSignals) string {
	switch d := maxDim(sig); {
	case d == 0:
		return "unknown"
	case d < 800:
		return "small"
	case d < 1400:
		return "medium"
	case d < 2200:
		return "large"
	default:
		return "xlarge"
	}
}

func maxDim(sig models.DeviceSignals) int {
	if sig.ScreenWidth > sig.ScreenHeight {
		return sig.ScreenWidth
	}
	return sig.ScreenHeight
}
