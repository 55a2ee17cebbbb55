// Package config builds runtime configuration from the environment. Every
// policy threshold the pipeline enforces is a tunable here, never a constant
// buried in a stage: operating points came from field calibration ranges and
// get retuned without a redeploy.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the verification service.
type Config struct {
	Addr        string
	PostgresDSN string
	Redis       RedisConfig
	Kafka       KafkaConfig

	Liveness  LivenessConfig
	Geometry  GeometryConfig
	Sensor    SensorConfig
	Risk      RiskConfig
	Geo       GeoConfig
	Abuse     AbuseConfig
	Challenge ChallengeConfig
	Retention RetentionConfig
	Issuance  IssuanceConfig
}

// RedisConfig controls the optional Redis-backed pending-challenge store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig controls the fraud-audit event publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LivenessConfig bounds scan duration and in-frame size variation.
type LivenessConfig struct {
	// MinScanDuration is the floor for a legitimate guided scan. The client
	// extends its own floor to 7-8s in adaptive mode; the server floor stays
	// at the standard value because adaptive scans only ever run longer.
	MinScanDuration time.Duration
	// MinSizeVariation / MaxSizeVariation bound the in-frame tag size change
	// over the scan, as a fraction. Below the floor means a static replay.
	MinSizeVariation float64
	MaxSizeVariation float64
}

// GeometryConfig bounds the underlay analysis. Adaptive variants apply when
// the client reports a granted capture resolution in the adaptive band.
type GeometryConfig struct {
	MinDetectionRatio    float64
	MinCurvatureVariance float64
	PrintEnvelope        PrintEnvelope

	AdaptiveMinResolution    int
	AdaptiveMaxResolution    int
	AdaptiveMinDetection     float64
	AdaptiveMinCurvature     float64
	AdaptivePrintEnvelope    PrintEnvelope
	FrameAnalysisConcurrency int
}

// PrintEnvelope is the genuine-print reference band for unwarped line metrics.
type PrintEnvelope struct {
	MinLineThickness float64 // mean dark-run length, canonical pixels
	MaxLineThickness float64
	MaxBreakRate     float64 // line discontinuities per traced line
	MaxThicknessVar  float64 // coefficient of variation of run lengths
}

// SensorConfig bounds motion/visual pose agreement.
type SensorConfig struct {
	MinCorrelation float64
	// MinPoseDelta is the visual distance change below which correlation is
	// not meaningful (tag held still; nothing to correlate against).
	MinPoseDelta float64
}

// RiskConfig holds the fraud score weights and the ordered tier ladder.
type RiskConfig struct {
	TouchWeight    float64
	UAWeight       float64
	CoreWeight     float64
	MotionWeight   float64
	TimingWeight   float64
	TierThresholds TierThresholds
}

// TierThresholds is the ordered threshold table t1 < t2 < t3 mapping a fraud
// score to a challenge tier.
type TierThresholds struct {
	Medium  float64 // t1
	High    float64 // t2
	Extreme float64 // t3
}

// GeoConfig bounds coordinates and implied travel speed.
type GeoConfig struct {
	// National bounding region. Defaults cover South Africa.
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	// MaxSpeedKmh is the impossible-travel ceiling between accepted scans of
	// the same certificate.
	MaxSpeedKmh float64
}

// AbuseConfig controls per-device cooldown and per-certificate velocity flags.
type AbuseConfig struct {
	DeviceScanLimit     int
	DeviceWindow        time.Duration
	DeviceCooldown      time.Duration
	CertVelocityCeiling int
	CertVelocityWindow  time.Duration
}

// ChallengeConfig controls suspended-submission resumption.
type ChallengeConfig struct {
	ResumeTokenTTL time.Duration
	SigningKey     string
	MaxAttempts    int
}

// IssuanceConfig controls certificate tag issuance.
type IssuanceConfig struct {
	// MasterSecret seeds per-batch key derivation for serials and tag ids.
	MasterSecret string
	// APIToken authenticates factory issuance requests.
	APIToken string
	// MaxBatchSize caps how many certificates one issuance request may mint.
	MaxBatchSize int
}

// RetentionConfig controls the POPIA purge of verification records.
type RetentionConfig struct {
	ResultTTL     time.Duration
	PurgeInterval time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr:        envStr("SKERN_ADDR", ":8080"),
		PostgresDSN: os.Getenv("SKERN_POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("SKERN_REDIS_URL"),
			PoolSize:     envInt("SKERN_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("SKERN_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDur("SKERN_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDur("SKERN_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDur("SKERN_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(os.Getenv("SKERN_KAFKA_BROKERS")),
			Topic:   envStr("SKERN_KAFKA_AUDIT_TOPIC", "skern.fraud-audit"),
		},
		Liveness:  DefaultLiveness(),
		Geometry:  DefaultGeometry(),
		Sensor:    DefaultSensor(),
		Risk:      DefaultRisk(),
		Geo:       DefaultGeo(),
		Abuse:     DefaultAbuse(),
		Challenge: DefaultChallenge(),
		Retention: DefaultRetention(),
		Issuance:  DefaultIssuance(),
	}
}

// DefaultLiveness returns the standard-mode liveness operating point.
func DefaultLiveness() LivenessConfig {
	return LivenessConfig{
		MinScanDuration:  envDur("SKERN_LIVENESS_MIN_DURATION", 5*time.Second),
		MinSizeVariation: envFloat("SKERN_LIVENESS_MIN_SIZE_VARIATION", 0.15),
		MaxSizeVariation: envFloat("SKERN_LIVENESS_MAX_SIZE_VARIATION", 0.40),
	}
}

// DefaultGeometry returns the geometry operating point. The calibrated band
// for curvature variance is 5-10%; the floor is exclusive (a dead-flat
// reprint sits exactly at the floor).
func DefaultGeometry() GeometryConfig {
	return GeometryConfig{
		MinDetectionRatio:    envFloat("SKERN_GEOMETRY_MIN_DETECTION", 0.90),
		MinCurvatureVariance: envFloat("SKERN_GEOMETRY_MIN_CURVATURE_VAR", 0.05),
		PrintEnvelope: PrintEnvelope{
			MinLineThickness: envFloat("SKERN_PRINT_MIN_THICKNESS", 1.2),
			MaxLineThickness: envFloat("SKERN_PRINT_MAX_THICKNESS", 4.5),
			MaxBreakRate:     envFloat("SKERN_PRINT_MAX_BREAK_RATE", 0.25),
			MaxThicknessVar:  envFloat("SKERN_PRINT_MAX_THICKNESS_VAR", 0.60),
		},
		AdaptiveMinResolution: envInt("SKERN_ADAPTIVE_MIN_RESOLUTION", 1280),
		AdaptiveMaxResolution: envInt("SKERN_ADAPTIVE_MAX_RESOLUTION", 1920),
		AdaptiveMinDetection:  envFloat("SKERN_ADAPTIVE_MIN_DETECTION", 0.80),
		AdaptiveMinCurvature:  envFloat("SKERN_ADAPTIVE_MIN_CURVATURE_VAR", 0.03),
		AdaptivePrintEnvelope: PrintEnvelope{
			MinLineThickness: envFloat("SKERN_ADAPTIVE_PRINT_MIN_THICKNESS", 0.8),
			MaxLineThickness: envFloat("SKERN_ADAPTIVE_PRINT_MAX_THICKNESS", 6.0),
			MaxBreakRate:     envFloat("SKERN_ADAPTIVE_PRINT_MAX_BREAK_RATE", 0.40),
			MaxThicknessVar:  envFloat("SKERN_ADAPTIVE_PRINT_MAX_THICKNESS_VAR", 0.85),
		},
		FrameAnalysisConcurrency: envInt("SKERN_GEOMETRY_CONCURRENCY", 4),
	}
}

// DefaultSensor returns the sensor correlation operating point.
func DefaultSensor() SensorConfig {
	return SensorConfig{
		MinCorrelation: envFloat("SKERN_SENSOR_MIN_CORRELATION", 0.35),
		MinPoseDelta:   envFloat("SKERN_SENSOR_MIN_POSE_DELTA", 0.05),
	}
}

// DefaultRisk returns the fraud score weights and tier ladder.
func DefaultRisk() RiskConfig {
	return RiskConfig{
		TouchWeight:  envFloat("SKERN_RISK_TOUCH_WEIGHT", 0.20),
		UAWeight:     envFloat("SKERN_RISK_UA_WEIGHT", 0.30),
		CoreWeight:   envFloat("SKERN_RISK_CORE_WEIGHT", 0.15),
		MotionWeight: envFloat("SKERN_RISK_MOTION_WEIGHT", 0.15),
		TimingWeight: envFloat("SKERN_RISK_TIMING_WEIGHT", 0.20),
		TierThresholds: TierThresholds{
			Medium:  envFloat("SKERN_RISK_T1", 0.40),
			High:    envFloat("SKERN_RISK_T2", 0.70),
			Extreme: envFloat("SKERN_RISK_T3", 0.90),
		},
	}
}

// DefaultGeo returns the South African bounding region and the calibrated
// impossible-travel ceiling (200-500 km/h band; we operate at the top to keep
// domestic flights legitimate).
func DefaultGeo() GeoConfig {
	return GeoConfig{
		MinLat:      envFloat("SKERN_GEO_MIN_LAT", -35.0),
		MaxLat:      envFloat("SKERN_GEO_MAX_LAT", -22.0),
		MinLon:      envFloat("SKERN_GEO_MIN_LON", 16.3),
		MaxLon:      envFloat("SKERN_GEO_MAX_LON", 33.0),
		MaxSpeedKmh: envFloat("SKERN_GEO_MAX_SPEED_KMH", 500),
	}
}

// DefaultAbuse returns cooldown and velocity-flag operating points.
func DefaultAbuse() AbuseConfig {
	return AbuseConfig{
		DeviceScanLimit:     envInt("SKERN_ABUSE_DEVICE_LIMIT", 3),
		DeviceWindow:        envDur("SKERN_ABUSE_DEVICE_WINDOW", 10*time.Minute),
		DeviceCooldown:      envDur("SKERN_ABUSE_DEVICE_COOLDOWN", 10*time.Minute),
		CertVelocityCeiling: envInt("SKERN_ABUSE_CERT_VELOCITY_CEILING", 25),
		CertVelocityWindow:  envDur("SKERN_ABUSE_CERT_VELOCITY_WINDOW", time.Hour),
	}
}

// DefaultChallenge returns challenge resumption settings.
func DefaultChallenge() ChallengeConfig {
	return ChallengeConfig{
		ResumeTokenTTL: envDur("SKERN_CHALLENGE_TTL", 10*time.Minute),
		SigningKey:     envStr("SKERN_CHALLENGE_SIGNING_KEY", "dev-secret-key-change-in-production"),
		MaxAttempts:    envInt("SKERN_CHALLENGE_MAX_ATTEMPTS", 3),
	}
}

// DefaultIssuance returns tag issuance settings.
func DefaultIssuance() IssuanceConfig {
	return IssuanceConfig{
		MasterSecret: envStr("SKERN_ISSUANCE_MASTER_SECRET", "dev-issuance-secret-change-in-production"),
		APIToken:     envStr("SKERN_ISSUER_TOKEN", "dev-issuer-token-change-in-production"),
		MaxBatchSize: envInt("SKERN_ISSUANCE_MAX_BATCH_SIZE", 1000),
	}
}

// DefaultRetention returns the POPIA retention settings.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		ResultTTL:     envDur("SKERN_RETENTION_RESULT_TTL", 2*365*24*time.Hour),
		PurgeInterval: envDur("SKERN_RETENTION_PURGE_INTERVAL", 24*time.Hour),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
