package service

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	abuseservice "skern/internal/abuse/service"
	devicestore "skern/internal/abuse/store/device"
	velocitystore "skern/internal/abuse/store/velocity"
	"skern/internal/audit"
	certmodels "skern/internal/certificate/models"
	certservice "skern/internal/certificate/service"
	certstore "skern/internal/certificate/store"
	"skern/internal/platform/config"
	"skern/internal/verification/challenge"
	"skern/internal/verification/device"
	"skern/internal/verification/geo"
	"skern/internal/verification/geometry"
	"skern/internal/verification/models"
	"skern/internal/verification/risk"
	challengestore "skern/internal/verification/store/challenge"
	resultstore "skern/internal/verification/store/result"
	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"
	"skern/pkg/platform/sentinel"
	"skern/pkg/platform/tx"
	"skern/pkg/requestcontext"
)

type PipelineSuite struct {
	suite.Suite
	svc        *Service
	certs      *certservice.Service
	results    *resultstore.InMemoryResultStore
	challenges *challengestore.InMemoryChallengeStore
	auditor    *audit.InMemoryPublisher
	cfg        config.Config
	ctx        context.Context
	now        time.Time
}

func (s *PipelineSuite) SetupTest() {
	s.cfg = testPipelineConfig()
	s.now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.rebuild()
}

// rebuild wires a fresh pipeline from s.cfg and empty stores.
func (s *PipelineSuite) rebuild() {
	certs, err := certservice.New(certstore.NewMemory())
	s.Require().NoError(err)
	s.certs = certs

	abuse, err := abuseservice.New(devicestore.New(), velocitystore.New(), s.cfg.Abuse)
	s.Require().NoError(err)

	engine, err := geometry.New(s.cfg.Geometry)
	s.Require().NoError(err)
	scorer, err := risk.NewScorer(s.cfg.Risk)
	s.Require().NoError(err)
	signer, err := challenge.NewTokenSigner(s.cfg.Challenge.SigningKey, s.cfg.Challenge.ResumeTokenTTL)
	s.Require().NoError(err)

	s.results = resultstore.New()
	s.challenges = challengestore.New()
	s.auditor = audit.NewInMemoryPublisher()

	svc, err := New(s.cfg, Deps{
		Geometry:     engine,
		Scorer:       scorer,
		Geo:          geo.NewValidator(s.cfg.Geo),
		Devices:      device.NewService(true),
		Signer:       signer,
		Certificates: certs,
		Abuse:        abuse,
		Results:      s.results,
		Challenges:   s.challenges,
		Runner:       tx.PassthroughRunner{},
	}, WithAuditPublisher(s.auditor))
	s.Require().NoError(err)
	s.svc = svc
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func testPipelineConfig() config.Config {
	return config.Config{
		Liveness: config.LivenessConfig{
			MinScanDuration:  5 * time.Second,
			MinSizeVariation: 0.15,
			MaxSizeVariation: 0.40,
		},
		// Wide print envelope: pipeline tests steer outcomes through the
		// stages, not through print calibration bands.
		Geometry: config.GeometryConfig{
			MinDetectionRatio:        0.90,
			MinCurvatureVariance:     0.05,
			PrintEnvelope:            widePrintEnvelope(),
			AdaptiveMinResolution:    1280,
			AdaptiveMaxResolution:    1920,
			AdaptiveMinDetection:     0.80,
			AdaptiveMinCurvature:     0.03,
			AdaptivePrintEnvelope:    widePrintEnvelope(),
			FrameAnalysisConcurrency: 2,
		},
		Sensor: config.SensorConfig{MinCorrelation: 0.35, MinPoseDelta: 0.05},
		Risk: config.RiskConfig{
			TouchWeight:  0.20,
			UAWeight:     0.30,
			CoreWeight:   0.15,
			MotionWeight: 0.15,
			TimingWeight: 0.20,
			TierThresholds: config.TierThresholds{Medium: 0.40, High: 0.70, Extreme: 0.90},
		},
		Geo: config.GeoConfig{MinLat: -35, MaxLat: -22, MinLon: 16.3, MaxLon: 33, MaxSpeedKmh: 500},
		Abuse: config.AbuseConfig{
			DeviceScanLimit:     100,
			DeviceWindow:        10 * time.Minute,
			DeviceCooldown:      10 * time.Minute,
			CertVelocityCeiling: 100,
			CertVelocityWindow:  time.Hour,
		},
		Challenge: config.ChallengeConfig{
			ResumeTokenTTL: 10 * time.Minute,
			SigningKey:     "pipeline-test-key",
			MaxAttempts:    3,
		},
	}
}

func widePrintEnvelope() config.PrintEnvelope {
	return config.PrintEnvelope{MinLineThickness: 0.1, MaxLineThickness: 20, MaxBreakRate: 1.0, MaxThicknessVar: 5.0}
}

// tagRaster renders a synthetic 96x96 tag: dark corner marks and vertical
// stripes at the given period.
func tagRaster(stripePeriod int) models.ImageSample {
	const size = 96
	img := models.ImageSample{Width: size, Height: size, Gray: make([]byte, size*size)}
	for i := range img.Gray {
		img.Gray[i] = 255
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x%stripePeriod < 3 {
				img.Gray[y*size+x] = 100
			}
		}
	}
	for _, c := range [][2]int{{0, 0}, {size - 12, 0}, {size - 12, size - 12}, {0, size - 12}} {
		for y := c[1]; y < c[1]+12; y++ {
			for x := c[0]; x < c[0]+12; x++ {
				img.Gray[y*size+x] = 0
			}
		}
	}
	return img
}

// flexingFrames vary the stripe period frame to frame, as a fabric tag does,
// with handheld-jittered capture offsets.
func flexingFrames() []models.Frame {
	rng := rand.New(rand.NewSource(11))
	frames := make([]models.Frame, 0, 5)
	offset := 0.0
	for _, period := range []int{6, 8, 10, 12, 14} {
		offset += 80 + rng.Float64()*60
		frames = append(frames, models.Frame{OffsetMS: offset, Image: tagRaster(period)})
	}
	return frames
}

var johannesburg = models.GPSFix{Lat: -26.2041, Lon: 28.0473, AccuracyM: 10}

func (s *PipelineSuite) registerCert(certID string) id.CertificateID {
	cert, err := certmodels.NewCertificate(id.CertificateID(certID), id.SerialNumber("SK-3F9C02D1AB44"), "Denim Jacket", s.now.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Require().NoError(s.certs.Register(s.ctx, cert))
	return cert.ID
}

// genuineSubmission is a fresh, fully well-formed scan that passes every
// pipeline stage. Motion hardware is reported unsupported, so the sensor
// stage contributes only its advisory risk.
func (s *PipelineSuite) genuineSubmission(certID id.CertificateID) *models.ScanSubmission {
	return &models.ScanSubmission{
		SubmissionID:  id.NewSubmissionID(),
		CertificateID: certID,
		TagPayload:    "https://skern.com/verify?id=" + certID.String(),
		CapturedAt:    s.now.Add(-10 * time.Second),
		GPS:           johannesburg,
		Device: models.DeviceSignals{
			UserAgent:     "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			Platform:      "Linux armv8l",
			TouchPoints:   5,
			HardwareCores: 8,
		},
		Camera: models.CameraMeta{FacingMode: "environment", Width: 1280, Height: 720},
		Timing: models.TimingMetrics{
			ScanDuration:      7.5,
			SizeVariation:     0.25,
			MoveCloserStartMS: 0,
			MoveCloserEndMS:   1000,
		},
		Frames: flexingFrames(),
	}
}

func (s *PipelineSuite) TestGenuineScanAccepted() {
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")
	sub := s.genuineSubmission(certID)
	subID := sub.SubmissionID

	decision, err := s.svc.Verify(s.ctx, sub)
	s.Require().NoError(err)

	s.Run("the verdict is authentic", func() {
		s.Equal(models.OutcomeAuthentic, decision.Outcome)
		s.Equal(models.ReasonAllChecksPassed, decision.Reason)
		s.False(decision.Flagged)
		s.Less(decision.FraudScore, 0.40)
	})

	s.Run("the first-scan origin comes back with the decision", func() {
		s.Require().NotNil(decision.FirstScanOrigin)
		s.InDelta(johannesburg.Lat, decision.FirstScanOrigin.Lat, 1e-9)
	})

	s.Run("the verdict is durable", func() {
		r, err := s.results.GetBySubmissionID(s.ctx, subID)
		s.Require().NoError(err)
		s.Equal(models.OutcomeAuthentic, r.Outcome)
		s.True(r.UnderlayPass)
	})

	s.Run("the certificate lifecycle advanced", func() {
		cert, err := s.certs.Get(s.ctx, certID)
		s.Require().NoError(err)
		s.Equal(1, cert.AcceptedScans)
		s.NotNil(cert.FirstScanOrigin)
	})

	s.Run("raw capture data is purged", func() {
		s.Empty(sub.Device.UserAgent)
		s.Nil(sub.Motion)
		for _, f := range sub.Frames {
			s.True(f.Image.IsEmpty())
		}
	})

	s.Run("an accepted-scan audit event published", func() {
		s.Len(s.auditor.EventsOfType(audit.EventScanAccepted), 1)
	})
}

func (s *PipelineSuite) TestIdempotentReplay() {
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")
	sub := s.genuineSubmission(certID)
	subID := sub.SubmissionID

	first, err := s.svc.Verify(s.ctx, sub)
	s.Require().NoError(err)
	s.Require().Equal(models.OutcomeAuthentic, first.Outcome)

	retry := s.genuineSubmission(certID)
	retry.SubmissionID = subID
	second, err := s.svc.Verify(s.ctx, retry)
	s.Require().NoError(err)

	s.Equal(first.Outcome, second.Outcome)
	s.Equal(first.Reason, second.Reason)

	cert, err := s.certs.Get(s.ctx, certID)
	s.Require().NoError(err)
	s.Equal(1, cert.AcceptedScans, "replay must not recount the scan")
}

func (s *PipelineSuite) TestGateShortCircuit() {
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")
	sub := s.genuineSubmission(certID)
	sub.Camera.FacingMode = "user"

	decision, err := s.svc.Verify(s.ctx, sub)
	s.Require().NoError(err)
	s.Equal(models.OutcomeRejected, decision.Outcome)
	s.Equal(models.ReasonCameraFacing, decision.Reason)

	r, err := s.results.GetBySubmissionID(s.ctx, decision.SubmissionID)
	s.Require().NoError(err)
	s.Equal(models.ReasonCameraFacing, r.Reason)
}

func (s *PipelineSuite) TestCertificateResolution() {
	s.Run("unknown certificate is an input rejection", func() {
		sub := s.genuineSubmission(id.CertificateID("CERT-B26A001-000000000000"))
		decision, err := s.svc.Verify(s.ctx, sub)
		s.Require().NoError(err)
		s.Equal(models.OutcomeRejected, decision.Outcome)
		s.Equal(models.ReasonCertificateUnknown, decision.Reason)
	})

	s.Run("revoked certificate rejects", func() {
		certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")
		s.Require().NoError(s.certs.Revoke(s.ctx, certID))

		decision, err := s.svc.Verify(s.ctx, s.genuineSubmission(certID))
		s.Require().NoError(err)
		s.Equal(models.ReasonCertificateRevoked, decision.Reason)
	})
}

func (s *PipelineSuite) TestLivenessRejection() {
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")
	sub := s.genuineSubmission(certID)
	sub.Timing.ScanDuration = 3.0

	decision, err := s.svc.Verify(s.ctx, sub)
	s.Require().NoError(err)
	s.Equal(models.OutcomeRejected, decision.Outcome)
	s.Equal(models.ReasonLivenessRejected, decision.Reason)
}

func (s *PipelineSuite) TestRigidSurfaceRejection() {
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")
	sub := s.genuineSubmission(certID)
	// Identical geometry in every frame: a flat reprint on a rigid surface.
	frames := make([]models.Frame, 5)
	for i := range frames {
		frames[i] = models.Frame{OffsetMS: float64(i)*110 + 13, Image: tagRaster(8)}
	}
	sub.Frames = frames

	decision, err := s.svc.Verify(s.ctx, sub)
	s.Require().NoError(err)
	s.Equal(models.OutcomeRejected, decision.Outcome)
	s.Equal(models.ReasonRigidSurfaceRejected, decision.Reason)
}

func (s *PipelineSuite) TestGeofenceRejection() {
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")
	sub := s.genuineSubmission(certID)
	sub.GPS = models.GPSFix{Lat: 51.5072, Lon: -0.1276, AccuracyM: 10}

	decision, err := s.svc.Verify(s.ctx, sub)
	s.Require().NoError(err)
	s.Equal(models.OutcomeRejected, decision.Outcome)
	s.Equal(models.ReasonGeofenceRejected, decision.Reason)
}

func (s *PipelineSuite) TestImpossibleTravelRejection() {
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")

	first, err := s.svc.Verify(s.ctx, s.genuineSubmission(certID))
	s.Require().NoError(err)
	s.Require().Equal(models.OutcomeAuthentic, first.Outcome)

	// Cape Town one hour later: ~1,270 km at an implied 1,270 km/h.
	later := requestcontext.WithTime(context.Background(), s.now.Add(time.Hour))
	sub := s.genuineSubmission(certID)
	sub.GPS = models.GPSFix{Lat: -33.9249, Lon: 18.4241, AccuracyM: 10}
	sub.CapturedAt = s.now.Add(55 * time.Minute)

	decision, err := s.svc.Verify(later, sub)
	s.Require().NoError(err)
	s.Equal(models.OutcomeRejected, decision.Outcome)
	s.Equal(models.ReasonImpossibleTravelRejected, decision.Reason)
}

// holdFirstReadsRegistry delegates to the real registry but holds the first
// two certificate reads until both have arrived, so two concurrent scans
// observe the same last-scan origin before either persists.
type holdFirstReadsRegistry struct {
	inner CertificateRegistry
	reads atomic.Int32
	both  sync.WaitGroup
}

func (r *holdFirstReadsRegistry) Get(ctx context.Context, certID id.CertificateID) (*certmodels.Certificate, error) {
	if r.reads.Add(1) <= 2 {
		r.both.Done()
		r.both.Wait()
	}
	return r.inner.Get(ctx, certID)
}

func (r *holdFirstReadsRegistry) RecordAcceptedScan(ctx context.Context, certID id.CertificateID, origin models.ScanOrigin, expected *models.ScanOrigin) (*certmodels.Certificate, error) {
	return r.inner.RecordAcceptedScan(ctx, certID, origin, expected)
}

func (s *PipelineSuite) TestConcurrentScansSameCertificate() {
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")

	registry := &holdFirstReadsRegistry{inner: s.certs}
	registry.both.Add(2)

	svc, err := New(s.cfg, Deps{
		Geometry:     s.mustEngine(),
		Scorer:       s.mustScorer(),
		Geo:          geo.NewValidator(s.cfg.Geo),
		Devices:      device.NewService(true),
		Signer:       s.mustSigner(),
		Certificates: registry,
		Abuse:        s.mustAbuse(),
		Results:      resultstore.New(),
		Challenges:   challengestore.New(),
		Runner:       tx.PassthroughRunner{},
	})
	s.Require().NoError(err)

	// Johannesburg and Cape Town at the same instant: ~1,270 km apart.
	subs := []*models.ScanSubmission{s.genuineSubmission(certID), s.genuineSubmission(certID)}
	subs[1].GPS = models.GPSFix{Lat: -33.9249, Lon: 18.4241, AccuracyM: 10}

	decisions := make([]*Decision, len(subs))
	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i := range subs {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			decisions[n], errs[n] = svc.Verify(s.ctx, subs[n])
		}(i)
	}
	wg.Wait()

	var authentic, rejected int
	for i := range decisions {
		s.Require().NoError(errs[i])
		switch decisions[i].Outcome {
		case models.OutcomeAuthentic:
			authentic++
		case models.OutcomeRejected:
			rejected++
			s.Equal(models.ReasonImpossibleTravelRejected, decisions[i].Reason)
		}
	}
	s.Equal(1, authentic, "only one of two far-apart simultaneous scans may pass")
	s.Equal(1, rejected)

	cert, err := s.certs.Get(s.ctx, certID)
	s.Require().NoError(err)
	s.Equal(1, cert.AcceptedScans)
}

func (s *PipelineSuite) TestDeviceCooldown() {
	s.cfg.Abuse.DeviceScanLimit = 1
	s.rebuild()
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")

	first, err := s.svc.Verify(s.ctx, s.genuineSubmission(certID))
	s.Require().NoError(err)
	s.Require().Equal(models.OutcomeAuthentic, first.Outcome)

	decision, err := s.svc.Verify(s.ctx, s.genuineSubmission(certID))
	s.Require().NoError(err)
	s.Equal(models.OutcomeRejected, decision.Outcome)
	s.Equal(models.ReasonCooldownRejected, decision.Reason)
	s.Len(s.auditor.EventsOfType(audit.EventCooldownApplied), 1)
}

func (s *PipelineSuite) TestVelocityFlag() {
	s.cfg.Abuse.CertVelocityCeiling = 1
	s.rebuild()
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")

	first, err := s.svc.Verify(s.ctx, s.genuineSubmission(certID))
	s.Require().NoError(err)
	s.Require().Equal(models.OutcomeAuthentic, first.Outcome)

	decision, err := s.svc.Verify(s.ctx, s.genuineSubmission(certID))
	s.Require().NoError(err)

	s.Run("the scan is accepted but flagged", func() {
		s.Equal(models.OutcomeFlagged, decision.Outcome)
		s.Equal(models.ReasonVelocityFlagged, decision.Reason)
		s.True(decision.Flagged)
	})

	s.Run("flagged scans still advance the lifecycle", func() {
		cert, err := s.certs.Get(s.ctx, certID)
		s.Require().NoError(err)
		s.Equal(2, cert.AcceptedScans)
	})
}

// suspiciousSubmission raises the fraud score into the medium band: no touch
// points and a platform that contradicts the mobile user agent.
func (s *PipelineSuite) suspiciousSubmission(certID id.CertificateID) *models.ScanSubmission {
	sub := s.genuineSubmission(certID)
	sub.Device.TouchPoints = 0
	sub.Device.Platform = "Win32"
	return sub
}

func (s *PipelineSuite) TestChallengeSuspendAndResume() {
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")
	sub := s.suspiciousSubmission(certID)
	subID := sub.SubmissionID

	decision, err := s.svc.Verify(s.ctx, sub)
	s.Require().NoError(err)

	s.Run("the run suspends with a resume token", func() {
		s.Equal(models.OutcomeChallengeRequired, decision.Outcome)
		s.Equal(models.TierMedium, decision.Tier)
		s.NotEmpty(decision.ResumeToken)
		s.Len(s.auditor.EventsOfType(audit.EventChallengeIssued), 1)
	})

	s.Run("no terminal verdict exists while suspended", func() {
		_, err := s.results.GetBySubmissionID(s.ctx, subID)
		s.Error(err)
	})

	answer := ChallengeAnswer{
		ResumeToken: decision.ResumeToken,
		Timing:      models.TimingMetrics{ScanDuration: 7.0, SizeVariation: 0.22},
	}

	s.Run("a passing answer resolves the run", func() {
		resolved, err := s.svc.ResumeChallenge(s.ctx, answer)
		s.Require().NoError(err)
		s.Equal(models.OutcomeAuthentic, resolved.Outcome)
		s.Equal(subID, resolved.SubmissionID)

		cert, err := s.certs.Get(s.ctx, certID)
		s.Require().NoError(err)
		s.Equal(1, cert.AcceptedScans)
	})

	s.Run("the pending challenge is consumed", func() {
		_, err := s.svc.ResumeChallenge(s.ctx, answer)
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})
}

func (s *PipelineSuite) TestChallengeFailure() {
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")
	decision, err := s.svc.Verify(s.ctx, s.suspiciousSubmission(certID))
	s.Require().NoError(err)
	s.Require().Equal(models.OutcomeChallengeRequired, decision.Outcome)

	// A static replay answer: no duration, no size variation.
	resolved, err := s.svc.ResumeChallenge(s.ctx, ChallengeAnswer{
		ResumeToken: decision.ResumeToken,
		Timing:      models.TimingMetrics{ScanDuration: 1.0, SizeVariation: 0.0},
	})
	s.Require().NoError(err)
	s.Equal(models.OutcomeRejected, resolved.Outcome)
	s.Equal(models.ReasonChallengeFailed, resolved.Reason)
	s.Len(s.auditor.EventsOfType(audit.EventChallengeFailed), 1)

	cert, err := s.certs.Get(s.ctx, certID)
	s.Require().NoError(err)
	s.Zero(cert.AcceptedScans)
}

func (s *PipelineSuite) TestExtremeTierNeverPassesInBand() {
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")
	sub := s.suspiciousSubmission(certID)
	sub.Device.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/120.0.0.0 Safari/537.36"
	sub.Device.HardwareCores = 1
	for i := range sub.Frames {
		sub.Frames[i].OffsetMS = float64(i) * 100
	}

	decision, err := s.svc.Verify(s.ctx, sub)
	s.Require().NoError(err)
	s.Require().Equal(models.OutcomeChallengeRequired, decision.Outcome)
	s.Equal(models.TierExtreme, decision.Tier)

	// Even a flawless answer cannot satisfy the extreme tier in-band.
	resolved, err := s.svc.ResumeChallenge(s.ctx, ChallengeAnswer{
		ResumeToken: decision.ResumeToken,
		Timing:      models.TimingMetrics{ScanDuration: 7.5, SizeVariation: 0.25},
		Motion:      []models.MotionSample{{OffsetMS: 100, AccelZ: 1.2}},
	})
	s.Require().NoError(err)
	s.Equal(models.OutcomeRejected, resolved.Outcome)
	s.Equal(models.ReasonChallengeFailed, resolved.Reason)
}

func (s *PipelineSuite) TestResumeTokenValidation() {
	s.Run("garbage token", func() {
		_, err := s.svc.ResumeChallenge(s.ctx, ChallengeAnswer{ResumeToken: "not-a-token"})
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})

	s.Run("expired token", func() {
		certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")
		decision, err := s.svc.Verify(s.ctx, s.suspiciousSubmission(certID))
		s.Require().NoError(err)
		s.Require().Equal(models.OutcomeChallengeRequired, decision.Outcome)

		stale := requestcontext.WithTime(context.Background(), s.now.Add(11*time.Minute))
		_, err = s.svc.ResumeChallenge(stale, ChallengeAnswer{
			ResumeToken: decision.ResumeToken,
			Timing:      models.TimingMetrics{ScanDuration: 7.0, SizeVariation: 0.22},
		})
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})
}

func (s *PipelineSuite) TestPersistenceFailureFailsClosed() {
	certID := s.registerCert("CERT-B26A001-3F9C02D1AB44")

	svc, err := New(s.cfg, Deps{
		Geometry:     s.mustEngine(),
		Scorer:       s.mustScorer(),
		Geo:          geo.NewValidator(s.cfg.Geo),
		Devices:      device.NewService(true),
		Signer:       s.mustSigner(),
		Certificates: s.certs,
		Abuse:        s.mustAbuse(),
		Results:      failingResultStore{},
		Challenges:   challengestore.New(),
		Runner:       tx.PassthroughRunner{},
	})
	s.Require().NoError(err)

	_, err = svc.Verify(s.ctx, s.genuineSubmission(certID))
	s.Require().Error(err)
	s.Equal(dErrors.CodeUnavailable, dErrors.CodeOf(err))
}

func (s *PipelineSuite) mustEngine() *geometry.Engine {
	e, err := geometry.New(s.cfg.Geometry)
	s.Require().NoError(err)
	return e
}

func (s *PipelineSuite) mustScorer() *risk.Scorer {
	sc, err := risk.NewScorer(s.cfg.Risk)
	s.Require().NoError(err)
	return sc
}

func (s *PipelineSuite) mustSigner() *challenge.TokenSigner {
	sig, err := challenge.NewTokenSigner(s.cfg.Challenge.SigningKey, s.cfg.Challenge.ResumeTokenTTL)
	s.Require().NoError(err)
	return sig
}

func (s *PipelineSuite) mustAbuse() *abuseservice.Service {
	a, err := abuseservice.New(devicestore.New(), velocitystore.New(), s.cfg.Abuse)
	s.Require().NoError(err)
	return a
}

type failingResultStore struct{}

func (failingResultStore) Create(ctx context.Context, r *models.VerificationResult) error {
	return dErrors.New(dErrors.CodeInternal, "write refused")
}

func (failingResultStore) GetBySubmissionID(ctx context.Context, subID id.SubmissionID) (*models.VerificationResult, error) {
	return nil, sentinel.ErrNotFound
}
