package httptransport

import (
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	abuseservice "skern/internal/abuse/service"
	devicestore "skern/internal/abuse/store/device"
	velocitystore "skern/internal/abuse/store/velocity"
	certhandler "skern/internal/certificate/handler"
	certservice "skern/internal/certificate/service"
	certstore "skern/internal/certificate/store"
	"skern/internal/platform/config"
	taghandler "skern/internal/tag/handler"
	tagservice "skern/internal/tag/service"
	tagstore "skern/internal/tag/store"
	"skern/internal/verification/challenge"
	"skern/internal/verification/device"
	"skern/internal/verification/geo"
	"skern/internal/verification/geometry"
	verifyhandler "skern/internal/verification/handler"
	"skern/internal/verification/risk"
	verifservice "skern/internal/verification/service"
	challengestore "skern/internal/verification/store/challenge"
	resultstore "skern/internal/verification/store/result"
	"skern/pkg/platform/middleware/issuer"
	"skern/pkg/platform/tx"
	"skern/pkg/testutil"
)

const testIssuerToken = "router-test-token"

type RouterSuite struct {
	suite.Suite
	checks map[string]func() error
	router http.Handler
}

func (s *RouterSuite) SetupTest() {
	cfg := config.Config{
		Liveness: config.LivenessConfig{MinScanDuration: 5 * time.Second, MinSizeVariation: 0.15, MaxSizeVariation: 0.40},
		Geometry: config.GeometryConfig{
			MinDetectionRatio:        0.90,
			MinCurvatureVariance:     0.05,
			PrintEnvelope:            config.PrintEnvelope{MinLineThickness: 1.2, MaxLineThickness: 4.5, MaxBreakRate: 0.25, MaxThicknessVar: 0.6},
			AdaptiveMinResolution:    1280,
			AdaptiveMaxResolution:    1920,
			AdaptiveMinDetection:     0.80,
			AdaptiveMinCurvature:     0.03,
			AdaptivePrintEnvelope:    config.PrintEnvelope{MinLineThickness: 0.8, MaxLineThickness: 6.0, MaxBreakRate: 0.40, MaxThicknessVar: 0.85},
			FrameAnalysisConcurrency: 2,
		},
		Sensor: config.SensorConfig{MinCorrelation: 0.35, MinPoseDelta: 0.05},
		Risk: config.RiskConfig{
			TouchWeight: 0.20, UAWeight: 0.30, CoreWeight: 0.15, MotionWeight: 0.15, TimingWeight: 0.20,
			TierThresholds: config.TierThresholds{Medium: 0.40, High: 0.70, Extreme: 0.90},
		},
		Geo: config.GeoConfig{MinLat: -35, MaxLat: -22, MinLon: 16.3, MaxLon: 33, MaxSpeedKmh: 500},
		Abuse: config.AbuseConfig{
			DeviceScanLimit: 3, DeviceWindow: 10 * time.Minute, DeviceCooldown: 10 * time.Minute,
			CertVelocityCeiling: 25, CertVelocityWindow: time.Hour,
		},
		Challenge: config.ChallengeConfig{ResumeTokenTTL: 10 * time.Minute, SigningKey: "router-test-key", MaxAttempts: 3},
		Issuance:  config.IssuanceConfig{MasterSecret: "router-test-secret", APIToken: testIssuerToken, MaxBatchSize: 100},
	}

	logger := slog.New(slog.DiscardHandler)

	certs, err := certservice.New(certstore.NewMemory())
	s.Require().NoError(err)
	abuse, err := abuseservice.New(devicestore.New(), velocitystore.New(), cfg.Abuse)
	s.Require().NoError(err)
	tags, err := tagservice.New(certs, tagstore.NewMemory(), cfg.Issuance)
	s.Require().NoError(err)

	engine, err := geometry.New(cfg.Geometry)
	s.Require().NoError(err)
	scorer, err := risk.NewScorer(cfg.Risk)
	s.Require().NoError(err)
	signer, err := challenge.NewTokenSigner(cfg.Challenge.SigningKey, cfg.Challenge.ResumeTokenTTL)
	s.Require().NoError(err)

	verifier, err := verifservice.New(cfg, verifservice.Deps{
		Geometry:     engine,
		Scorer:       scorer,
		Geo:          geo.NewValidator(cfg.Geo),
		Devices:      device.NewService(true),
		Signer:       signer,
		Certificates: certs,
		Abuse:        abuse,
		Results:      resultstore.New(),
		Challenges:   challengestore.New(),
		Runner:       tx.PassthroughRunner{},
	})
	s.Require().NoError(err)

	s.checks = map[string]func() error{"store": func() error { return nil }}
	s.router = NewRouter(Deps{
		Verification: verifyhandler.New(verifier, logger),
		Certificates: certhandler.New(certs, logger),
		Tags:         taghandler.New(tags, logger),
		IssuerToken:  testIssuerToken,
		Logger:       logger,
		HealthChecks: s.checks,
	})
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) TestHealth() {
	s.Run("healthy checks report ok", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "status", "ok")
	})

	s.Run("a failing check degrades", func() {
		s.checks["store"] = func() error { return errors.New("connection refused") }
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
		testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
		testutil.AssertJSONContains(s.T(), rr, "status", "degraded")
	})
}

func (s *RouterSuite) TestMetricsExposed() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(s.T(), rr)
}

func (s *RouterSuite) TestRequestIDEchoed() {
	req := testutil.NewRequest(s.T(), http.MethodGet, "/healthz")
	req.Header.Set("X-Request-ID", "req-42")
	rr := testutil.DoRequest(s.router, req)
	s.Equal("req-42", rr.Header().Get("X-Request-ID"))
}

func (s *RouterSuite) TestOpenRoutesNeedNoToken() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/certificates/CERT-B26A001-000000000000"))
	testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
}

func (s *RouterSuite) TestIssuanceGuard() {
	body := taghandler.IssueRequest{BatchCode: "B26A001", ProductName: "Denim Jacket", Count: 1}

	s.Run("missing token is unauthorized", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/tags/issue", body))
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})

	s.Run("wrong token is unauthorized", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/tags/issue", body)
		req.Header.Set(issuer.Header, "wrong")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})

	s.Run("the issuer token admits the request", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/tags/issue", body)
		req.Header.Set(issuer.Header, testIssuerToken)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	})
}
