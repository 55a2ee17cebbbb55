// Package service is the decision orchestrator. It walks a submission
// through the fixed pipeline order, short-circuits on the first hard failure,
// suspends on the challenge ladder, and persists every terminal verdict
// atomically before answering. Raw frames, motion, and fingerprint material
// are purged before any return path.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	abusesvc "skern/internal/abuse/service"
	"skern/internal/audit"
	certmodels "skern/internal/certificate/models"
	"skern/internal/platform/config"
	"skern/internal/verification/challenge"
	"skern/internal/verification/device"
	"skern/internal/verification/gate"
	"skern/internal/verification/geo"
	"skern/internal/verification/geometry"
	"skern/internal/verification/liveness"
	"skern/internal/verification/metrics"
	"skern/internal/verification/models"
	"skern/internal/verification/risk"
	"skern/internal/verification/sensor"
	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"
	"skern/pkg/platform/sentinel"
	"skern/pkg/platform/tx"
	"skern/pkg/requestcontext"
)

// ResultStore persists terminal verdicts.
type ResultStore interface {
	Create(ctx context.Context, r *models.VerificationResult) error
	GetBySubmissionID(ctx context.Context, subID id.SubmissionID) (*models.VerificationResult, error)
}

// ChallengeStore holds suspended runs keyed by submission id.
type ChallengeStore interface {
	Put(ctx context.Context, c *models.PendingChallenge) error
	Get(ctx context.Context, subID id.SubmissionID, now time.Time) (*models.PendingChallenge, error)
	Delete(ctx context.Context, subID id.SubmissionID) error
	IncrementAttempts(ctx context.Context, subID id.SubmissionID) (int, error)
}

// CertificateRegistry is the certificate lifecycle port.
type CertificateRegistry interface {
	Get(ctx context.Context, certID id.CertificateID) (*certmodels.Certificate, error)
	RecordAcceptedScan(ctx context.Context, certID id.CertificateID, origin models.ScanOrigin, expected *models.ScanOrigin) (*certmodels.Certificate, error)
}

// AbuseTracker counts attempts and enforces cooldowns.
type AbuseTracker interface {
	RecordDeviceScan(ctx context.Context, hash id.DeviceHash) (*abusesvc.DeviceDecision, error)
	RecordCertificateScan(ctx context.Context, certID id.CertificateID) (bool, error)
}

// Decision is the orchestrator's answer for one submission.
type Decision struct {
	SubmissionID  id.SubmissionID
	CertificateID id.CertificateID
	Outcome       models.Outcome
	Reason        models.ReasonCode
	FraudScore    float64
	Flagged       bool

	// Challenge fields, set only on OutcomeChallengeRequired.
	Tier               models.ChallengeTier
	ResumeToken        string
	ChallengeExpiresAt time.Time

	// FirstScanOrigin is set on accepted outcomes.
	FirstScanOrigin *models.ScanOrigin
}

// ChallengeAnswer is the client's response to an issued challenge: a fresh
// guided gesture with its timing and motion capture.
type ChallengeAnswer struct {
	ResumeToken string                `json:"resume_token"`
	Timing      models.TimingMetrics  `json:"timing"`
	Motion      []models.MotionSample `json:"motion,omitempty"`
}

type Service struct {
	cfg config.Config

	geometry *geometry.Engine
	scorer   *risk.Scorer
	geo      *geo.Validator
	devices  *device.Service
	signer   *challenge.TokenSigner

	certs      CertificateRegistry
	abuse      AbuseTracker
	results    ResultStore
	challenges ChallengeStore
	runner     tx.Runner

	auditor audit.Publisher
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(p audit.Publisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

type Deps struct {
	Geometry     *geometry.Engine
	Scorer       *risk.Scorer
	Geo          *geo.Validator
	Devices      *device.Service
	Signer       *challenge.TokenSigner
	Certificates CertificateRegistry
	Abuse        AbuseTracker
	Results      ResultStore
	Challenges   ChallengeStore
	Runner       tx.Runner
}

func New(cfg config.Config, deps Deps, opts ...Option) (*Service, error) {
	switch {
	case deps.Geometry == nil:
		return nil, errors.New("geometry engine is required")
	case deps.Scorer == nil:
		return nil, errors.New("risk scorer is required")
	case deps.Geo == nil:
		return nil, errors.New("geo validator is required")
	case deps.Devices == nil:
		return nil, errors.New("device service is required")
	case deps.Signer == nil:
		return nil, errors.New("token signer is required")
	case deps.Certificates == nil:
		return nil, errors.New("certificate registry is required")
	case deps.Abuse == nil:
		return nil, errors.New("abuse tracker is required")
	case deps.Results == nil:
		return nil, errors.New("result store is required")
	case deps.Challenges == nil:
		return nil, errors.New("challenge store is required")
	case deps.Runner == nil:
		return nil, errors.New("tx runner is required")
	}

	svc := &Service{
		cfg:        cfg,
		geometry:   deps.Geometry,
		scorer:     deps.Scorer,
		geo:        deps.Geo,
		devices:    deps.Devices,
		signer:     deps.Signer,
		certs:      deps.Certificates,
		abuse:      deps.Abuse,
		results:    deps.Results,
		challenges: deps.Challenges,
		runner:     deps.Runner,
		auditor:    audit.NopPublisher{},
		tracer:     otel.Tracer("skern/verification"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Verify runs one submission through the pipeline. Every return path leaves
// the submission purged of raw capture data.
func (s *Service) Verify(ctx context.Context, sub *models.ScanSubmission) (*Decision, error) {
	defer sub.Purge()

	ctx, span := s.tracer.Start(ctx, "verification.verify")
	defer span.End()

	now := requestcontext.Now(ctx)

	// Idempotency: a retry of an already decided submission replays the
	// stored verdict without recounting anything.
	if prior, err := s.results.GetBySubmissionID(ctx, sub.SubmissionID); err == nil {
		return decisionFromResult(prior), nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check prior result")
	}

	// Stage 1: gate.
	if v := s.runGate(ctx, sub); v != nil {
		return s.persistTerminal(ctx, terminalInput(sub, v.Reason), nil, nil)
	}

	// Certificate resolution. Unknown ids are input errors, not forgeries.
	cert, reason, err := s.resolveCertificate(ctx, sub.CertificateID)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return s.persistTerminal(ctx, terminalInput(sub, reason), nil, nil)
	}

	// Abuse counters increment before any verdict exists, so failed and
	// challenged attempts consume quota.
	fingerprint := s.devices.ComputeFingerprint(sub.Device)
	deviceDecision, err := s.abuse.RecordDeviceScan(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	velocityFlagged, err := s.abuse.RecordCertificateScan(ctx, sub.CertificateID)
	if err != nil {
		return nil, err
	}
	if !deviceDecision.Allowed {
		s.publishAudit(ctx, audit.EventCooldownApplied, sub.SubmissionID, sub.CertificateID, fingerprint, models.ReasonCooldownRejected, 0)
		return s.persistTerminal(ctx, terminalRejection(sub, fingerprint, models.ReasonCooldownRejected, 0, false), nil, nil)
	}

	// Stage 2: liveness.
	liveResult := s.runLiveness(ctx, sub)
	if !liveResult.OK {
		return s.persistTerminal(ctx, terminalRejection(sub, fingerprint, liveResult.Reason, 0, false), nil, nil)
	}

	// Stage 3: underlay geometry.
	assessment, geomReason, err := s.runGeometry(ctx, sub)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "underlay analysis failed")
	}
	if geomReason != "" {
		return s.persistTerminal(ctx, terminalRejection(sub, fingerprint, geomReason, 0, false), nil, nil)
	}

	// Stage 4: sensor correlation.
	sensorResult := s.runSensor(ctx, sub)
	if !sensorResult.OK {
		return s.persistTerminal(ctx, terminalRejection(sub, fingerprint, sensorResult.Reason, 0, false), nil, nil)
	}

	// Stage 5: risk scoring and the challenge ladder.
	score, tier := s.runRisk(ctx, sub, sensorResult.RiskContribution)
	if tier.RequiresChallenge() {
		return s.suspend(ctx, sub, fingerprint, score, tier, assessment.UnderlayPass, velocityFlagged, now)
	}

	// Stage 6: geospatial, then decide and persist. The travel check and the
	// lifecycle write form one atomic unit per certificate: the write is
	// conditional on the last-scan origin the check ran against, and a lost
	// race re-runs the check on the origin actually stored.
	for {
		if geoReason := s.runGeo(ctx, sub.GPS, sub.CapturedAt, cert.LastScanOrigin); geoReason != "" {
			return s.persistTerminal(ctx, terminalRejection(sub, fingerprint, geoReason, score.Score, assessment.UnderlayPass), nil, nil)
		}

		origin := models.ScanOrigin{Timestamp: now, Lat: sub.GPS.Lat, Lon: sub.GPS.Lon, AccuracyM: sub.GPS.AccuracyM}
		t := terminalAccepted(sub, fingerprint, score.Score, assessment.UnderlayPass, velocityFlagged)
		decision, err := s.persistTerminal(ctx, t, &origin, cert.LastScanOrigin)
		if err == nil || !errors.Is(err, sentinel.ErrStale) {
			return decision, err
		}
		cert, err = s.certs.Get(ctx, sub.CertificateID)
		if err != nil {
			return nil, err
		}
	}
}

// ResumeChallenge re-enters a suspended run after the client answers its
// challenge. Resume attempts count toward the device cooldown window exactly
// like fresh scans.
func (s *Service) ResumeChallenge(ctx context.Context, answer ChallengeAnswer) (*Decision, error) {
	ctx, span := s.tracer.Start(ctx, "verification.resume")
	defer span.End()

	now := requestcontext.Now(ctx)
	if s.metrics != nil {
		s.metrics.IncrementChallengesResumed()
	}

	subID, err := s.signer.Verify(answer.ResumeToken, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrExpired) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "resume token expired")
		}
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid resume token")
	}

	pending, err := s.challenges.Get(ctx, subID, now)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeInvalidInput, "no pending challenge for submission")
		case errors.Is(err, sentinel.ErrExpired):
			return nil, dErrors.New(dErrors.CodeInvalidInput, "challenge window has closed")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pending challenge")
		}
	}

	attempts, err := s.challenges.IncrementAttempts(ctx, subID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count challenge attempt")
	}

	deviceDecision, err := s.abuse.RecordDeviceScan(ctx, pending.DeviceHash)
	if err != nil {
		return nil, err
	}
	if !deviceDecision.Allowed {
		return s.resolvePending(ctx, pending, models.OutcomeRejected, models.ReasonCooldownRejected, nil, nil)
	}

	if attempts > s.cfg.Challenge.MaxAttempts {
		return s.resolvePending(ctx, pending, models.OutcomeRejected, models.ReasonChallengeFailed, nil, nil)
	}

	if !s.challengePassed(pending.Tier, answer) {
		s.publishAudit(ctx, audit.EventChallengeFailed, pending.SubmissionID, pending.CertificateID, pending.DeviceHash, models.ReasonChallengeFailed, pending.FraudScore.Score)
		return s.resolvePending(ctx, pending, models.OutcomeRejected, models.ReasonChallengeFailed, nil, nil)
	}

	// Re-enter the pipeline after the risk stage: geospatial, then decide.
	// Same atomic unit as the direct path: the lifecycle write is conditional
	// on the origin the travel check saw.
	cert, err := s.certs.Get(ctx, pending.CertificateID)
	if err != nil {
		return nil, err
	}
	for {
		if geoReason := s.runGeo(ctx, pending.GPS, pending.CapturedAt, cert.LastScanOrigin); geoReason != "" {
			return s.resolvePending(ctx, pending, models.OutcomeRejected, geoReason, nil, nil)
		}

		origin := models.ScanOrigin{Timestamp: now, Lat: pending.GPS.Lat, Lon: pending.GPS.Lon, AccuracyM: pending.GPS.AccuracyM}
		outcome, reason := models.OutcomeAuthentic, models.ReasonAllChecksPassed
		if pending.VelocityFlagged {
			outcome, reason = models.OutcomeFlagged, models.ReasonVelocityFlagged
		}
		decision, err := s.resolvePending(ctx, pending, outcome, reason, &origin, cert.LastScanOrigin)
		if err == nil || !errors.Is(err, sentinel.ErrStale) {
			return decision, err
		}
		cert, err = s.certs.Get(ctx, pending.CertificateID)
		if err != nil {
			return nil, err
		}
	}
}

// challengePassed evaluates the answer against the tier's requirement. The
// medium tier demands a fresh liveness gesture; high additionally requires
// real motion capture; extreme is never satisfiable in-band and resolves
// through manual review.
func (s *Service) challengePassed(tier models.ChallengeTier, answer ChallengeAnswer) bool {
	switch tier {
	case models.TierMedium:
		return liveness.Analyze(answer.Timing, s.cfg.Liveness).OK
	case models.TierHigh:
		return liveness.Analyze(answer.Timing, s.cfg.Liveness).OK && len(answer.Motion) > 0
	default:
		return false
	}
}

func (s *Service) suspend(ctx context.Context, sub *models.ScanSubmission, fingerprint id.DeviceHash, score models.FraudScore, tier models.ChallengeTier, underlayPass, velocityFlagged bool, now time.Time) (*Decision, error) {
	expiresAt := now.Add(s.cfg.Challenge.ResumeTokenTTL)
	pending, err := models.NewPendingChallenge(sub.SubmissionID, sub.CertificateID, tier, now, expiresAt)
	if err != nil {
		return nil, err
	}
	pending.DeviceHash = fingerprint
	pending.FraudScore = score
	pending.GPS = sub.GPS
	pending.CapturedAt = sub.CapturedAt
	pending.DeviceCategory = device.Category(sub.Device)
	pending.ScreenCategory = device.ScreenCategory(sub.Device)
	pending.TimezoneOffsetMin = sub.Device.TimezoneOffsetMin
	pending.OrientationType = sub.Device.OrientationType
	pending.NetworkClass = sub.Device.NetworkClass
	pending.UnderlayPass = underlayPass
	pending.VelocityFlagged = velocityFlagged

	if err := s.challenges.Put(ctx, pending); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store pending challenge")
	}

	token, err := s.signer.Mint(sub.SubmissionID, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint resume token")
	}

	if s.metrics != nil {
		s.metrics.IncrementChallengesIssued()
	}
	s.publishAudit(ctx, audit.EventChallengeIssued, sub.SubmissionID, sub.CertificateID, fingerprint, models.ReasonChallengeRequired, score.Score)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "challenge issued",
			"submission_id", sub.SubmissionID.String(),
			"tier", string(tier),
			"fraud_score", score.Score,
		)
	}

	return &Decision{
		SubmissionID:       sub.SubmissionID,
		CertificateID:      sub.CertificateID,
		Outcome:            models.OutcomeChallengeRequired,
		Reason:             models.ReasonChallengeRequired,
		FraudScore:         score.Score,
		Tier:               tier,
		ResumeToken:        token,
		ChallengeExpiresAt: expiresAt,
	}, nil
}

// terminal is everything needed to persist one verdict.
type terminal struct {
	subID          id.SubmissionID
	certID         id.CertificateID
	outcome        models.Outcome
	reason         models.ReasonCode
	fraudScore     float64
	underlayPass   bool
	flagged        bool
	gps            models.GPSFix
	deviceHash     id.DeviceHash
	deviceCategory string
	screenCategory string
	tzOffsetMin    int
	orientation    string
	networkClass   string
}

func terminalInput(sub *models.ScanSubmission, reason models.ReasonCode) terminal {
	return terminal{
		subID:          sub.SubmissionID,
		certID:         sub.CertificateID,
		outcome:        models.OutcomeRejected,
		reason:         reason,
		gps:            sub.GPS,
		deviceCategory: device.Category(sub.Device),
		screenCategory: device.ScreenCategory(sub.Device),
		tzOffsetMin:    sub.Device.TimezoneOffsetMin,
		orientation:    sub.Device.OrientationType,
		networkClass:   sub.Device.NetworkClass,
	}
}

func terminalRejection(sub *models.ScanSubmission, hash id.DeviceHash, reason models.ReasonCode, score float64, underlayPass bool) terminal {
	t := terminalInput(sub, reason)
	t.deviceHash = hash
	t.fraudScore = score
	t.underlayPass = underlayPass
	return t
}

func terminalAccepted(sub *models.ScanSubmission, hash id.DeviceHash, score float64, underlayPass, velocityFlagged bool) terminal {
	t := terminalRejection(sub, hash, models.ReasonAllChecksPassed, score, underlayPass)
	t.outcome = models.OutcomeAuthentic
	if velocityFlagged {
		t.outcome = models.OutcomeFlagged
		t.reason = models.ReasonVelocityFlagged
		t.flagged = true
	}
	return t
}

// persistTerminal writes the verdict and, for accepted outcomes, the
// certificate lifecycle update in one atomic unit. The lifecycle write runs
// first and is conditional on expected matching the stored last-scan origin;
// ErrStale surfaces to the caller before any verdict exists. Any persistence
// failure fails the whole request; no partial state survives.
func (s *Service) persistTerminal(ctx context.Context, t terminal, origin, expected *models.ScanOrigin) (*Decision, error) {
	now := requestcontext.Now(ctx)

	result, err := models.NewVerificationResult(t.subID, t.certID, t.outcome, t.reason, now)
	if err != nil {
		return nil, err
	}
	result.Lat = t.gps.Lat
	result.Lon = t.gps.Lon
	result.AccuracyM = t.gps.AccuracyM
	result.DeviceCategory = t.deviceCategory
	result.ScreenCategory = t.screenCategory
	result.TimezoneOffsetMin = t.tzOffsetMin
	result.OrientationType = t.orientation
	result.NetworkClass = t.networkClass
	result.FraudScore = t.fraudScore
	result.UnderlayPass = t.underlayPass
	result.Flagged = t.flagged

	var firstOrigin *models.ScanOrigin
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if t.outcome.IsAccepted() && origin != nil {
			cert, err := s.certs.RecordAcceptedScan(txCtx, t.certID, *origin, expected)
			if err != nil {
				return err
			}
			firstOrigin = cert.FirstScanOrigin
		}
		return s.results.Create(txCtx, result)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrStale) {
			return nil, err
		}
		if errors.Is(err, sentinel.ErrConflict) {
			// A concurrent retry won the race; replay its verdict.
			if prior, getErr := s.results.GetBySubmissionID(ctx, t.subID); getErr == nil {
				return decisionFromResult(prior), nil
			}
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to persist verification result")
	}

	s.recordTerminal(ctx, t)

	return &Decision{
		SubmissionID:    t.subID,
		CertificateID:   t.certID,
		Outcome:         t.outcome,
		Reason:          t.reason,
		FraudScore:      t.fraudScore,
		Flagged:         t.flagged,
		FirstScanOrigin: firstOrigin,
	}, nil
}

// resolvePending persists the final verdict for a suspended run and removes
// the pending challenge.
func (s *Service) resolvePending(ctx context.Context, pending *models.PendingChallenge, outcome models.Outcome, reason models.ReasonCode, origin, expected *models.ScanOrigin) (*Decision, error) {
	t := terminal{
		subID:          pending.SubmissionID,
		certID:         pending.CertificateID,
		outcome:        outcome,
		reason:         reason,
		fraudScore:     pending.FraudScore.Score,
		underlayPass:   pending.UnderlayPass,
		flagged:        outcome == models.OutcomeFlagged,
		gps:            pending.GPS,
		deviceHash:     pending.DeviceHash,
		deviceCategory: pending.DeviceCategory,
		screenCategory: pending.ScreenCategory,
		tzOffsetMin:    pending.TimezoneOffsetMin,
		orientation:    pending.OrientationType,
		networkClass:   pending.NetworkClass,
	}

	decision, err := s.persistTerminal(ctx, t, origin, expected)
	if err != nil {
		return nil, err
	}
	if err := s.challenges.Delete(ctx, pending.SubmissionID); err != nil {
		// The verdict is already durable; a dangling pending entry only
		// expires.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to delete resolved challenge",
				"submission_id", pending.SubmissionID.String(), "error", err)
		}
	}
	return decision, nil
}

func (s *Service) recordTerminal(ctx context.Context, t terminal) {
	if s.metrics != nil {
		s.metrics.RecordOutcome(string(t.outcome), string(t.reason))
	}

	eventType := audit.EventScanAccepted
	switch {
	case t.outcome == models.OutcomeRejected:
		eventType = audit.EventScanRejected
	case t.flagged:
		eventType = audit.EventScanFlagged
	}
	s.publishAudit(ctx, eventType, t.subID, t.certID, t.deviceHash, t.reason, t.fraudScore)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "verification decided",
			"submission_id", t.subID.String(),
			"certificate_id", t.certID.String(),
			"outcome", string(t.outcome),
			"reason", string(t.reason),
			"fraud_score", t.fraudScore,
		)
	}
}

func (s *Service) publishAudit(ctx context.Context, eventType audit.EventType, subID id.SubmissionID, certID id.CertificateID, hash id.DeviceHash, reason models.ReasonCode, score float64) {
	s.auditor.Publish(ctx, audit.Event{
		Type:          eventType,
		OccurredAt:    requestcontext.Now(ctx),
		SubmissionID:  subID,
		CertificateID: certID,
		DeviceHash:    hash,
		Reason:        string(reason),
		FraudScore:    score,
	})
}

func (s *Service) resolveCertificate(ctx context.Context, certID id.CertificateID) (*certmodels.Certificate, models.ReasonCode, error) {
	cert, err := s.certs.Get(ctx, certID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, models.ReasonCertificateUnknown, nil
		}
		return nil, "", err
	}
	if cert.Status == certmodels.StatusRevoked {
		return nil, models.ReasonCertificateRevoked, nil
	}
	return cert, "", nil
}

// Stage wrappers: one span and one latency observation per stage.

func (s *Service) runGate(ctx context.Context, sub *models.ScanSubmission) *gate.Violation {
	_, span := s.tracer.Start(ctx, "stage.gate")
	defer span.End()
	defer s.observeStage("gate", time.Now())
	return gate.Validate(sub)
}

func (s *Service) runLiveness(ctx context.Context, sub *models.ScanSubmission) liveness.Result {
	_, span := s.tracer.Start(ctx, "stage.liveness")
	defer span.End()
	defer s.observeStage("liveness", time.Now())
	return liveness.Analyze(sub.Timing, s.cfg.Liveness)
}

func (s *Service) runGeometry(ctx context.Context, sub *models.ScanSubmission) (*models.GeometryAssessment, models.ReasonCode, error) {
	ctx, span := s.tracer.Start(ctx, "stage.geometry")
	defer span.End()
	defer s.observeStage("geometry", time.Now())
	return s.geometry.Analyze(ctx, sub)
}

func (s *Service) runSensor(ctx context.Context, sub *models.ScanSubmission) sensor.Result {
	_, span := s.tracer.Start(ctx, "stage.sensor")
	defer span.End()
	defer s.observeStage("sensor", time.Now())
	return sensor.Correlate(sub, s.cfg.Sensor)
}

func (s *Service) runRisk(ctx context.Context, sub *models.ScanSubmission, sensorRisk float64) (models.FraudScore, models.ChallengeTier) {
	_, span := s.tracer.Start(ctx, "stage.risk")
	defer span.End()
	defer s.observeStage("risk", time.Now())
	score := s.scorer.Score(sub, sensorRisk)
	return score, s.scorer.Tier(score.Score)
}

func (s *Service) runGeo(ctx context.Context, fix models.GPSFix, at time.Time, last *models.ScanOrigin) models.ReasonCode {
	_, span := s.tracer.Start(ctx, "stage.geo")
	defer span.End()
	defer s.observeStage("geo", time.Now())
	return s.geo.Check(fix, at, last)
}

func (s *Service) observeStage(stage string, started time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveStage(stage, time.Since(started))
	}
}

// decisionFromResult replays a stored verdict for an idempotent retry.
func decisionFromResult(r *models.VerificationResult) *Decision {
	return &Decision{
		SubmissionID:  r.SubmissionID,
		CertificateID: r.CertificateID,
		Outcome:       r.Outcome,
		Reason:        r.Reason,
		FraudScore:    r.FraudScore,
		Flagged:       r.Flagged,
	}
}
