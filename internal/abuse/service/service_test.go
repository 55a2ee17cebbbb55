package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	devicestore "skern/internal/abuse/store/device"
	velocitystore "skern/internal/abuse/store/velocity"
	"skern/internal/platform/config"
	id "skern/pkg/domain"
	"skern/pkg/requestcontext"
)

type AbuseServiceSuite struct {
	suite.Suite
	svc *Service
	now time.Time
}

func (s *AbuseServiceSuite) SetupTest() {
	svc, err := New(devicestore.New(), velocitystore.New(), config.AbuseConfig{
		DeviceScanLimit:     3,
		DeviceWindow:        10 * time.Minute,
		DeviceCooldown:      30 * time.Minute,
		CertVelocityWindow:  time.Hour,
		CertVelocityCeiling: 5,
	})
	s.Require().NoError(err)
	s.svc = svc
	s.now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

func TestAbuseServiceSuite(t *testing.T) {
	suite.Run(t, new(AbuseServiceSuite))
}

func (s *AbuseServiceSuite) ctxAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

const deviceA = id.DeviceHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

func (s *AbuseServiceSuite) TestNewValidation() {
	_, err := New(nil, velocitystore.New(), config.AbuseConfig{DeviceScanLimit: 1, DeviceWindow: time.Minute})
	s.Error(err)

	_, err = New(devicestore.New(), nil, config.AbuseConfig{DeviceScanLimit: 1, DeviceWindow: time.Minute})
	s.Error(err)

	_, err = New(devicestore.New(), velocitystore.New(), config.AbuseConfig{DeviceScanLimit: 0, DeviceWindow: time.Minute})
	s.Error(err)
}

func (s *AbuseServiceSuite) TestDeviceCooldownPolicy() {
	ctx := s.ctxAt(s.now)

	s.Run("empty hash always passes", func() {
		d, err := s.svc.RecordDeviceScan(ctx, id.DeviceHash(""))
		s.Require().NoError(err)
		s.True(d.Allowed)
	})

	s.Run("scans inside the limit pass", func() {
		for i := 1; i <= 3; i++ {
			d, err := s.svc.RecordDeviceScan(ctx, deviceA)
			s.Require().NoError(err)
			s.True(d.Allowed)
			s.Equal(i, d.ScanCount)
		}
	})

	s.Run("the scan past the limit applies a cooldown and rejects", func() {
		d, err := s.svc.RecordDeviceScan(ctx, deviceA)
		s.Require().NoError(err)
		s.False(d.Allowed)
		s.Equal(4, d.ScanCount)
		s.Equal(30*time.Minute, d.RetryAfter)
	})

	s.Run("scans during the cooldown reject with the remaining time", func() {
		later := s.ctxAt(s.now.Add(10 * time.Minute))
		d, err := s.svc.RecordDeviceScan(later, deviceA)
		s.Require().NoError(err)
		s.False(d.Allowed)
		s.Equal(20*time.Minute, d.RetryAfter)
	})

	s.Run("after the cooldown the device scans again", func() {
		after := s.ctxAt(s.now.Add(31 * time.Minute))
		d, err := s.svc.RecordDeviceScan(after, deviceA)
		s.Require().NoError(err)
		s.True(d.Allowed)
		s.Equal(1, d.ScanCount, "stale window resets the counter")
	})
}

func (s *AbuseServiceSuite) TestCertificateVelocity() {
	ctx := s.ctxAt(s.now)
	certID := id.CertificateID("CERT-B26A001-3F9C02D1AB44")

	s.Run("scans under the ceiling are not flagged", func() {
		for i := 0; i < 5; i++ {
			flagged, err := s.svc.RecordCertificateScan(ctx, certID)
			s.Require().NoError(err)
			s.False(flagged)
		}
	})

	s.Run("breaching the ceiling flags without rejecting", func() {
		flagged, err := s.svc.RecordCertificateScan(ctx, certID)
		s.Require().NoError(err)
		s.True(flagged)
	})

	s.Run("the window eventually resets", func() {
		later := s.ctxAt(s.now.Add(2 * time.Hour))
		flagged, err := s.svc.RecordCertificateScan(later, certID)
		s.Require().NoError(err)
		s.False(flagged)
	})
}

func (s *AbuseServiceSuite) TestPurgeExpired() {
	ctx := s.ctxAt(s.now)
	_, err := s.svc.RecordDeviceScan(ctx, deviceA)
	s.Require().NoError(err)
	_, err = s.svc.RecordCertificateScan(ctx, id.CertificateID("CERT-B26A001-3F9C02D1AB44"))
	s.Require().NoError(err)

	removed, err := s.svc.PurgeExpired(s.ctxAt(s.now.Add(3 * time.Hour)))
	s.Require().NoError(err)
	s.Equal(2, removed)
}
