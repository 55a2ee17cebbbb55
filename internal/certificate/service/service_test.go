package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"skern/internal/certificate/models"
	"skern/internal/certificate/store"
	verification "skern/internal/verification/models"
	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"
	"skern/pkg/platform/sentinel"
)

type CertServiceSuite struct {
	suite.Suite
	svc *Service
	ctx context.Context
	now time.Time
}

func (s *CertServiceSuite) SetupTest() {
	svc, err := New(store.NewMemory())
	s.Require().NoError(err)
	s.svc = svc
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

func TestCertServiceSuite(t *testing.T) {
	suite.Run(t, new(CertServiceSuite))
}

func (s *CertServiceSuite) register(certID string) *models.Certificate {
	cert, err := models.NewCertificate(id.CertificateID(certID), id.SerialNumber("SK-3F9C02D1AB44"), "Denim Jacket", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.svc.Register(s.ctx, cert))
	return cert
}

func (s *CertServiceSuite) TestNewRequiresStore() {
	_, err := New(nil)
	s.Error(err)
}

func (s *CertServiceSuite) TestGet() {
	cert := s.register("CERT-B26A001-3F9C02D1AB44")

	s.Run("known certificate resolves", func() {
		got, err := s.svc.Get(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal(cert.ID, got.ID)
	})

	s.Run("unknown certificate maps to a not-found code", func() {
		_, err := s.svc.Get(s.ctx, id.CertificateID("CERT-B26A001-000000000000"))
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})
}

func (s *CertServiceSuite) TestRegister() {
	cert := s.register("CERT-B26A001-3F9C02D1AB44")

	s.Run("duplicate registration conflicts", func() {
		err := s.svc.Register(s.ctx, cert)
		s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))
	})

	s.Run("nil certificate is invalid input", func() {
		err := s.svc.Register(s.ctx, nil)
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})
}

func (s *CertServiceSuite) TestRecordAcceptedScan() {
	cert := s.register("CERT-B26A001-3F9C02D1AB44")
	origin := verification.ScanOrigin{Timestamp: s.now, Lat: -26.2041, Lon: 28.0473}

	got, err := s.svc.RecordAcceptedScan(s.ctx, cert.ID, origin, nil)
	s.Require().NoError(err)
	s.Equal(1, got.AcceptedScans)
	s.Require().NotNil(got.FirstScanOrigin)

	_, err = s.svc.RecordAcceptedScan(s.ctx, id.CertificateID("CERT-B26A001-000000000000"), origin, nil)
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
}

func (s *CertServiceSuite) TestRecordAcceptedScanStalePassesThrough() {
	cert := s.register("CERT-B26A001-3F9C02D1AB44")
	origin := verification.ScanOrigin{Timestamp: s.now, Lat: -26.2041, Lon: 28.0473}

	_, err := s.svc.RecordAcceptedScan(s.ctx, cert.ID, origin, nil)
	s.Require().NoError(err)

	// The orchestrator retries on ErrStale, so it must come back unwrapped.
	later := verification.ScanOrigin{Timestamp: s.now.Add(time.Hour), Lat: -33.9249, Lon: 18.4241}
	_, err = s.svc.RecordAcceptedScan(s.ctx, cert.ID, later, nil)
	s.ErrorIs(err, sentinel.ErrStale)
}

func (s *CertServiceSuite) TestRevoke() {
	cert := s.register("CERT-B26A001-3F9C02D1AB44")

	s.Require().NoError(s.svc.Revoke(s.ctx, cert.ID))
	got, err := s.svc.Get(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, got.Status)

	err = s.svc.Revoke(s.ctx, id.CertificateID("CERT-B26A001-000000000000"))
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
}

func (s *CertServiceSuite) TestListByBatch() {
	s.register("CERT-B26A001-AAAAAAAAAAAA")
	s.register("CERT-B26A001-BBBBBBBBBBBB")

	certs, err := s.svc.ListByBatch(s.ctx, id.BatchCode("B26A001"))
	s.Require().NoError(err)
	s.Len(certs, 2)
}
