package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"skern/internal/certificate/models"
	verification "skern/internal/verification/models"
	id "skern/pkg/domain"
	"skern/pkg/platform/sentinel"
)

type CertStoreSuite struct {
	suite.Suite
	store *InMemoryCertificateStore
	ctx   context.Context
	now   time.Time
}

func (s *CertStoreSuite) SetupTest() {
	s.store = NewMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

func TestCertStoreSuite(t *testing.T) {
	suite.Run(t, new(CertStoreSuite))
}

func (s *CertStoreSuite) newCert(certID string, issuedAt time.Time) *models.Certificate {
	cert, err := models.NewCertificate(id.CertificateID(certID), id.SerialNumber("SK-3F9C02D1AB44"), "Denim Jacket", issuedAt)
	s.Require().NoError(err)
	return cert
}

func (s *CertStoreSuite) TestCreateAndGet() {
	cert := s.newCert("CERT-B26A001-3F9C02D1AB44", s.now)

	s.Run("create then get round-trips", func() {
		s.Require().NoError(s.store.Create(s.ctx, cert))
		got, err := s.store.Get(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal(cert.ID, got.ID)
		s.Equal(models.StatusActive, got.Status)
	})

	s.Run("duplicate create conflicts", func() {
		s.ErrorIs(s.store.Create(s.ctx, cert), sentinel.ErrConflict)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.Get(s.ctx, id.CertificateID("CERT-B26A001-000000000000"))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("get returns a copy", func() {
		got, err := s.store.Get(s.ctx, cert.ID)
		s.Require().NoError(err)
		got.Status = models.StatusRevoked

		again, err := s.store.Get(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusActive, again.Status)
	})
}

func (s *CertStoreSuite) TestRecordScan() {
	cert := s.newCert("CERT-B26A001-3F9C02D1AB44", s.now)
	s.Require().NoError(s.store.Create(s.ctx, cert))

	first := verification.ScanOrigin{Timestamp: s.now, Lat: -26.2041, Lon: 28.0473}
	second := verification.ScanOrigin{Timestamp: s.now.Add(time.Hour), Lat: -33.9249, Lon: 18.4241}

	s.Run("first scan sets both origins", func() {
		got, err := s.store.RecordScanAtomic(s.ctx, cert.ID, first, nil)
		s.Require().NoError(err)
		s.Require().NotNil(got.FirstScanOrigin)
		s.Equal(first, *got.FirstScanOrigin)
		s.Equal(first, *got.LastScanOrigin)
		s.Equal(1, got.AcceptedScans)
	})

	s.Run("later scans never overwrite the first origin", func() {
		got, err := s.store.RecordScanAtomic(s.ctx, cert.ID, second, &first)
		s.Require().NoError(err)
		s.Equal(first, *got.FirstScanOrigin)
		s.Equal(second, *got.LastScanOrigin)
		s.Equal(2, got.AcceptedScans)
	})

	s.Run("write against a moved last origin is stale", func() {
		_, err := s.store.RecordScanAtomic(s.ctx, cert.ID, first, &first)
		s.ErrorIs(err, sentinel.ErrStale)

		_, err = s.store.RecordScanAtomic(s.ctx, cert.ID, first, nil)
		s.ErrorIs(err, sentinel.ErrStale)

		got, err := s.store.Get(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal(2, got.AcceptedScans, "stale writes must not count")
		s.Equal(second, *got.LastScanOrigin)
	})

	s.Run("unknown certificate is not found", func() {
		_, err := s.store.RecordScanAtomic(s.ctx, id.CertificateID("CERT-B26A001-000000000000"), first, nil)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *CertStoreSuite) TestSetStatus() {
	cert := s.newCert("CERT-B26A001-3F9C02D1AB44", s.now)
	s.Require().NoError(s.store.Create(s.ctx, cert))

	s.Require().NoError(s.store.SetStatus(s.ctx, cert.ID, models.StatusRevoked))
	got, err := s.store.Get(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, got.Status)

	s.ErrorIs(s.store.SetStatus(s.ctx, id.CertificateID("CERT-B26A001-000000000000"), models.StatusRevoked), sentinel.ErrNotFound)
}

func (s *CertStoreSuite) TestListByBatch() {
	older := s.newCert("CERT-B26A001-AAAAAAAAAAAA", s.now)
	newer := s.newCert("CERT-B26A001-BBBBBBBBBBBB", s.now.Add(time.Minute))
	other := s.newCert("CERT-B26B002-CCCCCCCCCCCC", s.now)
	for _, c := range []*models.Certificate{newer, older, other} {
		s.Require().NoError(s.store.Create(s.ctx, c))
	}

	certs, err := s.store.ListByBatch(s.ctx, id.BatchCode("B26A001"))
	s.Require().NoError(err)
	s.Require().Len(certs, 2)
	s.Equal(older.ID, certs[0].ID, "issued-at order")
	s.Equal(newer.ID, certs[1].ID)
}
