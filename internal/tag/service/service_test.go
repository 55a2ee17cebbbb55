package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"skern/internal/audit"
	certmodels "skern/internal/certificate/models"
	certservice "skern/internal/certificate/service"
	certstore "skern/internal/certificate/store"
	"skern/internal/platform/config"
	tagstore "skern/internal/tag/store"
	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"
	"skern/pkg/requestcontext"
)

type TagServiceSuite struct {
	suite.Suite
	svc     *Service
	certs   *certservice.Service
	auditor *audit.InMemoryPublisher
	ctx     context.Context
}

func (s *TagServiceSuite) SetupTest() {
	certs, err := certservice.New(certstore.NewMemory())
	s.Require().NoError(err)
	s.certs = certs
	s.auditor = audit.NewInMemoryPublisher()

	svc, err := New(certs, tagstore.NewMemory(), testIssuanceConfig(), WithAuditPublisher(s.auditor))
	s.Require().NoError(err)
	s.svc = svc

	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
}

func TestTagServiceSuite(t *testing.T) {
	suite.Run(t, new(TagServiceSuite))
}

func testIssuanceConfig() config.IssuanceConfig {
	return config.IssuanceConfig{
		MasterSecret: "test-master-secret",
		APIToken:     "test-issuer-token",
		MaxBatchSize: 10,
	}
}

const testBatch = id.BatchCode("B26A001")

func (s *TagServiceSuite) TestNewValidation() {
	_, err := New(nil, tagstore.NewMemory(), testIssuanceConfig())
	s.Error(err)

	_, err = New(s.certs, nil, testIssuanceConfig())
	s.Error(err)

	cfg := testIssuanceConfig()
	cfg.MasterSecret = ""
	_, err = New(s.certs, tagstore.NewMemory(), cfg)
	s.Error(err)

	cfg = testIssuanceConfig()
	cfg.MaxBatchSize = 0
	_, err = New(s.certs, tagstore.NewMemory(), cfg)
	s.Error(err)
}

func (s *TagServiceSuite) TestIssueBatch() {
	issued, err := s.svc.IssueBatch(s.ctx, testBatch, "Denim Jacket", 3)
	s.Require().NoError(err)
	s.Require().Len(issued, 3)

	s.Run("identities parse and belong to the batch", func() {
		for _, tag := range issued {
			_, err := id.ParseCertificateID(tag.Record.CertificateID.String())
			s.NoError(err)
			_, err = id.ParseSerialNumber(tag.Record.SerialNumber.String())
			s.NoError(err)
			s.Equal(testBatch, tag.Record.BatchCode)
		}
	})

	s.Run("secrets are distinct and only digests are stored", func() {
		s.Len(issued[0].GuillocheSecret, 16)
		s.Len(issued[0].BorderSecret, 16)
		s.NotEqual(issued[0].GuillocheSecret, issued[0].BorderSecret)
		s.NotEqual(issued[0].GuillocheSecret, issued[1].GuillocheSecret)

		s.Len(issued[0].Record.GuillocheDigest, 64)
		s.Len(issued[0].Record.BorderDigest, 64)
		s.NotEqual(issued[0].Record.GuillocheDigest, issued[0].Record.BorderDigest)
	})

	s.Run("each certificate lands in the registry", func() {
		cert, err := s.certs.Get(s.ctx, issued[0].Record.CertificateID)
		s.Require().NoError(err)
		s.Equal(certmodels.StatusActive, cert.Status)
		s.Equal("Denim Jacket", cert.ProductName)
	})

	s.Run("tag records resolve with the verify URL", func() {
		tag, err := s.svc.GetTag(s.ctx, issued[1].Record.CertificateID)
		s.Require().NoError(err)
		s.Equal(VerifyURL(issued[1].Record.CertificateID), tag.VerifyURL)
	})

	s.Run("every mint publishes an audit event", func() {
		events := s.auditor.EventsOfType(audit.EventCertificateIssued)
		s.Len(events, 3)
		s.Equal(issued[0].Record.CertificateID, events[0].CertificateID)
	})
}

func (s *TagServiceSuite) TestIssueBatchLimits() {
	s.Run("zero count is invalid", func() {
		_, err := s.svc.IssueBatch(s.ctx, testBatch, "Denim Jacket", 0)
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})

	s.Run("count above the ceiling is invalid", func() {
		_, err := s.svc.IssueBatch(s.ctx, testBatch, "Denim Jacket", 11)
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})
}

// failAfterRegistry admits n registrations, then conflicts.
type failAfterRegistry struct {
	inner Registry
	left  int
}

func (r *failAfterRegistry) Register(ctx context.Context, cert *certmodels.Certificate) error {
	if r.left <= 0 {
		return dErrors.New(dErrors.CodeConflict, "certificate already exists")
	}
	r.left--
	return r.inner.Register(ctx, cert)
}

func (s *TagServiceSuite) TestIssueBatchPartialSuccess() {
	// Registered certificates are physical tags already queued for printing;
	// a mid-batch failure must return what was minted so far.
	svc, err := New(&failAfterRegistry{inner: s.certs, left: 2}, tagstore.NewMemory(), testIssuanceConfig())
	s.Require().NoError(err)

	issued, err := svc.IssueBatch(s.ctx, testBatch, "Denim Jacket", 5)
	s.Require().Error(err)
	s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))
	s.Len(issued, 2)
}
