// Package service mints certificate tags for production batches. Each tag
// gets a random identity and two HKDF-derived pattern secrets: the guilloche
// and border secrets seed the printed underlay for that single tag. Only
// digests of the secrets are retained.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"skern/internal/audit"
	certmodels "skern/internal/certificate/models"
	"skern/internal/platform/config"
	"skern/internal/tag/models"
	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"
	"skern/pkg/requestcontext"
)

// Registry is the certificate registration port, satisfied by the
// certificate service.
type Registry interface {
	Register(ctx context.Context, cert *certmodels.Certificate) error
}

// TagStore persists issued-tag records.
type TagStore interface {
	Create(ctx context.Context, tag *models.TagRecord) error
	Get(ctx context.Context, certID id.CertificateID) (*models.TagRecord, error)
	ListByBatch(ctx context.Context, batch id.BatchCode) ([]*models.TagRecord, error)
}

// IssuedTag is one minted tag with its transient pattern secrets. Secrets are
// returned to the caller for print rendering and exist nowhere else.
type IssuedTag struct {
	Record          *models.TagRecord
	GuillocheSecret []byte
	BorderSecret    []byte
}

type Service struct {
	registry Registry
	tags     TagStore
	cfg      config.IssuanceConfig
	logger   *slog.Logger
	auditor  audit.Publisher
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

func New(registry Registry, tags TagStore, cfg config.IssuanceConfig, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, errors.New("certificate registry is required")
	}
	if tags == nil {
		return nil, errors.New("tag store is required")
	}
	if cfg.MasterSecret == "" {
		return nil, errors.New("issuance master secret is required")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, errors.New("max batch size must be positive")
	}

	svc := &Service{registry: registry, tags: tags, cfg: cfg, auditor: audit.NopPublisher{}}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// IssueBatch mints count tags for the batch, registering each certificate and
// its tag record. Partial success returns what was minted: a registered
// certificate is a physical tag already queued for printing.
func (s *Service) IssueBatch(ctx context.Context, batch id.BatchCode, productName string, count int) ([]*IssuedTag, error) {
	if count <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "count must be positive")
	}
	if count > s.cfg.MaxBatchSize {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("count exceeds batch ceiling of %d", s.cfg.MaxBatchSize))
	}

	now := requestcontext.Now(ctx)
	issued := make([]*IssuedTag, 0, count)

	for i := 0; i < count; i++ {
		tag, err := s.mintOne(ctx, batch, productName, now)
		if err != nil {
			return issued, err
		}
		issued = append(issued, tag)

		s.auditor.Publish(ctx, audit.Event{
			Type:          audit.EventCertificateIssued,
			OccurredAt:    now,
			CertificateID: tag.Record.CertificateID,
		})
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "batch issued",
			"batch_code", batch.String(),
			"issued", len(issued),
		)
	}
	return issued, nil
}

// GetTag returns the issued-tag record for one certificate.
func (s *Service) GetTag(ctx context.Context, certID id.CertificateID) (*models.TagRecord, error) {
	tag, err := s.tags.Get(ctx, certID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to get tag record")
	}
	return tag, nil
}

// VerifyURL renders the payload encoded into the tag's QR code.
func VerifyURL(certID id.CertificateID) string {
	return "https://skern.com/verify?id=" + certID.String()
}

func (s *Service) mintOne(ctx context.Context, batch id.BatchCode, productName string, now time.Time) (*IssuedTag, error) {
	certID, serial, seed, err := randomIdentity(batch)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint tag identity")
	}

	guilloche, border, err := s.deriveSecrets(batch, seed)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive pattern secrets")
	}

	cert, err := certmodels.NewCertificate(certID, serial, productName, now)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Register(ctx, cert); err != nil {
		return nil, err
	}

	record, err := models.NewTagRecord(certID, serial, digest(guilloche), digest(border), VerifyURL(certID), now)
	if err != nil {
		return nil, err
	}
	if err := s.tags.Create(ctx, record); err != nil {
		return nil, err
	}

	return &IssuedTag{Record: record, GuillocheSecret: guilloche, BorderSecret: border}, nil
}

// randomIdentity mints the certificate id and serial from fresh randomness.
// The id hex is the truncated sha256 of a 16-byte seed, so the seed never
// appears on the printed tag.
func randomIdentity(batch id.BatchCode) (id.CertificateID, id.SerialNumber, []byte, error) {
	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return "", "", nil, fmt.Errorf("read tag seed: %w", err)
	}
	sum := sha256.Sum256(seed)

	certHex := strings.ToUpper(hex.EncodeToString(sum[:6]))
	serialHex := strings.ToUpper(hex.EncodeToString(sum[6:12]))

	certID, err := id.ParseCertificateID(fmt.Sprintf("CERT-%s-%s", batch, certHex))
	if err != nil {
		return "", "", nil, err
	}
	serial, err := id.ParseSerialNumber("SK-" + serialHex)
	if err != nil {
		return "", "", nil, err
	}
	return certID, serial, seed, nil
}

// deriveSecrets expands the batch master key and the tag seed into the two
// 16-byte pattern secrets.
func (s *Service) deriveSecrets(batch id.BatchCode, seed []byte) (guilloche, border []byte, err error) {
	salt := sha256.Sum256([]byte("skern-batch:" + batch.String()))
	kdf := hkdf.New(sha256.New, append([]byte(s.cfg.MasterSecret), seed...), salt[:], []byte("tag-pattern"))

	guilloche = make([]byte, 16)
	border = make([]byte, 16)
	if _, err := io.ReadFull(kdf, guilloche); err != nil {
		return nil, nil, fmt.Errorf("expand guilloche secret: %w", err)
	}
	if _, err := io.ReadFull(kdf, border); err != nil {
		return nil, nil, fmt.Errorf("expand border secret: %w", err)
	}
	return guilloche, border, nil
}

func digest(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])
}
